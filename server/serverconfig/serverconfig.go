// Package serverconfig handles command-line flags and config file loading
// for the netmon server process, returning a ServerConfig.
package serverconfig

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xiaonanln/netmon/config"
	"github.com/xiaonanln/netmon/server"
)

const (
	DefaultListenAddr     = config.DefaultListenAddr
	DefaultHistory        = config.DefaultHistoryCapacity
	DefaultReportInterval = config.DefaultReportInterval
	DefaultLogLevel       = config.DefaultLogLevel
)

// Loader handles parsing of command-line flags and config file loading.
// It can be instantiated with a custom FlagSet for testing.
type Loader struct {
	fs             *flag.FlagSet
	configPath     *string
	listenAddr     *string
	httpListenAddr *string
	history        *int
	reportInterval *time.Duration
	statusFile     *string
	expectedNodes  *string
	logLevel       *string

	resolvedLogLevel string
}

// NewLoader creates a new Loader with flags registered on the provided FlagSet.
// If fs is nil, the default flag.CommandLine is used.
func NewLoader(fs *flag.FlagSet) *Loader {
	if fs == nil {
		fs = flag.CommandLine
	}
	l := &Loader{fs: fs}
	l.configPath = fs.String("config", "", "Path to YAML config file")
	l.listenAddr = fs.String("listen", DefaultListenAddr, "gRPC listen address (cannot be used with --config)")
	l.httpListenAddr = fs.String("http-listen", "", "HTTP listen address for the inspection API and metrics (cannot be used with --config)")
	l.history = fs.Int("history", DefaultHistory, "Number of metric records kept in memory (cannot be used with --config)")
	l.reportInterval = fs.Duration("report-interval", DefaultReportInterval, "Interval between node status reports (cannot be used with --config)")
	l.statusFile = fs.String("status-file", "", "Write node presence to this JSON file (cannot be used with --config)")
	l.expectedNodes = fs.String("expected-nodes", "", "Comma separated node ids reported as never connected until they stream (cannot be used with --config)")
	l.logLevel = fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warn, error (cannot be used with --config)")
	return l
}

// Load parses the flags (if not already parsed) and returns a ServerConfig.
// When --config is provided, every other flag is forbidden.
// Returns an error if configuration is invalid.
func (l *Loader) Load(args []string) (*server.ServerConfig, error) {
	if !l.fs.Parsed() {
		if err := l.fs.Parse(args); err != nil {
			return nil, fmt.Errorf("failed to parse flags: %w", err)
		}
	}

	if *l.configPath != "" {
		var conflict string
		l.fs.Visit(func(f *flag.Flag) {
			if f.Name != "config" && conflict == "" {
				conflict = f.Name
			}
		})
		if conflict != "" {
			return nil, fmt.Errorf("--%s cannot be used with --config; configure in config file instead", conflict)
		}

		cfg, err := config.LoadConfig(*l.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		l.resolvedLogLevel = cfg.Server.LogLevel
		return FromConfig(cfg), nil
	}

	// CLI-only mode: use flag values
	if *l.history <= 0 {
		return nil, fmt.Errorf("--history must be positive")
	}
	if *l.reportInterval <= 0 {
		return nil, fmt.Errorf("--report-interval must be positive")
	}
	l.resolvedLogLevel = *l.logLevel

	return &server.ServerConfig{
		ListenAddress:     *l.listenAddr,
		HTTPListenAddress: *l.httpListenAddr,
		HistoryCapacity:   *l.history,
		ReportInterval:    *l.reportInterval,
		StatusFile:        *l.statusFile,
		ExpectedNodes:     splitNodes(*l.expectedNodes),
	}, nil
}

// FromConfig maps a validated config file onto a ServerConfig.
func FromConfig(cfg *config.Config) *server.ServerConfig {
	sc := &server.ServerConfig{
		ListenAddress:     cfg.Server.ListenAddr,
		HTTPListenAddress: cfg.Server.HTTPAddr,
		MaxMessageBytes:   cfg.Server.MaxMessageBytes,
		HistoryCapacity:   cfg.Server.HistoryCapacity,
		ReportInterval:    cfg.Server.ReportInterval,
		PublishInterval:   cfg.Server.PublishInterval,
		ExpectedNodes:     cfg.ExpectedNodes,
		StatusFile:        cfg.Sinks.File.Path,
	}
	if cfg.PostgresEnabled() {
		sc.Postgres = cfg.Sinks.Postgres.ToPostgres()
	}
	if cfg.EtcdEnabled() {
		sc.EtcdEndpoints = cfg.Sinks.Etcd.Endpoints
		sc.EtcdPrefix = cfg.Sinks.Etcd.Prefix
		sc.EtcdLeaseTTL = cfg.Sinks.Etcd.LeaseTTL
	}
	return sc
}

func splitNodes(s string) []string {
	var nodes []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			nodes = append(nodes, id)
		}
	}
	return nodes
}

// GetLogLevel returns the log level after Load() has been called.
func (l *Loader) GetLogLevel() string {
	return l.resolvedLogLevel
}

// Get is a convenience function that creates a Loader with default flags,
// parses os.Args[1:], and returns the ServerConfig and log level.
// It panics on error.
func Get() (*server.ServerConfig, string) {
	loader := NewLoader(nil)
	cfg, err := loader.Load(os.Args[1:])
	if err != nil {
		panic(fmt.Sprintf("Failed to load server config: %v", err))
	}
	return cfg, loader.GetLogLevel()
}
