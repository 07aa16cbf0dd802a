package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/xiaonanln/netmon/config"
	"gopkg.in/yaml.v3"
)

const defaultNodes = 10

// genOptions selects which optional sections the generated file carries
type genOptions struct {
	Nodes         int
	HTTPAddr      string
	StatusFile    string
	PostgresHost  string
	EtcdEndpoints []string
}

func main() {
	var (
		output     = flag.String("output", "netmon.yml", "Output file path")
		nodes      = flag.Int("nodes", defaultNodes, "Number of expected nodes (node-01, node-02, ...)")
		httpAddr   = flag.String("http", ":8080", "HTTP API address (empty disables it)")
		statusFile = flag.String("status-file", "node_status.json", "Status file path (empty disables it)")
		pgHost     = flag.String("postgres-host", "", "Enable the PostgreSQL sink on this host")
		etcd       = flag.String("etcd-endpoints", "", "Enable the etcd sink (comma-separated endpoints)")
	)
	flag.Parse()

	opts := genOptions{
		Nodes:        *nodes,
		HTTPAddr:     *httpAddr,
		StatusFile:   *statusFile,
		PostgresHost: *pgHost,
	}
	for _, ep := range strings.Split(*etcd, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			opts.EtcdEndpoints = append(opts.EtcdEndpoints, ep)
		}
	}

	if err := generateConfig(*output, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Configuration written to %s (%d expected nodes)\n", *output, opts.Nodes)
}

func nodeID(i int) string {
	return fmt.Sprintf("node-%02d", i)
}

func buildConfig(opts genOptions) (*config.Config, error) {
	if opts.Nodes < 0 {
		return nil, fmt.Errorf("nodes must be non-negative, got %d", opts.Nodes)
	}

	cfg := &config.Config{
		Version: 1,
		Server: config.ServerSection{
			ListenAddr: config.DefaultListenAddr,
			HTTPAddr:   opts.HTTPAddr,
		},
	}
	for i := 1; i <= opts.Nodes; i++ {
		cfg.ExpectedNodes = append(cfg.ExpectedNodes, nodeID(i))
	}
	cfg.Sinks.File.Path = opts.StatusFile
	if opts.PostgresHost != "" {
		cfg.Sinks.Postgres = config.PostgresConfig{
			Host:     opts.PostgresHost,
			User:     "netmon",
			Password: "netmon",
			Database: "netmon",
		}
	}
	cfg.Sinks.Etcd.Endpoints = opts.EtcdEndpoints

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("generated config is invalid: %w", err)
	}
	return cfg, nil
}

func generateConfig(path string, opts genOptions) error {
	cfg, err := buildConfig(opts)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	header := "# Generated by configgen. Edit freely.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
