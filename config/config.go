package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xiaonanln/netmon/util/logger"
	"github.com/xiaonanln/netmon/util/postgres"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr      = ":50051"
	DefaultMaxMessageBytes = 4 * 1024 * 1024
	DefaultHistoryCapacity = 1000
	DefaultReportInterval  = 20 * time.Second
	DefaultPublishInterval = 5 * time.Second
	DefaultLogLevel        = "info"
	DefaultEtcdPrefix      = "/netmon"
	DefaultEtcdLeaseTTL    = 60
)

// ServerSection holds the listening addresses and the in-memory limits
type ServerSection struct {
	ListenAddr      string        `yaml:"listen_addr"`
	HTTPAddr        string        `yaml:"http_addr,omitempty"` // Optional: HTTP inspection API and /metrics
	MaxMessageBytes int           `yaml:"max_message_bytes,omitempty"`
	HistoryCapacity int           `yaml:"history_capacity,omitempty"`
	ReportInterval  time.Duration `yaml:"report_interval,omitempty"`
	PublishInterval time.Duration `yaml:"publish_interval,omitempty"`
	LogLevel        string        `yaml:"log_level,omitempty"`
}

// FileSinkConfig enables the JSON status file when Path is set
type FileSinkConfig struct {
	Path string `yaml:"path,omitempty"`
}

// PostgresConfig holds PostgreSQL database connection configuration.
// The sink is enabled when Host is set.
type PostgresConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`
	SSLMode  string `yaml:"sslmode,omitempty"` // Use "require" in production
}

// EtcdConfig enables the etcd presence sink when Endpoints is not empty
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints,omitempty"`
	Prefix    string   `yaml:"prefix,omitempty"`
	LeaseTTL  int64    `yaml:"lease_ttl,omitempty"`
}

// SinksConfig lists where presence snapshots are published
type SinksConfig struct {
	File     FileSinkConfig `yaml:"file,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
	Etcd     EtcdConfig     `yaml:"etcd,omitempty"`
}

// Config is the root configuration structure
type Config struct {
	Version       int           `yaml:"version"`
	Server        ServerSection `yaml:"server"`
	ExpectedNodes []string      `yaml:"expected_nodes,omitempty"`
	Sinks         SinksConfig   `yaml:"sinks,omitempty"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, fills defaults and validates the result
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field that has a default
func (c *Config) ApplyDefaults() {
	s := &c.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.MaxMessageBytes == 0 {
		s.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if s.HistoryCapacity == 0 {
		s.HistoryCapacity = DefaultHistoryCapacity
	}
	if s.ReportInterval == 0 {
		s.ReportInterval = DefaultReportInterval
	}
	if s.PublishInterval == 0 {
		s.PublishInterval = DefaultPublishInterval
	}
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}

	if c.Sinks.Postgres.Host != "" {
		pg := &c.Sinks.Postgres
		if pg.Port == 0 {
			pg.Port = 5432
		}
		if pg.SSLMode == "" {
			pg.SSLMode = "disable"
		}
	}
	if len(c.Sinks.Etcd.Endpoints) > 0 {
		if c.Sinks.Etcd.Prefix == "" {
			c.Sinks.Etcd.Prefix = DefaultEtcdPrefix
		}
		if c.Sinks.Etcd.LeaseTTL == 0 {
			c.Sinks.Etcd.LeaseTTL = DefaultEtcdLeaseTTL
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}

	s := c.Server
	if s.MaxMessageBytes < 0 {
		return fmt.Errorf("server max_message_bytes must be positive")
	}
	if s.HistoryCapacity < 0 {
		return fmt.Errorf("server history_capacity must be positive")
	}
	if s.ReportInterval < 0 {
		return fmt.Errorf("server report_interval must be positive")
	}
	if s.PublishInterval < 0 {
		return fmt.Errorf("server publish_interval must be positive")
	}
	if _, err := logger.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("server log_level: %w", err)
	}

	// Validate expected nodes
	nodeIDs := make(map[string]bool)
	for i, id := range c.ExpectedNodes {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("expected node %d: id is required", i)
		}
		if nodeIDs[id] {
			return fmt.Errorf("duplicate expected node id: %s", id)
		}
		nodeIDs[id] = true
	}

	if c.Sinks.Postgres.Host != "" {
		if err := c.Sinks.Postgres.ToPostgres().Validate(); err != nil {
			return fmt.Errorf("postgres sink: %w", err)
		}
	}

	if etcd := c.Sinks.Etcd; len(etcd.Endpoints) > 0 {
		if !strings.HasPrefix(etcd.Prefix, "/") {
			return fmt.Errorf("etcd prefix must start with '/': %q", etcd.Prefix)
		}
		if etcd.LeaseTTL < 0 {
			return fmt.Errorf("etcd lease_ttl must be positive")
		}
	}

	return nil
}

// ToPostgres converts the YAML section into a util/postgres configuration
func (p PostgresConfig) ToPostgres() *postgres.Config {
	return &postgres.Config{
		Host:     p.Host,
		Port:     p.Port,
		User:     p.User,
		Password: p.Password,
		Database: p.Database,
		SSLMode:  p.SSLMode,
	}
}

// PostgresEnabled reports whether the Postgres sink is configured
func (c *Config) PostgresEnabled() bool {
	return c.Sinks.Postgres.Host != ""
}

// EtcdEnabled reports whether the etcd sink is configured
func (c *Config) EtcdEnabled() bool {
	return len(c.Sinks.Etcd.Endpoints) > 0
}
