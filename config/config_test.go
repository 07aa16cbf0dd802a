package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	configContent := `
version: 1

server:
  listen_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"
  history_capacity: 500
  report_interval: 10s
  publish_interval: 2s
  log_level: debug

expected_nodes:
  - node-01
  - node-02

sinks:
  file:
    path: "/var/lib/netmon/node_status.json"
  postgres:
    host: "localhost"
    user: "netmon"
    password: "netmon"
    database: "netmon"
  etcd:
    endpoints:
      - "127.0.0.1:2379"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.ListenAddr != "0.0.0.0:50051" {
		t.Errorf("expected listen_addr 0.0.0.0:50051, got %s", cfg.Server.ListenAddr)
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("expected http_addr 0.0.0.0:8080, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Server.HistoryCapacity != 500 {
		t.Errorf("expected history_capacity 500, got %d", cfg.Server.HistoryCapacity)
	}
	if cfg.Server.ReportInterval != 10*time.Second {
		t.Errorf("expected report_interval 10s, got %v", cfg.Server.ReportInterval)
	}
	if cfg.Server.PublishInterval != 2*time.Second {
		t.Errorf("expected publish_interval 2s, got %v", cfg.Server.PublishInterval)
	}
	if cfg.Server.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Errorf("expected default max_message_bytes, got %d", cfg.Server.MaxMessageBytes)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("expected log_level debug, got %s", cfg.Server.LogLevel)
	}

	if len(cfg.ExpectedNodes) != 2 || cfg.ExpectedNodes[0] != "node-01" {
		t.Errorf("unexpected expected_nodes: %v", cfg.ExpectedNodes)
	}

	if cfg.Sinks.File.Path != "/var/lib/netmon/node_status.json" {
		t.Errorf("unexpected file sink path: %s", cfg.Sinks.File.Path)
	}

	if !cfg.PostgresEnabled() {
		t.Fatal("expected postgres sink to be enabled")
	}
	pg := cfg.Sinks.Postgres.ToPostgres()
	if pg.Port != 5432 || pg.SSLMode != "disable" || pg.Database != "netmon" {
		t.Errorf("unexpected postgres config: %+v", pg)
	}

	if !cfg.EtcdEnabled() {
		t.Fatal("expected etcd sink to be enabled")
	}
	if cfg.Sinks.Etcd.Prefix != DefaultEtcdPrefix {
		t.Errorf("expected default etcd prefix, got %s", cfg.Sinks.Etcd.Prefix)
	}
	if cfg.Sinks.Etcd.LeaseTTL != DefaultEtcdLeaseTTL {
		t.Errorf("expected default lease ttl, got %d", cfg.Sinks.Etcd.LeaseTTL)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("version: 1\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("expected default listen addr, got %s", cfg.Server.ListenAddr)
	}
	if cfg.Server.HTTPAddr != "" {
		t.Errorf("expected HTTP API disabled by default, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Server.HistoryCapacity != DefaultHistoryCapacity {
		t.Errorf("expected default history capacity, got %d", cfg.Server.HistoryCapacity)
	}
	if cfg.Server.ReportInterval != DefaultReportInterval {
		t.Errorf("expected default report interval, got %v", cfg.Server.ReportInterval)
	}
	if cfg.PostgresEnabled() || cfg.EtcdEnabled() || cfg.Sinks.File.Path != "" {
		t.Error("expected no sinks by default")
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "wrong version",
			content: "version: 2\n",
			wantErr: "unsupported config version",
		},
		{
			name:    "missing version",
			content: "server:\n  listen_addr: \":1\"\n",
			wantErr: "unsupported config version",
		},
		{
			name:    "negative history",
			content: "version: 1\nserver:\n  history_capacity: -1\n",
			wantErr: "history_capacity",
		},
		{
			name:    "bad log level",
			content: "version: 1\nserver:\n  log_level: loud\n",
			wantErr: "log_level",
		},
		{
			name:    "duplicate expected node",
			content: "version: 1\nexpected_nodes: [node-01, node-01]\n",
			wantErr: "duplicate expected node id",
		},
		{
			name:    "empty expected node",
			content: "version: 1\nexpected_nodes: [\"\"]\n",
			wantErr: "id is required",
		},
		{
			name:    "postgres without user",
			content: "version: 1\nsinks:\n  postgres:\n    host: db\n    database: netmon\n",
			wantErr: "postgres sink",
		},
		{
			name:    "relative etcd prefix",
			content: "version: 1\nsinks:\n  etcd:\n    endpoints: [\"127.0.0.1:2379\"]\n    prefix: netmon\n",
			wantErr: "etcd prefix",
		},
		{
			name:    "bad duration",
			content: "version: 1\nserver:\n  report_interval: soon\n",
			wantErr: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.content))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}
