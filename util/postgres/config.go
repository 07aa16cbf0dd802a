package postgres

import (
	"fmt"
	"strings"
)

// Config holds PostgreSQL database connection configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
}

// DefaultConfig returns a default configuration for local development
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "netmon",
		Password: "netmon",
		Database: "netmon",
		SSLMode:  "disable",
	}
}

// ConnectionString returns a PostgreSQL key/value connection string.
// Values with spaces, quotes or backslashes are single-quoted.
func (c *Config) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteValue(c.Host), c.Port, quoteValue(c.User), quoteValue(c.Password),
		quoteValue(c.Database), quoteValue(c.SSLMode))
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return nil
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
