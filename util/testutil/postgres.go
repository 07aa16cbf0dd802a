package testutil

import (
	"context"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/xiaonanln/netmon/util/postgres"
)

var invalidDBNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// sanitizeDBName turns a test name into a valid PostgreSQL database name:
// at most 63 lowercase letters, digits and underscores, not starting with a digit.
func sanitizeDBName(testName string) string {
	name := strings.ToLower(invalidDBNameChars.ReplaceAllString(testName, "_"))
	if len(name) > 0 && name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

func adminConfig() *postgres.Config {
	host := os.Getenv("NETMON_TEST_PG_HOST")
	if host == "" {
		host = "localhost"
	}
	return &postgres.Config{
		Host:     host,
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "postgres",
		SSLMode:  "disable",
	}
}

// CreateTestDatabase creates a fresh database named after the test and drops
// it when the test completes. The test is skipped when PostgreSQL is not
// reachable.
func CreateTestDatabase(t *testing.T) *postgres.DB {
	t.Helper()

	admin := adminConfig()
	adminDB, err := postgres.NewDB(admin)
	if err != nil {
		t.Skipf("Skipping test - PostgreSQL not available: %v", err)
		return nil
	}
	defer adminDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := adminDB.Ping(ctx); err != nil {
		t.Skipf("Skipping test - PostgreSQL not available: %v", err)
		return nil
	}

	dbName := sanitizeDBName(t.Name())
	quoted := pq.QuoteIdentifier(dbName)
	_, _ = adminDB.Connection().ExecContext(ctx, "DROP DATABASE IF EXISTS "+quoted+" WITH (FORCE)")
	if _, err := adminDB.Connection().ExecContext(ctx, "CREATE DATABASE "+quoted); err != nil {
		t.Skipf("Failed to create test database: %v", err)
		return nil
	}

	testConfig := *admin
	testConfig.Database = dbName
	db, err := postgres.NewDB(&testConfig)
	if err != nil {
		t.Skipf("Skipping test - Failed to connect to test database: %v", err)
		return nil
	}

	t.Cleanup(func() {
		db.Close()

		cleanupDB, err := postgres.NewDB(admin)
		if err != nil {
			t.Logf("Warning: Failed to connect for cleanup: %v", err)
			return
		}
		defer cleanupDB.Close()

		if _, err := cleanupDB.Connection().ExecContext(context.Background(), "DROP DATABASE IF EXISTS "+quoted+" WITH (FORCE)"); err != nil {
			t.Logf("Warning: Failed to drop test database: %v", err)
		}
	})

	return db
}
