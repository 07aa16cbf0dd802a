package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/xiaonanln/netmon/config"
	"github.com/xiaonanln/netmon/util/postgres"
)

const (
	commandInit   = "init"
	commandVerify = "verify"
	commandReset  = "reset"
	commandStatus = "status"
	commandNodes  = "nodes"
)

// Must match util/postgres/db.go:InitSchema()
const (
	tablePresence = "netmon_node_presence"
	indexStatus   = "idx_netmon_node_presence_status"
	dropSchemaSQL = `DROP TABLE IF EXISTS netmon_node_presence CASCADE;`
)

var (
	tables  = []string{tablePresence}
	indexes = map[string][]string{
		tablePresence: {indexStatus},
	}
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to YAML configuration file")
		host       = flag.String("host", "localhost", "PostgreSQL host")
		port       = flag.Int("port", 5432, "PostgreSQL port")
		user       = flag.String("user", "netmon", "PostgreSQL user")
		password   = flag.String("password", "netmon", "PostgreSQL password")
		database   = flag.String("database", "netmon", "PostgreSQL database")
		sslmode    = flag.String("sslmode", "disable", "PostgreSQL SSL mode")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Manages the netmon presence table in PostgreSQL.\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  init     Create the presence table and indexes\n")
		fmt.Fprintf(os.Stderr, "  verify   Verify connection and schema\n")
		fmt.Fprintf(os.Stderr, "  reset    Drop and recreate the schema (WARNING: deletes all data)\n")
		fmt.Fprintf(os.Stderr, "  status   Show database status and statistics\n")
		fmt.Fprintf(os.Stderr, "  nodes    Print the stored node presence\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --config netmon.yml init\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --host localhost --user netmon --database netmon nodes\n", os.Args[0])
	}

	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Error: command required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	command := flag.Arg(0)
	if !isValidCommand(command) {
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n\n", command)
		flag.Usage()
		os.Exit(1)
	}

	var pgConfig *postgres.Config
	if *configFile != "" {
		cfg, err := config.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
			os.Exit(1)
		}
		if !cfg.PostgresEnabled() {
			fmt.Fprintf(os.Stderr, "Error: %s has no sinks.postgres section\n", *configFile)
			os.Exit(1)
		}
		pgConfig = cfg.Sinks.Postgres.ToPostgres()
	} else {
		pgConfig = &postgres.Config{
			Host:     *host,
			Port:     *port,
			User:     *user,
			Password: *password,
			Database: *database,
			SSLMode:  *sslmode,
		}
	}

	db, err := postgres.NewDB(pgConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("  Host:     %s:%d\n", pgConfig.Host, pgConfig.Port)
	fmt.Printf("  Database: %s\n", pgConfig.Database)
	fmt.Printf("  User:     %s\n\n", pgConfig.User)

	if err := executeCommand(context.Background(), command, db, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func isValidCommand(command string) bool {
	switch command {
	case commandInit, commandVerify, commandReset, commandStatus, commandNodes:
		return true
	}
	return false
}

func executeCommand(ctx context.Context, command string, db *postgres.DB, in io.Reader, out io.Writer) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	switch command {
	case commandInit:
		return initSchema(ctx, db, out)
	case commandVerify:
		return verifySchema(ctx, db, out)
	case commandReset:
		return resetSchema(ctx, db, in, out)
	case commandStatus:
		return showStatus(ctx, db, out)
	case commandNodes:
		return showNodes(ctx, db, out, time.Now())
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func initSchema(ctx context.Context, db *postgres.DB, out io.Writer) error {
	if err := db.InitSchema(ctx); err != nil {
		return err
	}
	for _, table := range tables {
		exists, err := tableExists(ctx, db, table)
		if err != nil {
			return fmt.Errorf("failed to verify table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("table '%s' was not created", table)
		}
		fmt.Fprintf(out, "✓ Table '%s' created\n", table)
	}
	fmt.Fprintln(out, "Schema initialized")
	return nil
}

func verifySchema(ctx context.Context, db *postgres.DB, out io.Writer) error {
	complete := true
	for _, table := range tables {
		exists, err := tableExists(ctx, db, table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if exists {
			fmt.Fprintf(out, "✓ Table '%s' exists\n", table)
		} else {
			fmt.Fprintf(out, "✗ Table '%s' does not exist\n", table)
			complete = false
		}
	}
	if !complete {
		fmt.Fprintln(out, "Schema is incomplete. Run 'init' to create tables.")
		return fmt.Errorf("schema verification failed")
	}

	for table, idxList := range indexes {
		for _, idx := range idxList {
			exists, err := indexExists(ctx, db, table, idx)
			if err != nil {
				return fmt.Errorf("failed to check index %s: %w", idx, err)
			}
			if exists {
				fmt.Fprintf(out, "✓ Index '%s' exists\n", idx)
			} else {
				fmt.Fprintf(out, "✗ Index '%s' does not exist\n", idx)
			}
		}
	}
	return nil
}

// resetSchema asks for confirmation on in before dropping anything.
func resetSchema(ctx context.Context, db *postgres.DB, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "WARNING: This will delete all stored node presence!")
	fmt.Fprint(out, "Are you sure you want to continue? (yes/no): ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return fmt.Errorf("failed to read input")
	}
	if strings.ToLower(strings.TrimSpace(scanner.Text())) != "yes" {
		fmt.Fprintln(out, "Operation cancelled.")
		return nil
	}

	if _, err := db.Connection().ExecContext(ctx, dropSchemaSQL); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	fmt.Fprintln(out, "✓ Dropped existing tables")

	if err := db.InitSchema(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "✓ Schema recreated")
	return nil
}

func showStatus(ctx context.Context, db *postgres.DB, out io.Writer) error {
	start := time.Now()
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	fmt.Fprintf(out, "Connection: ✓ (latency: %v)\n", time.Since(start))

	var version string
	if err := db.Connection().QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	if len(version) > 80 {
		version = version[:77] + "..."
	}
	fmt.Fprintf(out, "Version:    %s\n\n", version)

	fmt.Fprintln(out, "Tables:")
	for _, table := range tables {
		exists, err := tableExists(ctx, db, table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			fmt.Fprintf(out, "  %s: ✗ (does not exist)\n", table)
			continue
		}
		// table comes from the fixed list above
		var count int64
		if err := db.Connection().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			fmt.Fprintf(out, "  %s: ✓ (exists, unable to count rows)\n", table)
		} else {
			fmt.Fprintf(out, "  %s: ✓ (%d rows)\n", table, count)
		}
	}
	return nil
}

func showNodes(ctx context.Context, db *postgres.DB, out io.Writer, now time.Time) error {
	rows, err := db.LoadPresence(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No nodes stored.")
		return nil
	}
	fmt.Fprintf(out, "%d nodes:\n", len(rows))
	for _, row := range rows {
		fmt.Fprintln(out, formatPresenceRow(row, now))
	}
	return nil
}

func formatPresenceRow(row postgres.PresenceRow, now time.Time) string {
	switch {
	case row.Online:
		return fmt.Sprintf("  - %s online, last seen %ds ago, total downtime %ds",
			row.NodeID, int64(now.Sub(row.LastSeen).Seconds()), row.TotalDowntimeSeconds)
	case row.LastSeen.IsZero():
		return fmt.Sprintf("  - %s never connected", row.NodeID)
	default:
		return fmt.Sprintf("  - %s offline since %s, total downtime %ds",
			row.NodeID, row.LastDisconnected.UTC().Format(time.RFC3339), row.TotalDowntimeSeconds)
	}
}

func tableExists(ctx context.Context, db *postgres.DB, tableName string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)
	`
	err := db.Connection().QueryRowContext(ctx, query, tableName).Scan(&exists)
	return exists, err
}

func indexExists(ctx context.Context, db *postgres.DB, tableName, indexName string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT FROM pg_indexes
			WHERE schemaname = 'public'
			AND tablename = $1
			AND indexname = $2
		)
	`
	err := db.Connection().QueryRowContext(ctx, query, tableName, indexName).Scan(&exists)
	return exists, err
}
