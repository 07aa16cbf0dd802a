package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PresenceRow is one row of netmon_node_presence
type PresenceRow struct {
	NodeID               string
	Online               bool
	TotalDowntimeSeconds int64
	LastSeen             time.Time // zero when the node never connected
	LastDisconnected     time.Time // zero while online
	UpdatedAt            time.Time
}

// UpsertPresence writes all rows in a single transaction
func (db *DB) UpsertPresence(ctx context.Context, rows []PresenceRow) error {
	if len(rows) == 0 {
		return nil
	}
	for i, row := range rows {
		if row.NodeID == "" {
			return fmt.Errorf("row %d: node_id cannot be empty", i)
		}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO netmon_node_presence (node_id, status, total_downtime_seconds, last_seen, last_disconnected, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (node_id) DO UPDATE
		SET status = $2, total_downtime_seconds = $3, last_seen = $4, last_disconnected = $5, updated_at = $6
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, row := range rows {
		status := "offline"
		if row.Online {
			status = "online"
		}
		_, err := stmt.ExecContext(ctx, row.NodeID, status, row.TotalDowntimeSeconds,
			nullTime(row.LastSeen), nullTime(row.LastDisconnected), now)
		if err != nil {
			return fmt.Errorf("failed to upsert presence of %s: %w", row.NodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit presence: %w", err)
	}
	return nil
}

// LoadPresence returns all rows ordered by node id
func (db *DB) LoadPresence(ctx context.Context) ([]PresenceRow, error) {
	query := `
		SELECT node_id, status, total_downtime_seconds, last_seen, last_disconnected, updated_at
		FROM netmon_node_presence
		ORDER BY node_id
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence: %w", err)
	}
	defer rows.Close()

	var out []PresenceRow
	for rows.Next() {
		var row PresenceRow
		var status string
		var lastSeen, lastDisconnected sql.NullTime
		if err := rows.Scan(&row.NodeID, &status, &row.TotalDowntimeSeconds, &lastSeen, &lastDisconnected, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan presence row: %w", err)
		}
		row.Online = status == "online"
		if lastSeen.Valid {
			row.LastSeen = lastSeen.Time
		}
		if lastDisconnected.Valid {
			row.LastDisconnected = lastDisconnected.Time
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate presence rows: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
