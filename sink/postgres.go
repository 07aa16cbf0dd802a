package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaonanln/netmon/presence"
	"github.com/xiaonanln/netmon/util/postgres"
)

// PostgresSink upserts presence into the netmon_node_presence table.
type PostgresSink struct {
	db *postgres.DB
}

// NewPostgresSink connects and creates the schema if needed.
func NewPostgresSink(ctx context.Context, config *postgres.Config) (*PostgresSink, error) {
	db, err := postgres.NewDB(config)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Name() string {
	return "postgres"
}

func (s *PostgresSink) Write(ctx context.Context, snapshot []presence.NodeStatus) error {
	return s.db.UpsertPresence(ctx, presenceRows(snapshot))
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func presenceRows(snapshot []presence.NodeStatus) []postgres.PresenceRow {
	rows := make([]postgres.PresenceRow, 0, len(snapshot))
	for _, st := range snapshot {
		rows = append(rows, postgres.PresenceRow{
			NodeID:               st.NodeID,
			Online:               st.Online,
			TotalDowntimeSeconds: int64(st.TotalDowntime / time.Second),
			LastSeen:             st.LastSeen,
			LastDisconnected:     st.LastDisconnected,
		})
	}
	return rows
}
