// Package sink persists presence snapshots for external consumers: a status
// file, a PostgreSQL table or etcd keys.
package sink

import (
	"context"
	"time"

	"github.com/xiaonanln/netmon/presence"
)

// Sink receives complete presence snapshots.
type Sink interface {
	Name() string
	Write(ctx context.Context, snapshot []presence.NodeStatus) error
	Close() error
}

// StatusRecord is the external shape of one node's presence, shared by the
// file and etcd sinks.
type StatusRecord struct {
	Status        string `json:"status"`
	TotalDowntime int64  `json:"total_downtime"`
	LastSeen      int64  `json:"last_seen"`
}

// NewStatusRecord converts a snapshot entry. Times are unix seconds and
// last_seen is 0 for nodes that never connected.
func NewStatusRecord(s presence.NodeStatus) StatusRecord {
	r := StatusRecord{
		Status:        "offline",
		TotalDowntime: int64(s.TotalDowntime / time.Second),
	}
	if s.Online {
		r.Status = "online"
	}
	if !s.LastSeen.IsZero() {
		r.LastSeen = s.LastSeen.Unix()
	}
	return r
}
