// Package presence tracks which nodes are online and how long each has been
// down across reconnects.
//
// All state lives inside a Tracker behind a single mutex. Callers only see
// NodeStatus copies, never the stored entries.
package presence

import (
	"sort"
	"sync"
	"time"
)

// NodeStatus is an immutable copy of one node's presence.
type NodeStatus struct {
	NodeID string
	Online bool
	// LastSeen is when the last record arrived; zero if the node never connected.
	LastSeen time.Time
	// LastDisconnected is zero while online and for nodes that never disconnected.
	LastDisconnected time.Time
	// TotalDowntime includes the in-progress offline interval, if any, as of
	// the snapshot time.
	TotalDowntime time.Duration
}

// NeverConnected reports whether no record was ever received from the node.
func (s NodeStatus) NeverConnected() bool {
	return s.LastSeen.IsZero()
}

// DownFor returns how long an offline node has been disconnected, or 0.
func (s NodeStatus) DownFor(now time.Time) time.Duration {
	if s.Online || s.LastDisconnected.IsZero() {
		return 0
	}
	return sinceClamped(now, s.LastDisconnected)
}

// Snapshotter is implemented by Tracker; observers depend on it instead of
// the concrete type.
type Snapshotter interface {
	Snapshot(now time.Time) []NodeStatus
}

type nodeConnection struct {
	lastSeen         time.Time
	lastDisconnected time.Time
	online           bool
	downtime         time.Duration
}

// Tracker owns the node id -> connection state map.
type Tracker struct {
	mu    sync.Mutex
	nodes map[string]*nodeConnection
}

func NewTracker() *Tracker {
	return &Tracker{
		nodes: make(map[string]*nodeConnection),
	}
}

// Register declares a node that is expected to report. It shows up in
// snapshots as never connected until its first record arrives. Registering
// a known node does nothing.
func (t *Tracker) Register(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[nodeID]; !ok {
		t.nodes[nodeID] = &nodeConnection{}
	}
}

// RecordSeen marks nodeID online at now. When the node comes back from a
// disconnect, the offline interval is added to its downtime; reconnected is
// true and downtime is that interval.
func (t *Tracker) RecordSeen(nodeID string, now time.Time) (reconnected bool, downtime time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nc, ok := t.nodes[nodeID]
	if !ok {
		nc = &nodeConnection{}
		t.nodes[nodeID] = nc
	}

	if !nc.online {
		nc.online = true
		if !nc.lastDisconnected.IsZero() {
			downtime = sinceClamped(now, nc.lastDisconnected)
			nc.downtime += downtime
			nc.lastDisconnected = time.Time{}
			reconnected = true
		}
	}
	nc.lastSeen = now
	return reconnected, downtime
}

// RecordDisconnected marks nodeID offline as of now. Unknown nodes are ignored.
func (t *Tracker) RecordDisconnected(nodeID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nc, ok := t.nodes[nodeID]
	if !ok {
		return
	}
	nc.online = false
	nc.lastDisconnected = now
}

// Snapshot copies every entry, sorted by node id. Offline nodes report their
// downtime including the interval since they disconnected.
func (t *Tracker) Snapshot(now time.Time) []NodeStatus {
	t.mu.Lock()
	out := make([]NodeStatus, 0, len(t.nodes))
	for id, nc := range t.nodes {
		s := NodeStatus{
			NodeID:           id,
			Online:           nc.online,
			LastSeen:         nc.lastSeen,
			LastDisconnected: nc.lastDisconnected,
			TotalDowntime:    nc.downtime,
		}
		s.TotalDowntime += s.DownFor(now)
		out = append(out, s)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func sinceClamped(now, then time.Time) time.Duration {
	if d := now.Sub(then); d > 0 {
		return d
	}
	return 0
}
