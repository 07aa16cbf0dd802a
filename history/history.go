// Package history keeps a fixed-size window of the most recently received
// metric records.
package history

import (
	"sync"

	netmon_pb "github.com/xiaonanln/netmon/proto"
)

// DefaultCapacity is the number of records kept when none is configured.
const DefaultCapacity = 1000

// Buffer is a ring of NodeMetrics. Appending to a full buffer overwrites the
// oldest record, so the size can never exceed the capacity.
type Buffer struct {
	mu    sync.Mutex
	slots []*netmon_pb.NodeMetrics
	head  int // index of the oldest record
	size  int
}

// New returns an empty buffer. A non-positive capacity selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		slots: make([]*netmon_pb.NodeMetrics, capacity),
	}
}

// Append stores a copy of m, evicting the oldest record when full.
// It reports whether a record was evicted.
func (b *Buffer) Append(m *netmon_pb.NodeMetrics) (evicted bool) {
	c := m.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.slots)
	if b.size < capacity {
		b.slots[(b.head+b.size)%capacity] = c
		b.size++
		return false
	}
	b.slots[b.head] = c
	b.head = (b.head + 1) % capacity
	return true
}

// Len returns the number of stored records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.slots)
}

// Snapshot returns copies of all records, oldest first.
func (b *Buffer) Snapshot() []*netmon_pb.NodeMetrics {
	return b.Recent(-1)
}

// Recent returns copies of the k newest records, oldest first. A negative k
// returns everything.
func (b *Buffer) Recent(k int) []*netmon_pb.NodeMetrics {
	b.mu.Lock()
	if k < 0 || k > b.size {
		k = b.size
	}
	capacity := len(b.slots)
	start := b.head + b.size - k
	refs := make([]*netmon_pb.NodeMetrics, k)
	for i := 0; i < k; i++ {
		refs[i] = b.slots[(start+i)%capacity]
	}
	b.mu.Unlock()

	out := make([]*netmon_pb.NodeMetrics, k)
	for i, m := range refs {
		out[i] = m.Clone()
	}
	return out
}
