package history

import (
	"fmt"
	"sync"
	"testing"

	netmon_pb "github.com/xiaonanln/netmon/proto"
)

func record(i int) *netmon_pb.NodeMetrics {
	return &netmon_pb.NodeMetrics{
		NodeId:    fmt.Sprintf("node-%d", i%3),
		Timestamp: int64(i),
		Flags:     []string{"UP"},
	}
}

func TestNew_DefaultCapacity(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		want     int
	}{
		{"positive", 5, 5},
		{"zero defaults", 0, DefaultCapacity},
		{"negative defaults", -1, DefaultCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.capacity).Cap(); got != tt.want {
				t.Fatalf("New(%d).Cap() = %d, want %d", tt.capacity, got, tt.want)
			}
		})
	}
}

func TestAppendEvictsOldestFirst(t *testing.T) {
	const capacity = 10
	b := New(capacity)

	evictions := 0
	for i := 0; i < capacity+5; i++ {
		if b.Append(record(i)) {
			evictions++
		}
	}

	if b.Len() != capacity {
		t.Fatalf("Len() = %d, want %d", b.Len(), capacity)
	}
	if evictions != 5 {
		t.Fatalf("evictions = %d, want 5", evictions)
	}

	all := b.Snapshot()
	if len(all) != capacity {
		t.Fatalf("Snapshot has %d records, want %d", len(all), capacity)
	}
	for i, m := range all {
		if want := int64(i + 5); m.Timestamp != want {
			t.Fatalf("Snapshot[%d].Timestamp = %d, want %d", i, m.Timestamp, want)
		}
	}
}

func TestRecent(t *testing.T) {
	b := New(4)
	for i := 0; i < 6; i++ {
		b.Append(record(i))
	}

	tests := []struct {
		k    int
		want []int64
	}{
		{0, []int64{}},
		{1, []int64{5}},
		{3, []int64{3, 4, 5}},
		{4, []int64{2, 3, 4, 5}},
		{10, []int64{2, 3, 4, 5}},
		{-1, []int64{2, 3, 4, 5}},
	}
	for _, tt := range tests {
		got := b.Recent(tt.k)
		if len(got) != len(tt.want) {
			t.Fatalf("Recent(%d) returned %d records, want %d", tt.k, len(got), len(tt.want))
		}
		for i := range got {
			if got[i].Timestamp != tt.want[i] {
				t.Fatalf("Recent(%d)[%d] = %d, want %d", tt.k, i, got[i].Timestamp, tt.want[i])
			}
		}
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	b := New(2)
	in := record(1)
	b.Append(in)

	// Mutating the caller's record after Append must not reach the buffer.
	in.Flags[0] = "DOWN"
	snap := b.Snapshot()
	if snap[0].Flags[0] != "UP" {
		t.Fatalf("buffer aliases appended record: %v", snap[0].Flags)
	}

	// Mutating a snapshot must not reach the buffer either.
	snap[0].Flags[0] = "DOWN"
	if again := b.Snapshot(); again[0].Flags[0] != "UP" {
		t.Fatalf("buffer aliases snapshot: %v", again[0].Flags)
	}
}

func TestEmptyBuffer(t *testing.T) {
	b := New(3)
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", b.Len())
	}
	if got := b.Snapshot(); len(got) != 0 {
		t.Fatalf("Snapshot() = %v, want empty", got)
	}
}

func TestConcurrentAppend(t *testing.T) {
	const capacity = 50
	b := New(capacity)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Append(record(g*100 + i))
				_ = b.Recent(5)
			}
		}(g)
	}
	wg.Wait()

	if b.Len() != capacity {
		t.Fatalf("Len() = %d, want %d", b.Len(), capacity)
	}
	for i, m := range b.Snapshot() {
		if m == nil {
			t.Fatalf("Snapshot[%d] is nil", i)
		}
	}
}
