// Package reporter periodically prints the presence of every known node.
package reporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xiaonanln/netmon/presence"
	"github.com/xiaonanln/netmon/util/logger"
	"github.com/xiaonanln/netmon/util/metrics"
)

// DefaultInterval is the time between two status reports.
const DefaultInterval = 20 * time.Second

// Render formats a snapshot as one line per node. It never fails and
// returns nil for an empty snapshot.
func Render(snapshot []presence.NodeStatus, now time.Time) []string {
	if len(snapshot) == 0 {
		return nil
	}
	lines := make([]string, 0, len(snapshot))
	for _, s := range snapshot {
		total := seconds(s.TotalDowntime)
		switch {
		case s.Online:
			lines = append(lines, fmt.Sprintf("  - %s (last seen %ds ago, ONLINE, total downtime: %ds)",
				s.NodeID, seconds(now.Sub(s.LastSeen)), total))
		case !s.LastDisconnected.IsZero():
			lines = append(lines, fmt.Sprintf("  - %s (still down, down for %ds, total downtime: %ds)",
				s.NodeID, seconds(s.DownFor(now)), total))
		default:
			lines = append(lines, fmt.Sprintf("  - %s (never connected)", s.NodeID))
		}
	}
	return lines
}

func seconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Reporter logs a presence report on a fixed interval. It only reads the
// tracker through snapshots.
type Reporter struct {
	source   presence.Snapshotter
	interval time.Duration
	logger   *logger.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reporter. A non-positive interval selects DefaultInterval.
func New(source presence.Snapshotter, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		source:   source,
		interval: interval,
		logger:   logger.NewLogger("Reporter"),
		now:      time.Now,
	}
}

// Start runs the report loop until ctx is cancelled or Stop is called.
// Starting a running reporter does nothing.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
}

// Stop cancels the loop and waits for it to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (r *Reporter) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReportOnce()
		}
	}
}

// ReportOnce takes one snapshot, logs it and refreshes the presence gauges.
// It returns the rendered lines.
func (r *Reporter) ReportOnce() []string {
	now := r.now()
	snapshot := r.source.Snapshot(now)
	lines := Render(snapshot, now)

	r.logger.Infof("=== Node Status (%d nodes) ===", len(snapshot))
	for _, line := range lines {
		r.logger.Infof("%s", line)
	}
	for _, s := range snapshot {
		metrics.SetNodePresence(s.NodeID, s.Online, s.TotalDowntime.Seconds())
	}
	return lines
}
