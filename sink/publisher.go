package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xiaonanln/netmon/presence"
	"github.com/xiaonanln/netmon/util/logger"
	"github.com/xiaonanln/netmon/util/metrics"
	"github.com/xiaonanln/netmon/util/workerpool"
)

const (
	DefaultPublishInterval = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
)

// Publisher writes presence snapshots to its sinks whenever Notify is called
// and on a fixed interval. Writes happen on the publisher's goroutine, so
// callers of Notify never wait on sink I/O.
type Publisher struct {
	source   presence.Snapshotter
	sinks    []Sink
	interval time.Duration
	timeout  time.Duration
	pool     *workerpool.WorkerPool
	notify   chan struct{}
	logger   *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewPublisher creates a publisher for source. A non-positive interval
// selects DefaultPublishInterval.
func NewPublisher(source presence.Snapshotter, interval time.Duration, sinks ...Sink) *Publisher {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	pool := workerpool.New(context.Background(), max(len(sinks), 1))
	pool.Start()
	return &Publisher{
		source:   source,
		sinks:    sinks,
		interval: interval,
		timeout:  defaultWriteTimeout,
		pool:     pool,
		notify:   make(chan struct{}, 1),
		logger:   logger.NewLogger("Publisher"),
		now:      time.Now,
	}
}

// Sinks returns the configured sinks.
func (p *Publisher) Sinks() []Sink {
	return p.sinks
}

// Notify requests a flush. Requests made while one is pending are coalesced.
func (p *Publisher) Notify() {
	if len(p.sinks) == 0 {
		return
	}
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Start runs the publish loop until ctx is cancelled or Stop is called.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil || p.stopped {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	p.logger.Infof("Publishing presence to %d sink(s) every %v", len(p.sinks), p.interval)
}

func (p *Publisher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.notify:
		}
		_ = p.Flush(ctx)
	}
}

// Flush writes one snapshot to every sink concurrently and returns the
// joined errors. Errors are also logged and counted.
func (p *Publisher) Flush(ctx context.Context) error {
	if len(p.sinks) == 0 {
		return nil
	}

	snapshot := p.source.Snapshot(p.now())

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tasks := make([]workerpool.Task, 0, len(p.sinks))
	for _, s := range p.sinks {
		s := s
		tasks = append(tasks, workerpool.Task{
			Name: s.Name(),
			Run: func(ctx context.Context) error {
				start := time.Now()
				err := s.Write(ctx, snapshot)
				metrics.RecordSinkWrite(s.Name(), err, time.Since(start).Seconds())
				return err
			},
		})
	}

	var errs []error
	for _, r := range p.pool.SubmitAndWait(ctx, tasks) {
		if r.Err != nil {
			p.logger.Warnf("Failed to write presence to %s sink: %v", r.Name, r.Err)
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Stop ends the loop, writes a final snapshot and closes the sinks.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if err := p.Flush(context.Background()); err != nil {
		p.logger.Warnf("Final presence flush failed: %v", err)
	}
	p.pool.Stop()

	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			p.logger.Warnf("Failed to close %s sink: %v", s.Name(), err)
		}
	}
}
