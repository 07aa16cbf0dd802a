// Package client streams NodeMetrics to a netmon server and reconnects when
// the stream breaks.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	netmon_pb "github.com/xiaonanln/netmon/proto"
	"github.com/xiaonanln/netmon/util/backoff"
	nerrors "github.com/xiaonanln/netmon/util/errors"
	"github.com/xiaonanln/netmon/util/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	// DefaultInterval is the time between two records on a stream.
	DefaultInterval = 5 * time.Second

	// DefaultCloseTimeout bounds the wait for outstanding acks after CloseSend.
	DefaultCloseTimeout = 5 * time.Second

	DefaultMaxMessageBytes = 4 * 1024 * 1024
)

var (
	// ErrNoAddresses is returned when no server addresses are provided.
	ErrNoAddresses = errors.New("no server addresses provided")

	// ErrClientClosed is returned when trying to use a closed client.
	ErrClientClosed = errors.New("client is closed")
)

// Source produces the next record to send.
type Source func(ctx context.Context) (*netmon_pb.NodeMetrics, error)

// Options holds configuration options for the client.
type Options struct {
	// ReconnectInitialDelay and ReconnectMaxDelay bound the backoff between
	// stream attempts.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	// CloseTimeout bounds the wait for acks after the client stops sending.
	CloseTimeout time.Duration

	MaxMessageBytes int

	// Compressor, when set, compresses every record with the named gRPC
	// compressor, e.g. netmon_pb.CompressorName.
	Compressor string

	// GRPCDialOptions are additional gRPC dial options.
	GRPCDialOptions []grpc.DialOption

	// Logger is the logger to use. If nil, a default logger is created.
	Logger *logger.Logger

	// OnConnect is called when a stream is opened.
	OnConnect func(addr string)

	// OnDisconnect is called when a stream ends with an error.
	OnDisconnect func(err error)

	// OnAck is called for each acknowledgment received.
	OnAck func(ack *netmon_pb.MetricsAck)
}

// Option is a function that configures Options.
type Option func(*Options)

// WithReconnectBackoff sets the reconnect delay bounds.
func WithReconnectBackoff(initial, max time.Duration) Option {
	return func(o *Options) {
		o.ReconnectInitialDelay = initial
		o.ReconnectMaxDelay = max
	}
}

// WithCloseTimeout sets how long to wait for acks when stopping.
func WithCloseTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.CloseTimeout = timeout
	}
}

// WithCompressor compresses records with the named registered compressor.
func WithCompressor(name string) Option {
	return func(o *Options) {
		o.Compressor = name
	}
}

// WithGRPCDialOptions adds additional gRPC dial options.
func WithGRPCDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) {
		o.GRPCDialOptions = append(o.GRPCDialOptions, opts...)
	}
}

// WithLogger sets the logger to use.
func WithLogger(l *logger.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithOnConnect sets the callback for when a stream is opened.
func WithOnConnect(callback func(addr string)) Option {
	return func(o *Options) {
		o.OnConnect = callback
	}
}

// WithOnDisconnect sets the callback for when a stream fails.
func WithOnDisconnect(callback func(err error)) Option {
	return func(o *Options) {
		o.OnDisconnect = callback
	}
}

// WithOnAck sets the callback for acknowledgments.
func WithOnAck(callback func(ack *netmon_pb.MetricsAck)) Option {
	return func(o *Options) {
		o.OnAck = callback
	}
}

// Client streams records to one of several server addresses, trying them in
// order on reconnect.
type Client struct {
	addresses []string
	options   *Options
	logger    *logger.Logger

	mu     sync.Mutex
	closed bool
	conns  map[*grpc.ClientConn]struct{}
}

// NewClient creates a new client for the given server addresses.
func NewClient(addresses []string, opts ...Option) (*Client, error) {
	if len(addresses) == 0 {
		return nil, ErrNoAddresses
	}

	options := &Options{
		ReconnectInitialDelay: backoff.DefaultInitialDelay,
		ReconnectMaxDelay:     backoff.DefaultMaxDelay,
		CloseTimeout:          DefaultCloseTimeout,
		MaxMessageBytes:       DefaultMaxMessageBytes,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = logger.NewLogger("NetmonClient")
	}

	// Copy addresses to prevent external modification
	addrCopy := make([]string, len(addresses))
	copy(addrCopy, addresses)

	return &Client{
		addresses: addrCopy,
		options:   options,
		logger:    options.Logger,
		conns:     make(map[*grpc.ClientConn]struct{}),
	}, nil
}

// Stream sends one record from source every interval until ctx is done. When
// a stream fails it reconnects with exponential backoff, cycling through the
// addresses. Returns nil once ctx is done, or ErrClientClosed.
func (c *Client) Stream(ctx context.Context, interval time.Duration, source Source) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	b := backoff.New(c.options.ReconnectInitialDelay, c.options.ReconnectMaxDelay, backoff.DefaultMultiplier)

	for attempt := 0; ; attempt++ {
		if c.isClosed() {
			return ErrClientClosed
		}

		addr := c.addresses[attempt%len(c.addresses)]
		acked, err := c.streamOnce(ctx, addr, interval, source)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrClientClosed) {
			return err
		}
		if acked > 0 {
			b.Reset()
		}

		if nerrors.IsTimeout(err) {
			c.logger.Warnf("Stream to %s timed out after %d acks; reconnecting in %v", addr, acked, b.CurrentDelay())
		} else {
			c.logger.Warnf("Stream to %s ended after %d acks: %v; reconnecting in %v", addr, acked, err, b.CurrentDelay())
		}
		if c.options.OnDisconnect != nil {
			c.options.OnDisconnect(err)
		}
		if err := b.Wait(ctx); err != nil {
			return nil
		}
	}
}

// streamOnce runs a single stream to addr and returns the number of acks
// received. A nil error with ctx done means the stream was closed on purpose.
func (c *Client) streamOnce(ctx context.Context, addr string, interval time.Duration, source Source) (int, error) {
	conn, err := c.dial(addr)
	if err != nil {
		return 0, err
	}
	defer c.release(conn)

	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()

	stream, err := netmon_pb.NewNetworkMonitoringClient(conn).StreamNodeMetrics(streamCtx)
	if err != nil {
		return 0, fmt.Errorf("failed to open stream: %w", err)
	}
	c.logger.Infof("Streaming metrics to %s every %v", addr, interval)
	if c.options.OnConnect != nil {
		c.options.OnConnect(addr)
	}

	acks := 0
	recvDone := make(chan error, 1)
	go func() {
		for {
			ack, err := stream.Recv()
			if err != nil {
				recvDone <- err
				return
			}
			acks++
			c.logger.Debugf("Received ack for %s: %s (server time %d)", ack.GetNodeId(), ack.GetMessage(), ack.GetServerTimestamp())
			if c.options.OnAck != nil {
				c.options.OnAck(ack)
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for {
		m, err := source(ctx)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			c.logger.Warnf("Failed to collect metrics: %v", err)
		default:
			if err := stream.Send(m); err != nil {
				// On io.EOF the real cause is reported by Recv.
				if !errors.Is(err, io.EOF) {
					streamCancel()
				}
				recvErr := <-recvDone
				return acks, fmt.Errorf("send failed: %w", recvErrOr(recvErr, err))
			}
			sent++
			c.logger.Debugf("Sent record #%d for %s", sent, m.GetNodeId())
		}

		select {
		case <-ctx.Done():
			return c.closeStream(stream, streamCancel, recvDone, &acks)
		case err := <-recvDone:
			if nerrors.IsCleanClose(err) {
				return acks, fmt.Errorf("server closed the stream")
			}
			return acks, err
		case <-ticker.C:
		}
	}
}

// closeStream half-closes the stream and waits for the remaining acks.
func (c *Client) closeStream(stream netmon_pb.NetworkMonitoring_StreamNodeMetricsClient, cancel context.CancelFunc, recvDone <-chan error, acks *int) (int, error) {
	if err := stream.CloseSend(); err != nil {
		cancel()
		<-recvDone
		return *acks, err
	}

	timer := time.NewTimer(c.options.CloseTimeout)
	defer timer.Stop()
	select {
	case err := <-recvDone:
		if errors.Is(err, io.EOF) {
			return *acks, nil
		}
		return *acks, err
	case <-timer.C:
		cancel()
		<-recvDone
		return *acks, fmt.Errorf("waiting for acks after %v: %w", c.options.CloseTimeout, context.DeadlineExceeded)
	}
}

func recvErrOr(recvErr, sendErr error) error {
	if recvErr == nil || errors.Is(recvErr, io.EOF) {
		return sendErr
	}
	return recvErr
}

func (c *Client) dial(addr string) (*grpc.ClientConn, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(c.options.MaxMessageBytes),
			grpc.MaxCallSendMsgSize(c.options.MaxMessageBytes),
		),
	}
	if c.options.Compressor != "" {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(grpc.UseCompressor(c.options.Compressor)))
	}
	dialOpts = append(dialOpts, c.options.GRPCDialOptions...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client: %w", err)
	}
	c.conns[conn] = struct{}{}
	return conn, nil
}

func (c *Client) release(conn *grpc.ClientConn) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes every open connection. Running Stream calls return
// ErrClientClosed once their current stream fails.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for conn := range c.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
