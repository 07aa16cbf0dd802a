package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/xiaonanln/netmon/presence"
	netmon_pb "github.com/xiaonanln/netmon/proto"
	"github.com/xiaonanln/netmon/util/metrics"
	"github.com/xiaonanln/netmon/util/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeStream feeds records to the handler and records the acks it sends.
type fakeStream struct {
	grpc.ServerStream
	ctx       context.Context
	in        []*netmon_pb.NodeMetrics
	recvErr   error
	sendErr   error
	failAfter int
	acks      []*netmon_pb.MetricsAck
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func (f *fakeStream) Recv() (*netmon_pb.NodeMetrics, error) {
	if len(f.in) == 0 {
		return nil, f.recvErr
	}
	m := f.in[0]
	f.in = f.in[1:]
	return m, nil
}

func (f *fakeStream) Send(ack *netmon_pb.MetricsAck) error {
	if f.sendErr != nil && len(f.acks) >= f.failAfter {
		return f.sendErr
	}
	f.acks = append(f.acks, ack)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T, config *ServerConfig) (*Server, *fakeClock) {
	t.Helper()
	if config == nil {
		config = &ServerConfig{ListenAddress: "127.0.0.1:0", HistoryCapacity: 10}
	}
	server, err := NewServer(config)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	server.logger.SetOutput(io.Discard)
	clock := &fakeClock{now: t0}
	server.now = clock.Now
	return server, clock
}

func records(nodeID string, n int) []*netmon_pb.NodeMetrics {
	out := make([]*netmon_pb.NodeMetrics, n)
	for i := range out {
		out[i] = &netmon_pb.NodeMetrics{
			NodeId:        nodeID,
			InterfaceName: "eth0",
			Timestamp:     t0.Unix() + int64(i),
			RxPackets:     uint64(i),
		}
	}
	return out
}

func statusOf(t *testing.T, tr presence.Snapshotter, nodeID string, now time.Time) presence.NodeStatus {
	t.Helper()
	for _, s := range tr.Snapshot(now) {
		if s.NodeID == nodeID {
			return s
		}
	}
	t.Fatalf("node %s not tracked", nodeID)
	return presence.NodeStatus{}
}

func TestStreamNodeMetrics_AcksEveryRecordInOrder(t *testing.T) {
	testutil.LockMetrics(t)
	server, _ := newTestServer(t, nil)
	stream := &fakeStream{ctx: context.Background(), in: records("node-01", 3), recvErr: io.EOF}
	before := prom.ToFloat64(metrics.SessionsTotal.WithLabelValues("normal"))

	if err := server.StreamNodeMetrics(stream); err != nil {
		t.Fatalf("StreamNodeMetrics returned %v; want nil", err)
	}

	if len(stream.acks) != 3 {
		t.Fatalf("got %d acks; want 3", len(stream.acks))
	}
	for _, ack := range stream.acks {
		if ack.NodeId != "node-01" || !ack.Success || ack.Message != AckMessage {
			t.Errorf("unexpected ack: %+v", ack)
		}
		if ack.ServerTimestamp != t0.Unix() {
			t.Errorf("ack timestamp = %d; want %d", ack.ServerTimestamp, t0.Unix())
		}
	}

	hist := server.History().Snapshot()
	if len(hist) != 3 {
		t.Fatalf("history has %d records; want 3", len(hist))
	}
	for i, m := range hist {
		if m.RxPackets != uint64(i) {
			t.Errorf("history[%d].RxPackets = %d; want %d", i, m.RxPackets, i)
		}
	}

	st := statusOf(t, server.Tracker(), "node-01", t0)
	if st.Online || !st.LastDisconnected.Equal(t0) {
		t.Errorf("node should be offline since %v after EOF: %+v", t0, st)
	}
	if got := prom.ToFloat64(metrics.SessionsTotal.WithLabelValues("normal")) - before; got != 1 {
		t.Errorf("normal sessions delta = %v; want 1", got)
	}
}

func TestStreamNodeMetrics_HistoryOwnsCopies(t *testing.T) {
	server, _ := newTestServer(t, nil)
	in := records("node-01", 1)
	stream := &fakeStream{ctx: context.Background(), in: []*netmon_pb.NodeMetrics{in[0]}, recvErr: io.EOF}
	if err := server.StreamNodeMetrics(stream); err != nil {
		t.Fatalf("StreamNodeMetrics failed: %v", err)
	}

	in[0].InterfaceName = "mutated"
	if got := server.History().Snapshot()[0].InterfaceName; got != "eth0" {
		t.Errorf("history record changed with caller's copy: %q", got)
	}
}

func TestStreamNodeMetrics_ReadErrorEndsNormally(t *testing.T) {
	testutil.LockMetrics(t)
	server, _ := newTestServer(t, nil)
	stream := &fakeStream{
		ctx:     context.Background(),
		in:      records("node-01", 2),
		recvErr: status.Error(codes.Unavailable, "connection reset"),
	}
	before := prom.ToFloat64(metrics.SessionsTotal.WithLabelValues("failed"))

	if err := server.StreamNodeMetrics(stream); err != nil {
		t.Fatalf("read error must not be surfaced, got %v", err)
	}
	if len(stream.acks) != 2 {
		t.Errorf("got %d acks; want 2", len(stream.acks))
	}
	if st := statusOf(t, server.Tracker(), "node-01", t0); st.Online {
		t.Error("node should be offline after a read error")
	}
	if got := prom.ToFloat64(metrics.SessionsTotal.WithLabelValues("failed")) - before; got != 1 {
		t.Errorf("failed sessions delta = %v; want 1", got)
	}
}

func TestStreamNodeMetrics_WriteFailure(t *testing.T) {
	server, _ := newTestServer(t, nil)
	stream := &fakeStream{
		ctx:       context.Background(),
		in:        records("node-01", 3),
		recvErr:   io.EOF,
		sendErr:   fmt.Errorf("broken pipe"),
		failAfter: 1,
	}

	err := server.StreamNodeMetrics(stream)
	if status.Code(err) != codes.Internal {
		t.Fatalf("status code = %v (%v); want Internal", status.Code(err), err)
	}
	if len(stream.acks) != 1 {
		t.Errorf("got %d acks; want 1", len(stream.acks))
	}
	if len(stream.in) != 1 {
		t.Errorf("handler kept reading after write failure: %d records left, want 1", len(stream.in))
	}
	if server.History().Len() != 2 {
		t.Errorf("history length = %d; want 2", server.History().Len())
	}
	if st := statusOf(t, server.Tracker(), "node-01", t0); st.Online {
		t.Error("node should be offline after a failed session")
	}
}

func TestStreamNodeMetrics_EmptySessionLeavesNoPresence(t *testing.T) {
	server, _ := newTestServer(t, nil)
	stream := &fakeStream{ctx: context.Background(), recvErr: io.EOF}

	if err := server.StreamNodeMetrics(stream); err != nil {
		t.Fatalf("StreamNodeMetrics failed: %v", err)
	}
	if n := len(server.Tracker().Snapshot(t0)); n != 0 {
		t.Errorf("tracker has %d nodes; want 0", n)
	}
}

func TestStreamNodeMetrics_ReconnectAccumulatesDowntime(t *testing.T) {
	server, clock := newTestServer(t, nil)

	first := &fakeStream{ctx: context.Background(), in: records("node-01", 1), recvErr: io.EOF}
	if err := server.StreamNodeMetrics(first); err != nil {
		t.Fatalf("first session failed: %v", err)
	}

	clock.Advance(30 * time.Second)
	second := &fakeStream{ctx: context.Background(), in: records("node-01", 1), recvErr: io.EOF}
	if err := server.StreamNodeMetrics(second); err != nil {
		t.Fatalf("second session failed: %v", err)
	}

	clock.Advance(10 * time.Second)
	st := statusOf(t, server.Tracker(), "node-01", clock.Now())
	// 30s between the sessions plus 10s since the second one ended.
	if st.TotalDowntime != 40*time.Second {
		t.Errorf("total downtime = %v; want 40s", st.TotalDowntime)
	}
}

func TestStreamNodeMetrics_DisconnectUsesLastNodeID(t *testing.T) {
	server, _ := newTestServer(t, nil)
	in := append(records("node-01", 1), records("node-02", 1)...)
	stream := &fakeStream{ctx: context.Background(), in: in, recvErr: io.EOF}

	if err := server.StreamNodeMetrics(stream); err != nil {
		t.Fatalf("StreamNodeMetrics failed: %v", err)
	}
	if st := statusOf(t, server.Tracker(), "node-01", t0); !st.Online {
		t.Error("node-01 should still be online; only the last node id is disconnected")
	}
	if st := statusOf(t, server.Tracker(), "node-02", t0); st.Online {
		t.Error("node-02 should be offline")
	}
}

func dialServer(t *testing.T, addr string) netmon_pb.NetworkMonitoringClient {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return netmon_pb.NewNetworkMonitoringClient(conn)
}

func startServer(t *testing.T, config *ServerConfig) (*Server, string, context.CancelFunc, <-chan error) {
	t.Helper()
	server, err := NewServer(config)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	server.logger.SetOutput(io.Discard)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, listener)
	}()
	t.Cleanup(cancel)
	return server, listener.Addr().String(), cancel, done
}

func TestServe_EndToEnd(t *testing.T) {
	statusFile := filepath.Join(t.TempDir(), "node_status.json")
	server, addr, cancel, done := startServer(t, &ServerConfig{
		ListenAddress: "127.0.0.1:0",
		StatusFile:    statusFile,
		ExpectedNodes: []string{"node-09"},
	})
	client := dialServer(t, addr)

	ctx, cancelStream := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStream()
	stream, err := client.StreamNodeMetrics(ctx)
	if err != nil {
		t.Fatalf("StreamNodeMetrics failed: %v", err)
	}

	for i, m := range records("node-01", 5) {
		if err := stream.Send(m); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
		ack, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv %d failed: %v", i, err)
		}
		if ack.NodeId != "node-01" || !ack.Success || ack.Message != AckMessage {
			t.Fatalf("unexpected ack %d: %+v", i, ack)
		}
	}

	if st := statusOf(t, server.Tracker(), "node-01", time.Now()); !st.Online {
		t.Fatal("node-01 should be online while streaming")
	}

	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend failed: %v", err)
	}
	if _, err := stream.Recv(); err != io.EOF {
		t.Fatalf("expected EOF after CloseSend, got %v", err)
	}

	testutil.WaitFor(t, 5*time.Second, "node-01 offline", func() bool {
		for _, s := range server.Tracker().Snapshot(time.Now()) {
			if s.NodeID == "node-01" {
				return !s.Online
			}
		}
		return false
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop within timeout")
	}

	data, err := os.ReadFile(statusFile)
	if err != nil {
		t.Fatalf("status file not written: %v", err)
	}
	for _, want := range []string{`"node-01"`, `"node-09"`, `"offline"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("status file missing %s: %s", want, data)
		}
	}
}

func TestServe_ShutdownClosesIdleSessions(t *testing.T) {
	server, addr, cancel, done := startServer(t, &ServerConfig{ListenAddress: "127.0.0.1:0"})
	client := dialServer(t, addr)

	stream, err := client.StreamNodeMetrics(context.Background())
	if err != nil {
		t.Fatalf("StreamNodeMetrics failed: %v", err)
	}
	if err := stream.Send(records("node-01", 1)[0]); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := stream.Recv(); err != nil {
		t.Fatalf("Recv failed: %v", err)
	}

	// The node stays silent; shutdown has to cut the session off.
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(shutdownGracePeriod + 10*time.Second):
		t.Fatal("server did not stop within timeout")
	}

	if st := statusOf(t, server.Tracker(), "node-01", time.Now()); st.Online {
		t.Error("node-01 should be offline after shutdown")
	}
}

func TestServe_OversizedMessageEndsSession(t *testing.T) {
	server, addr, _, _ := startServer(t, &ServerConfig{ListenAddress: "127.0.0.1:0", MaxMessageBytes: 1024})
	client := dialServer(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := client.StreamNodeMetrics(ctx)
	if err != nil {
		t.Fatalf("StreamNodeMetrics failed: %v", err)
	}

	big := records("node-01", 1)[0]
	for i := 0; i < 200; i++ {
		big.Ipv6 = append(big.Ipv6, fmt.Sprintf("fe80::%x", i))
	}
	if err := stream.Send(big); err != nil && err != io.EOF {
		t.Fatalf("Send failed: %v", err)
	}

	// The handler ends normally without an ack; grpc reports the size
	// violation to the client itself.
	if _, err := stream.Recv(); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	if n := len(server.Tracker().Snapshot(time.Now())); n != 0 {
		t.Errorf("tracker has %d nodes; want 0", n)
	}
}
