package server

import (
	"sort"
	"sync"
	"time"

	"github.com/xiaonanln/netmon/httpapi"
	netmon_pb "github.com/xiaonanln/netmon/proto"
	"github.com/xiaonanln/netmon/util/errors"
	"github.com/xiaonanln/netmon/util/metrics"
	"github.com/xiaonanln/netmon/util/uniqueid"
	"google.golang.org/grpc/peer"
)

// AckMessage is the text of every acknowledgment.
const AckMessage = "Node metrics received and stored"

type sessionState int

const (
	awaitingFirstRecord sessionState = iota
	active
	closedNormal
	closedFailed
)

func (s sessionState) String() string {
	switch s {
	case awaitingFirstRecord:
		return "awaiting_first_record"
	case active:
		return "active"
	case closedNormal:
		return "normal"
	case closedFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// session is the state of one StreamNodeMetrics call. Only the handler
// goroutine mutates it; mu lets the HTTP API read it.
type session struct {
	server    *Server
	stream    netmon_pb.NetworkMonitoring_StreamNodeMetricsServer
	id        string
	peer      string
	startedAt time.Time

	mu       sync.Mutex
	state    sessionState
	nodeID   string
	received int
}

// StreamNodeMetrics acknowledges every record a node sends, in order, and
// keeps the node's presence up to date. A read error ends the session
// normally; a failed acknowledgment ends it with codes.Internal.
func (server *Server) StreamNodeMetrics(stream netmon_pb.NetworkMonitoring_StreamNodeMetricsServer) error {
	s := &session{
		server:    server,
		stream:    stream,
		id:        uniqueid.UniqueId(),
		peer:      "unknown",
		startedAt: server.now(),
		state:     awaitingFirstRecord,
	}
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		s.peer = p.Addr.String()
	}

	server.addSession(s)
	metrics.RecordSessionStarted()
	err := s.serve()
	s.close()
	server.removeSession(s)
	metrics.RecordSessionEnded(s.state.String())
	return err
}

func (server *Server) addSession(s *session) {
	server.sessionsMu.Lock()
	server.sessions[s.id] = s
	server.sessionsMu.Unlock()
}

func (server *Server) removeSession(s *session) {
	server.sessionsMu.Lock()
	delete(server.sessions, s.id)
	server.sessionsMu.Unlock()
}

// Sessions lists the open streams, oldest first.
func (server *Server) Sessions() []httpapi.SessionInfo {
	server.sessionsMu.Lock()
	open := make([]*session, 0, len(server.sessions))
	for _, s := range server.sessions {
		open = append(open, s)
	}
	server.sessionsMu.Unlock()

	infos := make([]httpapi.SessionInfo, 0, len(open))
	for _, s := range open {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].StartedAt.Before(infos[j].StartedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

func (s *session) info() httpapi.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return httpapi.SessionInfo{
		ID:        s.id,
		Peer:      s.peer,
		NodeID:    s.nodeID,
		State:     s.state.String(),
		Records:   s.received,
		StartedAt: s.startedAt,
	}
}

func (s *session) setState(state sessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *session) serve() error {
	logger := s.server.logger
	for {
		m, err := s.stream.Recv()
		if err != nil {
			if errors.IsCleanClose(err) {
				s.setState(closedNormal)
				logger.Infof("Session %s from %s closed (node %s)", s.id, s.peer, s.nodeLabel())
			} else {
				s.setState(closedFailed)
				logger.Warnf("Session %s from %s ended: %v", s.id, s.peer, errors.NewReadError(s.nodeID, err))
			}
			return nil
		}

		if err := s.handle(m); err != nil {
			s.setState(closedFailed)
			logger.Errorf("Session %s failed to send ack to %s: %v", s.id, s.peer, err)
			return err
		}
	}
}

func (s *session) handle(m *netmon_pb.NodeMetrics) error {
	server := s.server
	now := server.now()
	nodeID := m.GetNodeId()

	if s.state == awaitingFirstRecord {
		s.setState(active)
		server.logger.Infof("Node %s connected from %s (session %s)", nodeID, s.peer, s.id)
	}

	reconnected, downtime := server.tracker.RecordSeen(nodeID, now)
	if reconnected {
		server.logger.Infof("Node %s reconnected after %v offline", nodeID, downtime.Round(time.Second))
		metrics.RecordReconnect(nodeID)
	}
	if reconnected || s.received == 0 || nodeID != s.nodeID {
		server.notifyPresence()
	}
	s.mu.Lock()
	s.nodeID = nodeID
	s.received++
	s.mu.Unlock()

	server.history.Append(m)
	metrics.SetHistorySize(server.history.Len())
	metrics.RecordMetricReceived(nodeID)
	server.logger.Infof("Received metrics: %s", m)

	err := s.stream.Send(&netmon_pb.MetricsAck{
		NodeId:          nodeID,
		Success:         true,
		ServerTimestamp: now.Unix(),
		Message:         AckMessage,
	})
	metrics.RecordAck(nodeID, err)
	if err != nil {
		return errors.NewWriteError(nodeID, err)
	}
	return nil
}

// close marks the last node seen on this session offline. Sessions that never
// received a record leave presence untouched.
func (s *session) close() {
	if s.received == 0 {
		return
	}
	s.server.tracker.RecordDisconnected(s.nodeID, s.server.now())
	s.server.logger.Infof("Node %s disconnected after %d records", s.nodeID, s.received)
	s.server.notifyPresence()
}

func (s *session) nodeLabel() string {
	if s.received == 0 {
		return "<none>"
	}
	return s.nodeID
}
