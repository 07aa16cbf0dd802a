// Package httpapi serves a read-only JSON view of node presence and the
// recent metrics history, plus the Prometheus /metrics endpoint.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	netmon_pb "github.com/xiaonanln/netmon/proto"
	"github.com/xiaonanln/netmon/presence"
	"github.com/xiaonanln/netmon/util/logger"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 10000
)

// HistoryReader is the read side of history.Buffer.
type HistoryReader interface {
	Recent(k int) []*netmon_pb.NodeMetrics
	Len() int
}

// SessionInfo describes one open metrics stream.
type SessionInfo struct {
	ID        string    `json:"id"`
	Peer      string    `json:"peer"`
	NodeID    string    `json:"node_id,omitempty"`
	State     string    `json:"state"`
	Records   int       `json:"records"`
	StartedAt time.Time `json:"started_at"`
}

// SessionLister returns the currently open sessions.
type SessionLister interface {
	Sessions() []SessionInfo
}

// NodeView is the JSON form of a presence.NodeStatus.
type NodeView struct {
	NodeID               string     `json:"node_id"`
	Status               string     `json:"status"`
	Online               bool       `json:"online"`
	LastSeen             *time.Time `json:"last_seen,omitempty"`
	LastDisconnected     *time.Time `json:"last_disconnected,omitempty"`
	DownForSeconds       int64      `json:"down_for_seconds"`
	TotalDowntimeSeconds int64      `json:"total_downtime_seconds"`
}

// HistoryResponse is returned by GET /api/history.
type HistoryResponse struct {
	Count   int                      `json:"count"`
	Total   int                      `json:"total"`
	Records []*netmon_pb.NodeMetrics `json:"records"`
}

func newNodeView(s presence.NodeStatus, now time.Time) NodeView {
	v := NodeView{
		NodeID:               s.NodeID,
		Online:               s.Online,
		DownForSeconds:       int64(s.DownFor(now) / time.Second),
		TotalDowntimeSeconds: int64(s.TotalDowntime / time.Second),
	}
	switch {
	case s.Online:
		v.Status = "online"
	case s.NeverConnected():
		v.Status = "never_connected"
	default:
		v.Status = "offline"
	}
	if !s.LastSeen.IsZero() {
		t := s.LastSeen.UTC()
		v.LastSeen = &t
	}
	if !s.LastDisconnected.IsZero() {
		t := s.LastDisconnected.UTC()
		v.LastDisconnected = &t
	}
	return v
}

type Server struct {
	echo     *echo.Echo
	presence presence.Snapshotter
	history  HistoryReader
	sessions SessionLister
	logger   *logger.Logger
	now      func() time.Time
}

// New builds the echo instance and its routes. Nothing listens until Start.
// sessions may be nil, in which case /api/sessions is not served.
func New(source presence.Snapshotter, hist HistoryReader, sessions SessionLister) *Server {
	s := &Server{
		echo:     echo.New(),
		presence: source,
		history:  hist,
		sessions: sessions,
		logger:   logger.NewLogger("HTTPAPI"),
		now:      time.Now,
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Warnf("%s %s -> %d (%v): %v", v.Method, v.URI, v.Status, v.Latency, v.Error)
			} else {
				s.logger.Debugf("%s %s -> %d (%v)", v.Method, v.URI, v.Status, v.Latency)
			}
			return nil
		},
	}))

	e.GET("/health", s.GetHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/nodes", s.GetNodes)
	api.GET("/nodes/:id", s.GetNode)
	api.GET("/history", s.GetHistory)
	if sessions != nil {
		api.GET("/sessions", s.GetSessions)
	}

	return s
}

// Handler exposes the router, mostly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and blocks until Shutdown. A clean shutdown returns nil.
func (s *Server) Start(addr string) error {
	s.logger.Infof("HTTP API listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// GetHealth godoc
func (s *Server) GetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetNodes godoc
func (s *Server) GetNodes(c echo.Context) error {
	now := s.now()
	snapshot := s.presence.Snapshot(now)
	views := make([]NodeView, 0, len(snapshot))
	for _, st := range snapshot {
		views = append(views, newNodeView(st, now))
	}
	return c.JSON(http.StatusOK, views)
}

// GetNode godoc
func (s *Server) GetNode(c echo.Context) error {
	id := c.Param("id")
	now := s.now()
	for _, st := range s.presence.Snapshot(now) {
		if st.NodeID == id {
			return c.JSON(http.StatusOK, newNodeView(st, now))
		}
	}
	return c.JSON(http.StatusNotFound, map[string]string{"error": "node not found"})
}

// GetHistory godoc
//
// Query: limit (default 100) and node to keep only one node's records.
// Records are oldest first.
func (s *Server) GetHistory(c echo.Context) error {
	limit := DefaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
		}
		limit = min(n, MaxHistoryLimit)
	}

	var records []*netmon_pb.NodeMetrics
	if node := c.QueryParam("node"); node != "" {
		all := s.history.Recent(-1)
		for _, m := range all {
			if m.GetNodeId() == node {
				records = append(records, m)
			}
		}
		if len(records) > limit {
			records = records[len(records)-limit:]
		}
	} else {
		records = s.history.Recent(limit)
	}
	if records == nil {
		records = []*netmon_pb.NodeMetrics{}
	}

	return c.JSON(http.StatusOK, HistoryResponse{
		Count:   len(records),
		Total:   s.history.Len(),
		Records: records,
	})
}

// GetSessions godoc
func (s *Server) GetSessions(c echo.Context) error {
	sessions := s.sessions.Sessions()
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	return c.JSON(http.StatusOK, sessions)
}
