package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xiaonanln/netmon/history"
	"github.com/xiaonanln/netmon/httpapi"
	"github.com/xiaonanln/netmon/presence"
	netmon_pb "github.com/xiaonanln/netmon/proto"
	"github.com/xiaonanln/netmon/reporter"
	"github.com/xiaonanln/netmon/sink"
	"github.com/xiaonanln/netmon/util/logger"
	"github.com/xiaonanln/netmon/util/metrics"
	"github.com/xiaonanln/netmon/util/postgres"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	DefaultMaxMessageBytes = 4 * 1024 * 1024
	// Sessions still open this long after shutdown starts are cut off.
	shutdownGracePeriod = 5 * time.Second
	httpShutdownTimeout = 5 * time.Second
)

type ServerConfig struct {
	ListenAddress     string
	HTTPListenAddress string // Optional: HTTP inspection API and /metrics
	MaxMessageBytes   int
	HistoryCapacity   int
	ReportInterval    time.Duration
	PublishInterval   time.Duration
	ExpectedNodes     []string

	// Presence sinks; each one is enabled by its own setting.
	StatusFile    string
	Postgres      *postgres.Config
	EtcdEndpoints []string
	EtcdPrefix    string
	EtcdLeaseTTL  int64
}

type Server struct {
	netmon_pb.UnimplementedNetworkMonitoringServer
	config    *ServerConfig
	tracker   *presence.Tracker
	history   *history.Buffer
	reporter  *reporter.Reporter
	publisher *sink.Publisher
	logger    *logger.Logger
	now       func() time.Time

	sessionsMu sync.Mutex
	sessions   map[string]*session
}

func NewServer(config *ServerConfig) (*Server, error) {
	if err := validateServerConfig(config); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	tracker := presence.NewTracker()
	for _, nodeID := range config.ExpectedNodes {
		tracker.Register(nodeID)
	}

	server := &Server{
		config:   config,
		tracker:  tracker,
		history:  history.New(config.HistoryCapacity),
		reporter: reporter.New(tracker, config.ReportInterval),
		logger:   logger.NewLogger(fmt.Sprintf("Server(%s)", config.ListenAddress)),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	metrics.SetHistorySize(0)
	return server, nil
}

func validateServerConfig(config *ServerConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.ListenAddress == "" {
		return fmt.Errorf("ListenAddress cannot be empty")
	}
	if config.MaxMessageBytes < 0 {
		return fmt.Errorf("MaxMessageBytes cannot be negative")
	}
	if config.HistoryCapacity < 0 {
		return fmt.Errorf("HistoryCapacity cannot be negative")
	}
	if config.ReportInterval < 0 || config.PublishInterval < 0 {
		return fmt.Errorf("intervals cannot be negative")
	}

	if config.MaxMessageBytes == 0 {
		config.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if config.HistoryCapacity == 0 {
		config.HistoryCapacity = history.DefaultCapacity
	}
	if config.ReportInterval == 0 {
		config.ReportInterval = reporter.DefaultInterval
	}
	if config.PublishInterval == 0 {
		config.PublishInterval = sink.DefaultPublishInterval
	}
	if len(config.EtcdEndpoints) > 0 && config.EtcdPrefix == "" {
		config.EtcdPrefix = "/netmon"
	}
	return nil
}

// Tracker returns the presence tracker shared by all sessions.
func (server *Server) Tracker() *presence.Tracker {
	return server.tracker
}

// History returns the buffer of recently received records.
func (server *Server) History() *history.Buffer {
	return server.history
}

func (server *Server) grpcOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(server.config.MaxMessageBytes),
		grpc.MaxSendMsgSize(server.config.MaxMessageBytes),
	}
}

// openSinks connects every configured presence sink. Sinks opened before a
// failure are closed again.
func (server *Server) openSinks(ctx context.Context) ([]sink.Sink, error) {
	var sinks []sink.Sink
	fail := func(err error) ([]sink.Sink, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}

	if server.config.StatusFile != "" {
		s, err := sink.NewFileSink(server.config.StatusFile)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if server.config.Postgres != nil {
		s, err := sink.NewPostgresSink(ctx, server.config.Postgres)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if len(server.config.EtcdEndpoints) > 0 {
		s, err := sink.NewEtcdSink(server.config.EtcdEndpoints, server.config.EtcdPrefix, server.config.EtcdLeaseTTL)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}

	for _, s := range sinks {
		server.logger.Infof("Publishing presence to %s sink", s.Name())
	}
	return sinks, nil
}

// Run listens on ListenAddress and serves until ctx is cancelled.
func (server *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", server.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.config.ListenAddress, err)
	}
	return server.Serve(ctx, listener)
}

// Serve runs the gRPC service on listener together with the reporter, the
// presence publisher and the optional HTTP API. Cancelling ctx stops
// everything; open sessions get shutdownGracePeriod to finish before they are
// cut off. The publisher makes a final flush after the last session ended.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sinks, err := server.openSinks(ctx)
	if err != nil {
		listener.Close()
		return err
	}
	server.publisher = sink.NewPublisher(server.tracker, server.config.PublishInterval, sinks...)

	grpcServer := grpc.NewServer(server.grpcOptions()...)
	netmon_pb.RegisterNetworkMonitoringServer(grpcServer, server)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(netmon_pb.NetworkMonitoring_ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	server.reporter.Start(ctx)
	server.publisher.Start(ctx)
	// Expected nodes show up in the sinks before anyone connects.
	server.publisher.Notify()

	var httpServer *httpapi.Server
	httpDone := make(chan struct{})
	if addr := server.config.HTTPListenAddress; addr != "" {
		httpServer = httpapi.New(server.tracker, server.history, server)
		go func() {
			defer close(httpDone)
			if err := httpServer.Start(addr); err != nil {
				server.logger.Errorf("HTTP API error: %v", err)
			}
		}()
	} else {
		close(httpDone)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		server.logger.Infof("Shutting down gRPC server...")
		healthServer.Shutdown()

		graceful := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(graceful)
		}()
		select {
		case <-graceful:
		case <-time.After(shutdownGracePeriod):
			server.logger.Warnf("Sessions still open after %v, closing them", shutdownGracePeriod)
			grpcServer.Stop()
			<-graceful
		}
	}()

	server.logger.Infof("gRPC server listening on %s", listener.Addr().String())
	serveErr := grpcServer.Serve(listener)
	if serveErr != nil {
		server.logger.Errorf("gRPC server error: %v", serveErr)
	}
	cancel()
	<-stopped

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			server.logger.Errorf("HTTP API shutdown error: %v", err)
		}
		shutdownCancel()
	}
	<-httpDone

	server.reporter.Stop()
	server.publisher.Stop()

	server.logger.Infof("gRPC server stopped")
	return serveErr
}

func (server *Server) notifyPresence() {
	if server.publisher != nil {
		server.publisher.Notify()
	}
}
