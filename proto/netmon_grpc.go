package netmon_pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	NetworkMonitoring_ServiceName                      = "netmon.NetworkMonitoring"
	NetworkMonitoring_StreamNodeMetrics_FullMethodName = "/netmon.NetworkMonitoring/StreamNodeMetrics"
)

// NetworkMonitoringClient is the client API for the NetworkMonitoring service.
type NetworkMonitoringClient interface {
	// StreamNodeMetrics opens a bidirectional stream: the node sends
	// NodeMetrics and receives one MetricsAck per message, in order.
	StreamNodeMetrics(ctx context.Context, opts ...grpc.CallOption) (NetworkMonitoring_StreamNodeMetricsClient, error)
}

type networkMonitoringClient struct {
	cc grpc.ClientConnInterface
}

func NewNetworkMonitoringClient(cc grpc.ClientConnInterface) NetworkMonitoringClient {
	return &networkMonitoringClient{cc}
}

func (c *networkMonitoringClient) StreamNodeMetrics(ctx context.Context, opts ...grpc.CallOption) (NetworkMonitoring_StreamNodeMetricsClient, error) {
	cOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &NetworkMonitoring_ServiceDesc.Streams[0], NetworkMonitoring_StreamNodeMetrics_FullMethodName, cOpts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[NodeMetrics, MetricsAck]{ClientStream: stream}, nil
}

type NetworkMonitoring_StreamNodeMetricsClient = grpc.BidiStreamingClient[NodeMetrics, MetricsAck]

// NetworkMonitoringServer is the server API for the NetworkMonitoring service.
type NetworkMonitoringServer interface {
	StreamNodeMetrics(NetworkMonitoring_StreamNodeMetricsServer) error
}

// UnimplementedNetworkMonitoringServer can be embedded to have forward
// compatible implementations.
type UnimplementedNetworkMonitoringServer struct{}

func (UnimplementedNetworkMonitoringServer) StreamNodeMetrics(NetworkMonitoring_StreamNodeMetricsServer) error {
	return status.Errorf(codes.Unimplemented, "method StreamNodeMetrics not implemented")
}

type NetworkMonitoring_StreamNodeMetricsServer = grpc.BidiStreamingServer[NodeMetrics, MetricsAck]

func RegisterNetworkMonitoringServer(s grpc.ServiceRegistrar, srv NetworkMonitoringServer) {
	s.RegisterService(&NetworkMonitoring_ServiceDesc, srv)
}

func _NetworkMonitoring_StreamNodeMetrics_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(NetworkMonitoringServer).StreamNodeMetrics(&grpc.GenericServerStream[NodeMetrics, MetricsAck]{ServerStream: stream})
}

// NetworkMonitoring_ServiceDesc is the grpc.ServiceDesc for the
// NetworkMonitoring service.
var NetworkMonitoring_ServiceDesc = grpc.ServiceDesc{
	ServiceName: NetworkMonitoring_ServiceName,
	HandlerType: (*NetworkMonitoringServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamNodeMetrics",
			Handler:       _NetworkMonitoring_StreamNodeMetrics_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "netmon.proto",
}
