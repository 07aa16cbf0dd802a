package netmon_pb

import (
	"testing"

	"google.golang.org/grpc/health/grpc_health_v1"
)

func TestCloneDoesNotAlias(t *testing.T) {
	orig := &NodeMetrics{
		NodeId: "node-01",
		Ipv6:   []string{"fe80::1"},
		Flags:  []string{"UP", "RUNNING"},
	}
	c := orig.Clone()
	c.Ipv6[0] = "fe80::2"
	c.Flags = append(c.Flags, "MULTICAST")

	if orig.Ipv6[0] != "fe80::1" {
		t.Fatalf("clone aliases Ipv6: %v", orig.Ipv6)
	}
	if len(orig.Flags) != 2 {
		t.Fatalf("clone aliases Flags: %v", orig.Flags)
	}
	var nilMetrics *NodeMetrics
	if nilMetrics.Clone() != nil {
		t.Fatal("Clone of nil should be nil")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	codec := Codec{}
	in := &NodeMetrics{
		NodeId:        "node-02",
		InterfaceName: "eth0",
		Timestamp:     1700000000,
		Mtu:           1500,
		Ipv4:          "10.0.0.2",
		Ipv6:          []string{"fe80::1", "2001:db8::2"},
		Flags:         []string{"UP", "BROADCAST"},
		RxPackets:     100,
		TxBytes:       4096,
	}
	data, err := codec.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out NodeMetrics
	if err := codec.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.String() != in.String() {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", out.String(), in.String())
	}
}

func TestCodecPassesProtobufThrough(t *testing.T) {
	codec := Codec{}
	in := &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}
	data, err := codec.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out grpc_health_v1.HealthCheckResponse
	if err := codec.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", out.GetStatus())
	}
}

func TestCodecName(t *testing.T) {
	if got := (Codec{}).Name(); got != CodecName {
		t.Fatalf("Name() = %q, want %q", got, CodecName)
	}
}

func TestMetricsAckGetters(t *testing.T) {
	ack := &MetricsAck{NodeId: "node-01", Success: true, ServerTimestamp: 1700000000, Message: "ok"}
	if ack.GetServerTimestamp() != 1700000000 || ack.GetMessage() != "ok" {
		t.Fatalf("unexpected getters: %d %q", ack.GetServerTimestamp(), ack.GetMessage())
	}
	var nilAck *MetricsAck
	if nilAck.GetServerTimestamp() != 0 || nilAck.GetMessage() != "" || nilAck.GetSuccess() {
		t.Fatal("getters on nil ack should return zero values")
	}
}
