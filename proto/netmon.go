// Package netmon_pb defines the messages and the NetworkMonitoring service
// exchanged between reporting nodes and the monitoring server.
//
// Messages travel over gRPC encoded as CBOR (see codec.go). Integer keys
// keep the encoding compact and stable when fields are renamed.
package netmon_pb

import (
	"fmt"
	"slices"
	"strings"
)

// NodeMetrics is one interface/traffic sample pushed by a node.
type NodeMetrics struct {
	NodeId        string   `cbor:"1,keyasint,omitempty" json:"node_id"`
	InterfaceName string   `cbor:"2,keyasint,omitempty" json:"interface_name"`
	Timestamp     int64    `cbor:"3,keyasint,omitempty" json:"timestamp"`
	Mtu           uint32   `cbor:"4,keyasint,omitempty" json:"mtu"`
	Ipv4          string   `cbor:"5,keyasint,omitempty" json:"ipv4"`
	Netmask       string   `cbor:"6,keyasint,omitempty" json:"netmask"`
	Broadcast     string   `cbor:"7,keyasint,omitempty" json:"broadcast"`
	Ipv6          []string `cbor:"8,keyasint,omitempty" json:"ipv6"`
	Mac           string   `cbor:"9,keyasint,omitempty" json:"mac"`
	Flags         []string `cbor:"10,keyasint,omitempty" json:"flags"`
	RxPackets     uint64   `cbor:"11,keyasint,omitempty" json:"rx_packets"`
	RxBytes       uint64   `cbor:"12,keyasint,omitempty" json:"rx_bytes"`
	RxErrors      uint32   `cbor:"13,keyasint,omitempty" json:"rx_errors"`
	TxPackets     uint64   `cbor:"14,keyasint,omitempty" json:"tx_packets"`
	TxBytes       uint64   `cbor:"15,keyasint,omitempty" json:"tx_bytes"`
	TxErrors      uint32   `cbor:"16,keyasint,omitempty" json:"tx_errors"`
}

// MetricsAck acknowledges a single NodeMetrics message.
type MetricsAck struct {
	NodeId          string `cbor:"1,keyasint,omitempty" json:"node_id"`
	Success         bool   `cbor:"2,keyasint,omitempty" json:"success"`
	ServerTimestamp int64  `cbor:"3,keyasint,omitempty" json:"server_timestamp"`
	Message         string `cbor:"4,keyasint,omitempty" json:"message"`
}

func (m *NodeMetrics) GetNodeId() string {
	if m == nil {
		return ""
	}
	return m.NodeId
}

func (m *NodeMetrics) GetInterfaceName() string {
	if m == nil {
		return ""
	}
	return m.InterfaceName
}

func (m *NodeMetrics) GetTimestamp() int64 {
	if m == nil {
		return 0
	}
	return m.Timestamp
}

// Clone returns a deep copy of m. The slices of the copy never alias m's.
func (m *NodeMetrics) Clone() *NodeMetrics {
	if m == nil {
		return nil
	}
	c := *m
	c.Ipv6 = slices.Clone(m.Ipv6)
	c.Flags = slices.Clone(m.Flags)
	return &c
}

// String renders the sample on a single line for logs.
func (m *NodeMetrics) String() string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("node=%s iface=%s ts=%d flags=[%s] mtu=%d ipv4=%s netmask=%s broadcast=%s mac=%s ipv6=[%s] rx=%d pkts/%d bytes/%d errs tx=%d pkts/%d bytes/%d errs",
		m.NodeId, m.InterfaceName, m.Timestamp, strings.Join(m.Flags, " "), m.Mtu,
		m.Ipv4, m.Netmask, m.Broadcast, m.Mac, strings.Join(m.Ipv6, " "),
		m.RxPackets, m.RxBytes, m.RxErrors, m.TxPackets, m.TxBytes, m.TxErrors)
}

func (m *MetricsAck) GetNodeId() string {
	if m == nil {
		return ""
	}
	return m.NodeId
}

func (m *MetricsAck) GetSuccess() bool {
	if m == nil {
		return false
	}
	return m.Success
}

func (m *MetricsAck) GetServerTimestamp() int64 {
	if m == nil {
		return 0
	}
	return m.ServerTimestamp
}

func (m *MetricsAck) GetMessage() string {
	if m == nil {
		return ""
	}
	return m.Message
}
