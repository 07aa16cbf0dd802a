package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MetricsReceivedTotal counts NodeMetrics records read from streams, per node
	MetricsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_metrics_received_total",
			Help: "Total number of metric records received from nodes",
		},
		[]string{"node"},
	)

	// AcksSentTotal counts acknowledgments written back to nodes
	AcksSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_acks_sent_total",
			Help: "Total number of acknowledgments sent to nodes",
		},
		[]string{"node"},
	)

	// AckFailuresTotal counts acknowledgments that could not be written
	AckFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_ack_failures_total",
			Help: "Total number of acknowledgments that failed to send",
		},
		[]string{"node"},
	)

	// SessionsActive tracks the number of open metric streams
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netmon_sessions_active",
			Help: "Number of metric streams currently open",
		},
	)

	// SessionsTotal counts finished sessions by how they ended (normal, failed, empty)
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_sessions_total",
			Help: "Total number of finished metric streams by result",
		},
		[]string{"result"},
	)

	// ReconnectsTotal counts offline->online transitions after a disconnect
	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_reconnects_total",
			Help: "Total number of node reconnects after a disconnect",
		},
		[]string{"node"},
	)

	// NodeOnline is 1 for online nodes and 0 for offline ones
	NodeOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netmon_node_online",
			Help: "Whether the node is currently online (1) or offline (0)",
		},
		[]string{"node"},
	)

	// NodeDowntimeSeconds is the node's accumulated downtime as of the last report
	NodeDowntimeSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netmon_node_downtime_seconds",
			Help: "Accumulated downtime of the node in seconds, including the current outage",
		},
		[]string{"node"},
	)

	// HistorySize tracks the number of records in the history window
	HistorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netmon_history_size",
			Help: "Number of metric records held in the history window",
		},
	)

	// SinkWritesTotal counts presence snapshot writes per sink and status
	SinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmon_sink_writes_total",
			Help: "Total number of presence snapshot writes by sink and status",
		},
		[]string{"sink", "status"},
	)

	// SinkWriteDuration tracks how long each sink write takes in seconds
	SinkWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netmon_sink_write_duration_seconds",
			Help:    "Duration of presence snapshot writes in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
		},
		[]string{"sink"},
	)
)

// RecordMetricReceived increments the received counter for a node
func RecordMetricReceived(node string) {
	MetricsReceivedTotal.WithLabelValues(node).Inc()
}

// RecordAck records the outcome of one acknowledgment write
func RecordAck(node string, err error) {
	if err != nil {
		AckFailuresTotal.WithLabelValues(node).Inc()
		return
	}
	AcksSentTotal.WithLabelValues(node).Inc()
}

// RecordSessionStarted increments the active session gauge
func RecordSessionStarted() {
	SessionsActive.Inc()
}

// RecordSessionEnded decrements the active session gauge and counts the result
func RecordSessionEnded(result string) {
	SessionsActive.Dec()
	SessionsTotal.WithLabelValues(result).Inc()
}

// RecordReconnect increments the reconnect counter for a node
func RecordReconnect(node string) {
	ReconnectsTotal.WithLabelValues(node).Inc()
}

// SetNodePresence sets the online and downtime gauges of a node
func SetNodePresence(node string, online bool, downtimeSeconds float64) {
	v := 0.0
	if online {
		v = 1.0
	}
	NodeOnline.WithLabelValues(node).Set(v)
	NodeDowntimeSeconds.WithLabelValues(node).Set(downtimeSeconds)
}

// SetHistorySize sets the history window size gauge
func SetHistorySize(size int) {
	HistorySize.Set(float64(size))
}

// RecordSinkWrite counts a sink write and observes its duration
func RecordSinkWrite(sink string, err error, durationSeconds float64) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	SinkWritesTotal.WithLabelValues(sink, status).Inc()
	SinkWriteDuration.WithLabelValues(sink).Observe(durationSeconds)
}
