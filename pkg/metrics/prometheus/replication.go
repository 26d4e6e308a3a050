package prometheus

import (
	"time"

	"github.com/marmos91/dittosync/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// replicationMetrics is the Prometheus implementation of metrics.ReplicationMetrics.
type replicationMetrics struct {
	commandsTotal          *prometheus.CounterVec
	bytesTransferred       *prometheus.CounterVec
	transfersTotal         *prometheus.CounterVec
	transferDuration       *prometheus.HistogramVec
	admissionsTotal        *prometheus.CounterVec
	activeSessions         prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
}

// NewReplicationMetrics creates a new Prometheus-backed ReplicationMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewReplicationMetrics() metrics.ReplicationMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopReplicationMetrics()
	}

	reg := metrics.GetRegistry()

	return &replicationMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosync_commands_total",
				Help: "Total number of ARP command lines by direction and name",
			},
			[]string{"direction", "command"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosync_payload_bytes_total",
				Help: "Total raw payload bytes by direction",
			},
			[]string{"direction"},
		),
		transfersTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosync_transfers_total",
				Help: "Total number of file transfers by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittosync_transfer_duration_milliseconds",
				Help: "Duration of completed file transfers in milliseconds",
				Buckets: []float64{
					1,      // 1ms
					10,     // 10ms
					100,    // 100ms
					1000,   // 1s
					10000,  // 10s
					100000, // 100s
				},
			},
			[]string{"kind"},
		),
		admissionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosync_admissions_total",
				Help: "Provider answers to upload requests by result",
			},
			[]string{"result"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittosync_active_sessions",
				Help: "Current number of active replication sessions",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittosync_connections_accepted_total",
				Help: "Total number of connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittosync_connections_closed_total",
				Help: "Total number of connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittosync_connections_force_closed_total",
				Help: "Total number of connections force-closed during shutdown timeout",
			},
		),
	}
}

func (m *replicationMetrics) RecordCommand(direction string, name string) {
	m.commandsTotal.WithLabelValues(direction, name).Inc()
}

func (m *replicationMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *replicationMetrics) RecordTransfer(kind string, outcome string, duration time.Duration) {
	m.transfersTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == metrics.OutcomeComplete && duration > 0 {
		m.transferDuration.WithLabelValues(kind).Observe(duration.Seconds() * 1000) // Convert to milliseconds
	}
}

func (m *replicationMetrics) RecordAdmission(result string) {
	m.admissionsTotal.WithLabelValues(result).Inc()
}

func (m *replicationMetrics) SetActiveSessions(count int32) {
	m.activeSessions.Set(float64(count))
}

func (m *replicationMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *replicationMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *replicationMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}
