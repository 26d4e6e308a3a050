package prometheus

import (
	"testing"
	"time"

	"github.com/marmos91/dittosync/pkg/metrics"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gather returns the registry's metric families by name.
func gather(t *testing.T) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := metrics.GetRegistry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return byName
}

// value returns the sample of family whose labels include all of labels.
func value(t *testing.T, f *dto.MetricFamily, labels map[string]string) float64 {
	t.Helper()
	require.NotNil(t, f)

	for _, m := range f.GetMetric() {
		matched := 0
		for _, lp := range m.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want == lp.GetValue() {
				matched++
			}
		}
		if matched != len(labels) {
			continue
		}
		switch {
		case m.Counter != nil:
			return m.GetCounter().GetValue()
		case m.Gauge != nil:
			return m.GetGauge().GetValue()
		case m.Histogram != nil:
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	t.Fatalf("no %s sample with labels %v", f.GetName(), labels)
	return 0
}

func TestReplicationMetrics(t *testing.T) {
	// Registration is global; this is the only test that creates collectors.
	metrics.InitRegistry()
	m := NewReplicationMetrics()

	m.RecordCommand(metrics.DirectionIn, "list")
	m.RecordCommand(metrics.DirectionIn, "list")
	m.RecordCommand(metrics.DirectionOut, "requestsubmit")
	m.RecordBytesTransferred(metrics.DirectionOut, 1024)
	m.RecordTransfer(metrics.TransferUpload, metrics.OutcomeComplete, 20*time.Millisecond)
	m.RecordTransfer(metrics.TransferDownload, metrics.OutcomeRejected, 0)
	m.RecordAdmission(metrics.AdmissionDuplicate)
	m.SetActiveSessions(3)
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordConnectionForceClosed()

	families := gather(t)

	assert.Equal(t, 2.0, value(t, families["dittosync_commands_total"],
		map[string]string{"direction": "in", "command": "list"}))
	assert.Equal(t, 1.0, value(t, families["dittosync_commands_total"],
		map[string]string{"direction": "out", "command": "requestsubmit"}))
	assert.Equal(t, 1024.0, value(t, families["dittosync_payload_bytes_total"],
		map[string]string{"direction": "out"}))
	assert.Equal(t, 1.0, value(t, families["dittosync_transfers_total"],
		map[string]string{"kind": "download", "outcome": "rejected"}))
	assert.Equal(t, 1.0, value(t, families["dittosync_transfer_duration_milliseconds"],
		map[string]string{"kind": "upload"}))
	assert.Equal(t, 1.0, value(t, families["dittosync_admissions_total"],
		map[string]string{"result": "duplicate"}))
	assert.Equal(t, 3.0, value(t, families["dittosync_active_sessions"], nil))
	assert.Equal(t, 1.0, value(t, families["dittosync_connections_accepted_total"], nil))
	assert.Equal(t, 1.0, value(t, families["dittosync_connections_closed_total"], nil))
	assert.Equal(t, 1.0, value(t, families["dittosync_connections_force_closed_total"], nil))

	// Only completed transfers are timed.
	assert.Len(t, families["dittosync_transfer_duration_milliseconds"].GetMetric(), 1)
}
