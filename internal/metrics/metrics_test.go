package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveScan("present", "manual")
	m.ObserveScan("present", "manual")
	m.ObserveSeeded(4)
	m.ObserveSeeded(0)
	m.ObserveFlush("success")
	m.ObserveIngest("duplicate")
	m.SetQueueDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Scans.WithLabelValues("present", "manual")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SeededRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Flushes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestResults.WithLabelValues("duplicate")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveScan("late", "manual")
	m.ObserveSeeded(1)
	m.ObserveFlush("failure")
	m.ObserveFlushed("synced")
	m.SetQueueDepth(1)
	m.ObserveIngest("error")
}
