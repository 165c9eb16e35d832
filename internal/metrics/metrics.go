package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported on /metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Scans         *prometheus.CounterVec
	SeededRecords prometheus.Counter
	Flushes       *prometheus.CounterVec
	FlushedRecs   *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	IngestResults *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "scans_total",
			Help:      "Scan events processed, by classified status and method.",
		}, []string{"status", "method"}),
		SeededRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "seeded_records_total",
			Help:      "Baseline absent records created by the daily ledger.",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Subsystem: "sync",
			Name:      "flushes_total",
			Help:      "Sync queue flush attempts, by outcome.",
		}, []string{"outcome"}),
		FlushedRecs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Subsystem: "sync",
			Name:      "flushed_records_total",
			Help:      "Records sent by the sync queue, by per-record result.",
		}, []string{"result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rollcall",
			Subsystem: "sync",
			Name:      "queue_depth",
			Help:      "Records buffered in the sync queue awaiting a flush.",
		}),
		IngestResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Subsystem: "sync",
			Name:      "ingest_records_total",
			Help:      "Client records received by sync ingest, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Scans, m.SeededRecords, m.Flushes, m.FlushedRecs, m.QueueDepth, m.IngestResults)
	}
	return m
}

func (m *Metrics) ObserveScan(status, method string) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(status, method).Inc()
}

func (m *Metrics) ObserveSeeded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SeededRecords.Add(float64(n))
}

func (m *Metrics) ObserveFlush(outcome string) {
	if m == nil {
		return
	}
	m.Flushes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFlushed(result string) {
	if m == nil {
		return
	}
	m.FlushedRecs.WithLabelValues(result).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) ObserveIngest(result string) {
	if m == nil {
		return
	}
	m.IngestResults.WithLabelValues(result).Inc()
}
