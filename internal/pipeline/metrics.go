package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	stageSeconds *prometheus.HistogramVec
	events       prometheus.Counter
	intervals    prometheus.Counter
	cacheHits    *prometheus.CounterVec
	loaded       prometheus.Gauge
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tracefold",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracefold",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Trace events consumed by the reconstructor.",
		}),
		intervals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracefold",
			Subsystem: "pipeline",
			Name:      "intervals_total",
			Help:      "Intervals written to interval stores.",
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracefold",
			Subsystem: "pipeline",
			Name:      "cache_hits_total",
			Help:      "Stages skipped because their output was cached.",
		}, []string{"stage"}),
		loaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tracefold",
			Name:      "traces_loaded",
			Help:      "Traces currently open.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.stageSeconds, m.events, m.intervals, m.cacheHits, m.loaded)
	}
	return m
}

func (m *Metrics) observeStage(stage Stage, seconds float64) {
	if m == nil {
		return
	}
	m.stageSeconds.WithLabelValues(string(stage)).Observe(seconds)
}

func (m *Metrics) cacheHit(stage Stage) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) reconstructed(events, intervals int64) {
	if m == nil {
		return
	}
	m.events.Add(float64(events))
	m.intervals.Add(float64(intervals))
}

func (m *Metrics) open()  { m.loadedAdd(1) }
func (m *Metrics) close() { m.loadedAdd(-1) }

func (m *Metrics) loadedAdd(v float64) {
	if m == nil {
		return
	}
	m.loaded.Add(v)
}
