package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kingrea/weft/internal/workflow/graph"
)

// Metrics exposes engine activity to Prometheus. A nil *Metrics records
// nothing.
type Metrics struct {
	dispatched      prometheus.Counter
	settled         *prometheus.CounterVec
	inFlight        prometheus.Gauge
	expansions      *prometheus.CounterVec
	persistFailures prometheus.Counter
	nodeDuration    prometheus.Histogram
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		dispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "weft",
			Name:      "nodes_dispatched_total",
			Help:      "Nodes handed to the executor.",
		}),
		settled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weft",
			Name:      "nodes_settled_total",
			Help:      "Terminal node outcomes by status.",
		}, []string{"status"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "weft",
			Name:      "nodes_in_flight",
			Help:      "Nodes currently being executed.",
		}),
		expansions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weft",
			Name:      "expansions_total",
			Help:      "Expansion hook invocations by result.",
		}, []string{"result"}),
		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "weft",
			Name:      "persist_failures_total",
			Help:      "Snapshot write attempts that failed.",
		}),
		nodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "weft",
			Name:      "node_duration_seconds",
			Help:      "Wall time from dispatch to settlement.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
}

func (m *Metrics) nodeDispatched() {
	if m == nil {
		return
	}
	m.dispatched.Inc()
	m.inFlight.Inc()
}

func (m *Metrics) nodeSettled(status graph.Status, took time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.settled.WithLabelValues(string(status)).Inc()
	m.nodeDuration.Observe(took.Seconds())
}

func (m *Metrics) expansion(result string) {
	if m == nil {
		return
	}
	m.expansions.WithLabelValues(result).Inc()
}

func (m *Metrics) persistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}
