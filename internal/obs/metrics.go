package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus instrumentation shared by the five Moduly
// binaries, adapted from graph/metrics.go's PrometheusMetrics:
// same metric shapes (inflight gauge, queue depth gauge, step latency
// histogram, retries counter), renamed to the "moduly" namespace and
// relabeled by node_type rather than per-run_id/node_id, which would
// otherwise grow the label cardinality unbounded over a long-lived
// deployment's run history.
type Metrics struct {
	InflightNodes prometheus.Gauge
	QueueDepth    prometheus.Gauge
	NodeLatency   *prometheus.HistogramVec
	Retries       *prometheus.CounterVec
	LLMCostUSD    *prometheus.CounterVec
}

// NewMetrics registers the standard Moduly metric set against registry (pass
// nil for the global prometheus.DefaultRegisterer).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		InflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "moduly",
			Name:      "inflight_nodes",
			Help:      "Current number of workflow nodes executing concurrently",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "moduly",
			Name:      "queue_depth",
			Help:      "Number of pending items waiting for a scheduler slot (sandbox executions, node dispatch)",
		}),
		NodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "moduly",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node_type", "status"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moduly",
			Name:      "retries_total",
			Help:      "Cumulative count of retried operations (sandbox task resubmission, LLM fallback)",
		}, []string{"kind", "reason"}),
		LLMCostUSD: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moduly",
			Name:      "llm_cost_usd_total",
			Help:      "Cumulative estimated LLM spend in USD, by model id",
		}, []string{"model_id"}),
	}
}

// RecordNodeLatency observes one node execution's duration, labeled by
// nodeType and status ("success", "error", "timeout").
func (m *Metrics) RecordNodeLatency(nodeType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.NodeLatency.WithLabelValues(nodeType, status).Observe(float64(d.Milliseconds()))
}

// SetInflightNodes reports the current concurrency gate occupancy.
func (m *Metrics) SetInflightNodes(n int) {
	if m == nil {
		return
	}
	m.InflightNodes.Set(float64(n))
}

// SetQueueDepth reports the current scheduler backlog.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// IncRetries records one retried operation.
func (m *Metrics) IncRetries(kind, reason string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(kind, reason).Inc()
}

// AddLLMCost accumulates one LLM call's estimated cost.
func (m *Metrics) AddLLMCost(modelID string, usd float64) {
	if m == nil {
		return
	}
	m.LLMCostUSD.WithLabelValues(modelID).Add(usd)
}

// Handler returns the promhttp handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
