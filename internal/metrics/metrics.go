package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors exported on /metrics.
type Metrics struct {
	// QueueLeased counts work items leased by the feeder.
	// Labels: priority (GENERAL|PREMIUM)
	QueueLeased *prometheus.CounterVec

	// QueueProcessed counts items leaving a worker.
	// Labels: status (completed|failed|abandoned)
	QueueProcessed *prometheus.CounterVec

	// QueueProcessDuration measures handler time per work item in seconds.
	QueueProcessDuration prometheus.Histogram

	// QueueLocalDepth is the number of leased items waiting for a worker.
	QueueLocalDepth prometheus.Gauge

	// LLMRequests counts upstream model calls.
	// Labels: client (stream|sync|tools), status (success|error)
	LLMRequests *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QueueLeased: f.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_leased_total",
			Help: "Work items leased from the durable queue.",
		}, []string{"priority"}),
		QueueProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_processed_total",
			Help: "Work items that left a worker, by outcome.",
		}, []string{"status"}),
		QueueProcessDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "queue_process_duration_seconds",
			Help:    "Time spent processing one work item.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		QueueLocalDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "queue_local_depth",
			Help: "Leased work items waiting in the in-process queue.",
		}),
		LLMRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Upstream model calls by client.",
		}, []string{"client", "status"}),
		ToolExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tool_executions_total",
			Help: "Tool invocations by tool name.",
		}, []string{"tool", "status"}),
	}
}

// NewNop returns metrics bound to a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveLLM records one upstream model call.
func (m *Metrics) ObserveLLM(client string, err error) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(client, statusLabel(err)).Inc()
}

// ObserveTool records one tool invocation.
func (m *Metrics) ObserveTool(tool string, err error) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, statusLabel(err)).Inc()
}
