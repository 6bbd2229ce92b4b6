package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveLLM(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveLLM("sync", nil)
	m.ObserveLLM("sync", errors.New("boom"))
	m.ObserveLLM("sync", nil)

	if got := testutil.ToFloat64(m.LLMRequests.WithLabelValues("sync", "success")); got != 2 {
		t.Errorf("Expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.LLMRequests.WithLabelValues("sync", "error")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveLLM("stream", nil)
	m.ObserveTool("add_purchase", nil)
}
