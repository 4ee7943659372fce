package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncrementEvaluation("AUTHORIZED", "WITHIN_POLICY")
	m.IncrementConflict()
	m.IncrementTransient()
	m.IncrementIntegrityFailure()
	m.ObserveCommitLatency(time.Millisecond)
	m.SetAlerts(map[string]int{"CRITICAL": 1})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncrementEvaluation("DENIED", "PER_USE_CEILING")
	m.IncrementEvaluation("DENIED", "PER_USE_CEILING")
	m.IncrementConflict()

	if got := testutil.ToFloat64(m.Evaluations.WithLabelValues("DENIED", "PER_USE_CEILING")); got != 2 {
		t.Errorf("expected 2 denials, got %v", got)
	}
	if got := testutil.ToFloat64(m.CommitConflicts); got != 1 {
		t.Errorf("expected 1 conflict, got %v", got)
	}
}

func TestSetAlertsResets(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetAlerts(map[string]int{"CRITICAL": 3, "WARNING": 1})
	m.SetAlerts(map[string]int{"INFO": 2})

	if got := testutil.CollectAndCount(m.Alerts); got != 1 {
		t.Errorf("expected only the latest levels, got %d series", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncrementIntegrityFailure()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "mandate_integrity_failures_total 1") {
		t.Errorf("expected integrity counter in output, got:\n%s", body)
	}
}
