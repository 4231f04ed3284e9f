package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_ObserveExecution(t *testing.T) {
	c := NewCollector()

	c.ObserveExecution("success", 200*time.Millisecond)
	c.ObserveExecution("success", 100*time.Millisecond)
	c.ObserveExecution("timeout", 3*time.Second)

	if got := testutil.ToFloat64(c.executions.WithLabelValues("success")); got != 2 {
		t.Errorf("executions{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.executions.WithLabelValues("timeout")); got != 1 {
		t.Errorf("executions{timeout} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.executionDuration); got != 1 {
		t.Errorf("execution duration series = %d, want 1", got)
	}
}

func TestCollector_ObserveRefresh(t *testing.T) {
	c := NewCollector()

	c.ObserveRefresh(16, nil)
	c.ObserveRefresh(0, errors.New("boom"))

	if got := testutil.ToFloat64(c.refreshes.WithLabelValues("success")); got != 1 {
		t.Errorf("refresh{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.refreshes.WithLabelValues("error")); got != 1 {
		t.Errorf("refresh{error} = %v, want 1", got)
	}
	// A failed refresh leaves the last good count in place.
	if got := testutil.ToFloat64(c.exercisesLoaded); got != 16 {
		t.Errorf("exercises_loaded = %v, want 16", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.ObserveRequest(http.MethodGet, "GET /v1/exercises", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`portal_http_requests_total{method="GET",route="GET /v1/exercises",status="200"} 1`,
		"portal_http_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
