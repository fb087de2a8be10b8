package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Records(t *testing.T) {
	c := New(DefaultConfig())

	c.RecordRun("api", "completed", 20*time.Millisecond)
	c.RecordRun("webhook", "failed", time.Millisecond)
	c.RecordStep("clean", "completed", time.Millisecond)
	c.RecordDemotion("redis", "postgres")
	c.RecordDelivery("delivered")
	c.RecordHTTPRequest(http.MethodGet, "/pipelines", 200, time.Millisecond)

	if got := testutil.ToFloat64(c.Runs.WithLabelValues("api", "completed")); got != 1 {
		t.Errorf("expected 1 api run, got %v", got)
	}
	if got := testutil.ToFloat64(c.Steps.WithLabelValues("clean", "completed")); got != 1 {
		t.Errorf("expected 1 clean step, got %v", got)
	}
	if got := testutil.ToFloat64(c.Demotions.WithLabelValues("redis", "postgres")); got != 1 {
		t.Errorf("expected 1 demotion, got %v", got)
	}
	if got := testutil.ToFloat64(c.HTTPRequestsTotal.WithLabelValues("GET", "/pipelines", "200")); got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New(Config{Namespace: "cf"})
	c.RecordDelivery("dead_letter")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `cf_queue_deliveries_total{status="dead_letter"} 1`) {
		t.Errorf("metric missing from exposition:\n%s", body)
	}
	if c.Path() != "/metrics" {
		t.Errorf("expected default path, got %s", c.Path())
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.RecordRun("api", "completed", time.Second)
	c.RecordStep("clean", "completed", time.Second)
	c.RecordDemotion("a", "b")
	c.RecordDelivery("delivered")
	c.RecordHTTPRequest("GET", "/", 200, time.Second)
	if c.Registry() != nil {
		t.Error("nil collector should have no registry")
	}
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 from nil collector, got %d", rec.Code)
	}
}
