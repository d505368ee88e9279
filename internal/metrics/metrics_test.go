package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.CouponIssue(ResultSuccess)
	m.CouponIssue(ResultSuccess)
	m.CouponIssue(ResultFailure)
	m.CompensationFailure("stock")

	if got := testutil.ToFloat64(m.couponIssueTotal.WithLabelValues(ResultSuccess)); got != 2 {
		t.Fatalf("expected 2 successful issues, got %v", got)
	}
	if got := testutil.ToFloat64(m.compensationFailTotal.WithLabelValues("stock")); got != 1 {
		t.Fatalf("expected 1 compensation failure, got %v", got)
	}
}

func TestMetricsHandlerExposesSeries(t *testing.T) {
	m := New()
	m.SagaStage("validation", ResultSuccess, time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "flashsale_saga_stage_total") {
		t.Fatalf("expected saga stage series in output")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CouponIssue(ResultSuccess)
	m.SagaStage("validation", ResultFailure, time.Now())
	m.Compensation("order_cancel", ResultSuccess)
	m.CompensationFailure("point")
	m.TaskProcessed("order:cancel", ResultSuccess)
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have nil registry")
	}
}

func TestMetricsHTTPRequest(t *testing.T) {
	m := New()
	m.HTTPRequest("/api/v1/coupons/:id/issue", "POST", 200, 3*time.Millisecond)
	m.HTTPRequest("/api/v1/coupons/:id/issue", "POST", 200, 5*time.Millisecond)

	got := testutil.ToFloat64(m.httpRequestTotal.WithLabelValues("/api/v1/coupons/:id/issue", "POST", "200"))
	if got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
	var nilMetrics *Metrics
	nilMetrics.HTTPRequest("/x", "GET", 500, time.Millisecond)
}
