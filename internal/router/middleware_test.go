package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dujiao-next/flashsale/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": getRequestID(c)})
	})

	cases := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "upstream id kept", header: "req-123", keep: true},
		{name: "missing id generated", header: ""},
		{name: "oversized id replaced", header: strings.Repeat("a", maxRequestIDLength+1)},
		{name: "blank inside replaced", header: "bad id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tc.header != "" {
				req.Header.Set(requestIDHeader, tc.header)
			}
			r.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if tc.keep && got != tc.header {
				t.Fatalf("request id want %s got %s", tc.header, got)
			}
			if !tc.keep && (got == "" || got == tc.header) {
				t.Fatalf("request id should be regenerated, got %q", got)
			}
			var resp map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal response failed: %v", err)
			}
			if resp["request_id"] != got {
				t.Fatalf("context request id want %s got %s", got, resp["request_id"])
			}
		})
	}
}

func TestLoggerMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := metrics.New()

	r := gin.New()
	r.Use(LoggerMiddleware(zap.NewNop(), m, "/health"))
	r.GET("/orders/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/orders/1", "/orders/2", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m)
	if !strings.Contains(body, `route="/orders/:id"`) || strings.Contains(body, `route="/orders/1"`) {
		t.Fatalf("requests should be labeled by route template, got:\n%s", body)
	}
	if !strings.Contains(body, `route="unmatched"`) {
		t.Fatalf("unknown routes should share one label")
	}
	n, err := testutil.GatherAndCount(m.Registry(), "flashsale_http_requests_total")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 request series, got %d err=%v", n, err)
	}
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape failed: %d", rec.Code)
	}
	return rec.Body.String()
}
