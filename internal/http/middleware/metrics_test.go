package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabels_UnmatchedAndInflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/admin/orders/:id", func(c *gin.Context) { c.String(http.StatusOK, "order") })
	r.POST("/admin/orders/:id/reference", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseOrder := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/admin/orders/:id", "200"))
	baseMiss := testutil.ToFloat64(httpReqs.WithLabelValues("GET", RouteUnmatched, "404"))

	for _, id := range []string{"o1", "o2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/orders/"+id, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET order -> %d", w.Code)
		}
	}
	for _, p := range []string{"/wp-login.php", "/.env"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/orders/o1/reference", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("POST reference -> %d", w.Code)
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/admin/orders/:id", "200")); got != baseOrder+2 {
		t.Fatalf("order route counter = %v; want %v", got, baseOrder+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", RouteUnmatched, "404")); got != baseMiss+2 {
		t.Fatalf("unmatched counter = %v; want %v", got, baseMiss+2)
	}
	if n := testutil.ToFloat64(httpInflight); n != 0 {
		t.Fatalf("inflight = %v; want 0", n)
	}
}

func TestMetrics_CountsReplaysAndThrottles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(_ context.Context, _, _, key string, _ time.Time) (bool, error) {
		return key == "seen", nil
	}))
	rl := NewRateLimiter(0.0001, 1, func(*gin.Context) string { return "one" })
	r.Use(rl.Handler())
	r.POST("/admin/orders/sync", func(c *gin.Context) { c.Status(http.StatusOK) })

	const route = "/admin/orders/sync"
	baseReplay := testutil.ToFloat64(httpReplays.WithLabelValues(route))
	baseThrottle := testutil.ToFloat64(httpThrottled.WithLabelValues(route))

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, route, nil)
		if key != "" {
			req.Header.Set(HeaderIdempotencyKey, key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := send(""); code != http.StatusOK {
		t.Fatalf("first -> %d", code)
	}
	if code := send(""); code != http.StatusTooManyRequests {
		t.Fatalf("second -> %d; want 429", code)
	}
	if code := send("seen"); code != http.StatusOK {
		t.Fatalf("replay -> %d; want bypass", code)
	}

	if got := testutil.ToFloat64(httpReplays.WithLabelValues(route)); got != baseReplay+1 {
		t.Fatalf("replays = %v; want %v", got, baseReplay+1)
	}
	if got := testutil.ToFloat64(httpThrottled.WithLabelValues(route)); got != baseThrottle+1 {
		t.Fatalf("throttled = %v; want %v", got, baseThrottle+1)
	}
}
