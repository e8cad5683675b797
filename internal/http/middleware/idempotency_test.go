package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestPrincipal_FallbackChain(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/orders/sync", nil)

	if got := Principal(c); got != DefaultPrincipal {
		t.Fatalf("no identity: %q", got)
	}
	c.Request.Header.Set(HeaderAdminID, " ops-1 ")
	if got := Principal(c); got != "ops-1" {
		t.Fatalf("header: %q", got)
	}
	c.Set("principal", "sso:jane")
	if got := Principal(c); got != "sso:jane" {
		t.Fatalf("context: %q", got)
	}
	c.Set("principal", 42)
	if got := Principal(c); got != "ops-1" {
		t.Fatalf("non-string context value should fall through: %q", got)
	}
}

func TestIdempotencyAccessors_IgnoreForeignTypes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if _, ok := GetIdempotencyKey(c); ok || IsReplay(c) || IdempotencyScope(c) != "" {
		t.Fatalf("empty context should report nothing")
	}
	c.Set(ctxKeyIdemKey, 123)
	c.Set(ctxKeyIdemReplay, "yes")
	c.Set(ctxKeyIdemScope, 7)
	if _, ok := GetIdempotencyKey(c); ok || IsReplay(c) || IdempotencyScope(c) != "" {
		t.Fatalf("foreign value types should read as absent")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatalf("IsReplay should be true")
	}
}

func TestIdempotencyValidator_RejectsMalformedKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long for custom max", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"too long for default max", IdempotencyOptions{}, strings.Repeat("k", defaultIdemMaxLen+1)},
		{"default pattern", IdempotencyOptions{}, "sync run 1"},
		{"custom pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestID(), IdempotencyValidator(tc.opts, func(context.Context, string, string, string, time.Time) (bool, error) {
				t.Fatalf("lookup must not run for a rejected key")
				return false, nil
			}))
			r.POST("/admin/orders/sync", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodPost, "/admin/orders/sync", nil)
			req.Header.Set(HeaderIdempotencyKey, tc.key)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d; want 400", w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != "bad_idempotency_key" || body["request_id"] != w.Header().Get(requestIDHeader) {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestIdempotencyValidator_NoHeaderSkipsLookup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	called := false
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		called = true
		return true, nil
	}))
	r.POST("/admin/orders/sync", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok || IsReplay(c) {
			t.Fatalf("nothing should be stashed without the header")
		}
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/orders/sync", nil))
	if w.Code != http.StatusAccepted || called {
		t.Fatalf("status=%d called=%v", w.Code, called)
	}
}

func TestIdempotencyValidator_LookupOutcomes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	type seen struct{ principal, scope, key string }
	cases := []struct {
		name       string
		opts       IdempotencyOptions
		admin      string
		hit        bool
		err        error
		wantReplay bool
		wantSeen   seen
	}{
		{
			name:     "miss uses route scope and default principal",
			wantSeen: seen{DefaultPrincipal, "POST /admin/orders/sync", "k-1"},
		},
		{
			name:       "hit marks replay",
			opts:       IdempotencyOptions{Scope: func(*gin.Context) string { return "orders.sync" }},
			admin:      "ops-9",
			hit:        true,
			wantReplay: true,
			wantSeen:   seen{"ops-9", "orders.sync", "k-1"},
		},
		{
			name:     "lookup error is a miss",
			admin:    "ops-9",
			hit:      true,
			err:      errors.New("database is locked"),
			wantSeen: seen{"ops-9", "POST /admin/orders/sync", "k-1"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogger(t)
			var got seen
			r := gin.New()
			r.Use(RedactingLogger(RedactOptions{}))
			r.Use(IdempotencyValidator(tc.opts, func(_ context.Context, principal, scope, key string, now time.Time) (bool, error) {
				if now.IsZero() || now.Location() != time.UTC {
					t.Fatalf("lookup time should be UTC, got %v", now)
				}
				got = seen{principal, scope, key}
				return tc.hit, tc.err
			}))
			r.POST("/admin/orders/sync", func(c *gin.Context) {
				if IsReplay(c) != tc.wantReplay || IsRateBypass(c) != tc.wantReplay {
					t.Fatalf("replay=%v bypass=%v; want %v", IsReplay(c), IsRateBypass(c), tc.wantReplay)
				}
				if k, _ := GetIdempotencyKey(c); k != "k-1" {
					t.Fatalf("stashed key = %q", k)
				}
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/admin/orders/sync", nil)
			req.Header.Set(HeaderIdempotencyKey, "k-1")
			if tc.admin != "" {
				req.Header.Set(HeaderAdminID, tc.admin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if got != tc.wantSeen {
				t.Fatalf("lookup saw %+v; want %+v", got, tc.wantSeen)
			}
			logged := strings.Contains(buf.String(), "idempotency lookup failed")
			if logged != (tc.err != nil) {
				t.Fatalf("lookup failure logged=%v; err=%v", logged, tc.err)
			}
		})
	}
}
