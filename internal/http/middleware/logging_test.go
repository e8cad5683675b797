package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func TestRequestID_PropagatesOnlyWellFormedIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/orders", func(c *gin.Context) {
		if RequestIDFrom(c) == "" {
			t.Fatalf("request id missing from context")
		}
		c.Status(http.StatusOK)
	})

	cases := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{"absent", "", false},
		{"token", "lab-7f3a:retry.2", true},
		{"spaces", "abc def", false},
		{"newline", "abc\nlevel=error", false},
		{"too long", strings.Repeat("a", maxRequestIDLen+1), false},
		{"max length", strings.Repeat("b", maxRequestIDLen), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tc.inbound != "" {
				req.Header.Set(requestIDHeader, tc.inbound)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if got == "" {
				t.Fatalf("no %s on response", requestIDHeader)
			}
			if tc.keep && got != tc.inbound {
				t.Fatalf("got %q; want inbound id echoed", got)
			}
			if !tc.keep && got == tc.inbound {
				t.Fatalf("inbound %q should have been replaced", tc.inbound)
			}
		})
	}
}

func TestRecovery_PanicBecomesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}), Recovery())
	r.POST("/admin/orders/sync", func(c *gin.Context) { panic("nil synchronizer") })
	r.GET("/partial", func(c *gin.Context) {
		c.String(http.StatusOK, "half")
		panic("after write")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/orders/sync", nil)
	req.Header.Set(requestIDHeader, "rid-panic")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != "rid-panic" {
		t.Fatalf("unexpected body: %v", body)
	}
	out := buf.String()
	if !strings.Contains(out, `"message":"panic recovered"`) || !strings.Contains(out, `"route":"/admin/orders/sync"`) {
		t.Fatalf("panic log lacks request fields:\n%s", out)
	}

	// Once the body has started, only the status is recorded.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/partial", nil))
	if strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("envelope written after partial body: %q", w.Body.String())
	}
}

func TestLoggerFrom_GlobalFallbackVsRequestScoped(t *testing.T) {
	gin.SetMode(gin.TestMode)

	emit := func(mw ...gin.HandlerFunc) string {
		buf := captureLogger(t)
		r := gin.New()
		r.Use(mw...)
		r.GET("/orders/:id", func(c *gin.Context) {
			lg := LoggerFrom(c)
			lg.Info().Str("order_id", c.Param("id")).Msg("order loaded")
			c.Status(http.StatusOK)
		})
		req := httptest.NewRequest(http.MethodGet, "/orders/o-1", nil)
		req.Header.Set(HeaderAdminID, "ops-3")
		r.ServeHTTP(httptest.NewRecorder(), req)
		return buf.String()
	}

	bare := emit(RequestID())
	if !strings.Contains(bare, `"message":"order loaded"`) {
		t.Fatalf("fallback logger did not write:\n%s", bare)
	}
	if strings.Contains(bare, `"request_id"`) {
		t.Fatalf("fallback logger carries request fields:\n%s", bare)
	}

	scoped := emit(RequestID(), RedactingLogger(RedactOptions{}))
	for _, want := range []string{`"request_id"`, `"principal":"ops-3"`, `"route":"/orders/:id"`, `"order_id":"o-1"`} {
		if !strings.Contains(scoped, want) {
			t.Fatalf("scoped log missing %s:\n%s", want, scoped)
		}
	}
}

func Test_validRequestID(t *testing.T) {
	for id, want := range map[string]bool{
		"":                 false,
		"7f3a-11":          true,
		"trace:abc.def_01": true,
		"a/b":              false,
		"é":                false,
	} {
		if got := validRequestID(id); got != want {
			t.Fatalf("validRequestID(%q) = %v; want %v", id, got, want)
		}
	}
}
