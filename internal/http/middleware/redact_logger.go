// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RedactingLogger is the access log. It never logs bodies, scrubs partner
// credentials and patient identifiers (emails, phone numbers, UUIDs) out of
// the query string and headers, and installs a request-scoped logger that
// handlers retrieve with LoggerFrom.
//
//	r.Use(middleware.RequestID())
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Partner-Token"},
//	}))
//
// Scrubbing is pattern based and best effort.
package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	redacted = "[REDACTED]"

	// maxQueryLogLength caps the logged query string.
	maxQueryLogLength = 2048
)

// RedactOptions adds header names (case-insensitive) whose values are
// replaced wholesale. Authorization, Cookie, Set-Cookie and X-Api-Key are
// always masked.
type RedactOptions struct {
	MaskHeaders []string
}

// Applied in order: secrets first, UUIDs before phone numbers since the
// phone pattern would otherwise eat UUID digit groups.
var scrubRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/\-]+=*`), "Bearer " + redacted},
	{regexp.MustCompile(`(?i)\b((?:api_?key|access_?token|token|password)=)[^&\s]*`), "${1}" + redacted},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

func scrub(s string) string {
	for _, r := range scrubRules {
		if s == "" {
			break
		}
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

type headerScrubber map[string]struct{}

func newHeaderScrubber(extra []string) headerScrubber {
	hs := headerScrubber{"authorization": {}, "cookie": {}, "set-cookie": {}, "x-api-key": {}}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hs[h] = struct{}{}
		}
	}
	return hs
}

func (hs headerScrubber) apply(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, masked := hs[strings.ToLower(k)]; masked {
			out[k] = redacted
			continue
		}
		out[k] = scrub(strings.Join(vv, ", "))
	}
	return out
}

// levelFor picks the access log level: error for 5xx or handler errors,
// warn for 4xx.
func levelFor(status int, hasErrors bool) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError || hasErrors:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// RedactingLogger returns the scrubbing access-log middleware. One
// "http_request" line is written per request after the handler chain.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	headers := newHeaderScrubber(opts.MaskHeaders)

	return func(c *gin.Context) {
		start := time.Now()

		lg := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("principal", Principal(c)).
			Str("method", c.Request.Method).
			Str("route", routeLabel(c)).
			Logger()
		c.Set(loggerKey, &lg)

		query := truncate(scrub(c.Request.URL.RawQuery), maxQueryLogLength)
		safeHeaders := headers.apply(c.Request.Header)

		c.Next()

		status := c.Writer.Status()
		ev := lg.WithLevel(levelFor(status, len(c.Errors) > 0)).
			Str("path", scrub(c.Request.URL.Path)).
			Str("query", query).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders)
		if key, ok := GetIdempotencyKey(c); ok {
			ev = ev.Str("idempotency_key", key).Bool("replayed", IsReplay(c))
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Msg("http_request")
	}
}
