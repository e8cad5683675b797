// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// SecurityHeaders hardens every JSON response; NoStore marks a route group
// uncacheable. The API serves no HTML, so there is no CSP here.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS sends Strict-Transport-Security on HTTPS requests only.
	// Turn it on only when the proxy-to-app hop is HTTPS as well.
	EnableHSTS bool
	// HSTSMaxAge defaults to 180 days when <= 0.
	HSTSMaxAge time.Duration
	// NoStore applies NoStore to every response.
	NoStore bool
	// EnablePolicy adds Permissions-Policy and
	// X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool
}

type header struct{ name, value string }

var (
	baselineHeaders = []header{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
	}
	policyHeaders = []header{
		{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()"},
		{"X-Permitted-Cross-Domain-Policies", "none"},
	}
	noStoreHeaders = []header{
		{"Cache-Control", "no-store"},
		{"Pragma", "no-cache"},
		{"Expires", "0"},
	}
)

func setAll(h http.Header, hs []header) {
	for _, kv := range hs {
		h.Set(kv.name, kv.value)
	}
}

// exposeHeader adds name to Access-Control-Expose-Headers once.
func exposeHeader(h http.Header, name string) {
	const key = "Access-Control-Expose-Headers"
	cur := h.Get(key)
	switch {
	case cur == "":
		h.Set(key, name)
	case !strings.Contains(strings.ToLower(cur), strings.ToLower(name)):
		h.Set(key, cur+", "+name)
	}
}

// SecurityHeaders returns the hardening middleware. It also exposes
// X-Request-ID to browser clients when the request carries one.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains; preload"

	set := append([]header{}, baselineHeaders...)
	if opt.EnablePolicy {
		set = append(set, policyHeaders...)
	}
	if opt.NoStore {
		set = append(set, noStoreHeaders...)
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		setAll(h, set)
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if h.Get(requestIDHeader) != "" {
			exposeHeader(h, requestIDHeader)
		}
		c.Next()
	}
}

// isHTTPS trusts X-Forwarded-Proto; the service runs behind a proxy.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// NoStore marks every response of a route group as uncacheable. Admin and
// upstream routes carry order PII and partner session metadata.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		setAll(c.Writer.Header(), noStoreHeaders)
		c.Next()
	}
}
