// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// IdempotencyValidator checks the Idempotency-Key header on operator
// requests and asks a lookup whether (principal, scope, key) already has a
// stored result. A hit marks the request as a replay, which skips the rate
// limiter; the handler then serves the stored sync run instead of running
// a new one. The middleware never writes a cached body itself.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderIdempotencyKey carries the client's dedup key.
	HeaderIdempotencyKey = "Idempotency-Key"

	// HeaderAdminID names the operator issuing an admin request when no auth
	// middleware has set a principal.
	HeaderAdminID = "X-Admin-ID"

	// DefaultPrincipal is used when a request carries no operator identity.
	DefaultPrincipal = "admin"

	defaultIdemMaxLen = 200
)

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts key characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Scope names the operation a key belongs to; nil means RouteScope.
	Scope func(c *gin.Context) string
}

// IdempotencyLookup reports whether a still-valid stored result exists. TTL
// handling belongs to the implementation. Errors are logged and treated as
// a miss so a broken store degrades to normal processing.
type IdempotencyLookup func(ctx context.Context, principal, scope, key string, now time.Time) (bool, error)

// RouteScope scopes keys by method and registered route, e.g.
// "POST /api/v1/admin/orders/sync".
func RouteScope(c *gin.Context) string {
	return c.Request.Method + " " + c.FullPath()
}

// Principal returns the operator identity for the request: the "principal"
// context value set by auth middleware, then the X-Admin-ID header, then
// DefaultPrincipal.
func Principal(c *gin.Context) string {
	if v, ok := c.Get("principal"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader(HeaderAdminID)); h != "" {
			return h
		}
	}
	return DefaultPrincipal
}

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s, _ := c.Value(ctxKeyIdemKey).(string)
	return s, s != ""
}

// IdempotencyScope returns the scope the key was checked under, or "".
func IdempotencyScope(c *gin.Context) string {
	s, _ := c.Value(ctxKeyIdemScope).(string)
	return s
}

// IsReplay reports whether the lookup found a stored result for this
// request's key.
func IsReplay(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyIdemReplay).(bool)
	return b
}

// IdempotencyValidator returns the middleware. Requests without the header
// pass untouched; a malformed key is answered with 400
// "bad_idempotency_key".
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	scopeOf := opts.Scope
	if scopeOf == nil {
		scopeOf = RouteScope
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}

		scope := scopeOf(c)
		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemScope, scope)

		if lookup != nil {
			principal := Principal(c)
			hit, err := lookup(c.Request.Context(), principal, scope, key, time.Now().UTC())
			if err != nil {
				lg := LoggerFrom(c)
				lg.Warn().Err(err).Str("scope", scope).Msg("idempotency lookup failed")
			}
			if hit && err == nil {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}
