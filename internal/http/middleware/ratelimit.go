// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory token-bucket rate limiter keyed by
// operator principal or client IP, built on golang.org/x/time/rate.
//
// Every request draws from a global per-identity bucket. Routes registered
// with WithRouteLimit additionally draw from their own per-identity bucket,
// which keeps partner-heavy endpoints such as bulk sync from being hammered
// even when the global budget allows it. A request is admitted only when all
// of its buckets have a token; otherwise none is consumed and the response
// carries a Retry-After derived from the bucket refill time.
//
// Idempotent replays flagged by IdempotencyValidator skip limiting.
// The limiter is process-local and is not an authorization mechanism.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByPrincipalOrIP returns a keyFunc that prefers an operator identity (the
// Gin context value "principal" or the X-Admin-ID header) and falls back to
// the client IP address. Keys are prefixed, e.g. "principal:ops" or
// "ip:203.0.113.7".
func KeyByPrincipalOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get("principal"); ok {
			if s, ok := v.(string); ok && s != "" {
				return "principal:" + s
			}
		}
		if h := strings.TrimSpace(c.GetHeader(HeaderAdminID)); h != "" {
			return "principal:" + h
		}
		return "ip:" + c.ClientIP()
	}
}

type bucketSpec struct {
	rps   rate.Limit
	burst int
}

func newBucketSpec(rps float64, burst int) bucketSpec {
	if burst <= 0 {
		burst = 1
	}
	return bucketSpec{rps: rate.Limit(rps), burst: burst}
}

// visitor holds a single limiter and the last time it was used.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	global bucketSpec
	routes map[string]bucketSpec // "METHOD /full/path"
	keyFn  keyFunc

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
}

// RateOption customizes a RateLimiter.
type RateOption func(*RateLimiter)

// WithRouteLimit adds a per-identity bucket for one registered route (Gin
// FullPath, e.g. "/api/v1/admin/orders/sync").
func WithRouteLimit(method, route string, rps float64, burst int) RateOption {
	return func(rl *RateLimiter) {
		rl.routes[strings.ToUpper(method)+" "+route] = newBucketSpec(rps, burst)
	}
}

// NewRateLimiter constructs a RateLimiter with the given global tokens per
// second and burst (values <= 0 are coerced to 1), keyed by keyFn.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc, opts ...RateOption) *RateLimiter {
	rl := &RateLimiter{
		global:   newBucketSpec(rps, burst),
		routes:   make(map[string]bucketSpec),
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      visitorTTL,
	}
	for _, o := range opts {
		o(rl)
	}
	return rl
}

const (
	visitorTTL = 10 * time.Minute
	sweepEvery = 5000
)

// sweep drops limiters idle for at least ttl. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) >= rl.ttl {
			delete(rl.visitors, k)
		}
	}
}

// getVisitor returns the limiter for key, creating it from spec if absent.
// An idle limiter evicted by sweep comes back full.
func (rl *RateLimiter) getVisitor(key string, spec bucketSpec) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.lookups++; rl.lookups%sweepEvery == 0 {
		rl.sweep(now)
	}
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(spec.rps, spec.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// admit takes one token from every bucket the request draws from. On
// refusal nothing is consumed and the longest wait is returned.
func (rl *RateLimiter) admit(c *gin.Context, now time.Time) (bool, time.Duration) {
	id := rl.keyFn(c)
	lims := []*rate.Limiter{rl.getVisitor(id, rl.global)}
	routeKey := c.Request.Method + " " + c.FullPath()
	if spec, ok := rl.routes[routeKey]; ok {
		lims = append(lims, rl.getVisitor(routeKey+"|"+id, spec))
	}

	reservations := make([]*rate.Reservation, 0, len(lims))
	var wait time.Duration
	denied := false
	for _, lim := range lims {
		r := lim.ReserveN(now, 1)
		if !r.OK() {
			denied = true
			wait = max(wait, time.Second)
			continue
		}
		reservations = append(reservations, r)
		if d := r.DelayFrom(now); d > 0 {
			denied = true
			wait = max(wait, d)
		}
	}
	if denied {
		for _, r := range reservations {
			r.CancelAt(now)
		}
		return false, wait
	}
	return true, 0
}

// IsRateBypass reports whether IdempotencyValidator marked this request as
// a replay that skips rate limiting.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// retryAfter renders d as whole seconds, at least 1.
func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// Handler returns the Gin middleware. Refused requests get
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: <seconds>
//	{"request_id": "...", "code": "too_many_requests", "message": "rate limit exceeded"}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		if ok, wait := rl.admit(c, time.Now()); !ok {
			c.Header("Retry-After", retryAfter(wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "too_many_requests",
				"message":    "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
