// Package handlers – response envelope helpers.
//
// Every error leaves through fail, so clients always get
//
//	HTTP/1.1 503 Service Unavailable
//	Retry-After: 30
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "upstream_unavailable",
//	  "message": "partner API circuit is open"
//	}
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-labsync-backend/internal/http/middleware"
)

// upstreamRetryAfter is the Retry-After hint on upstream_unavailable. It
// matches the breaker's default cool-down.
const upstreamRetryAfter = 30 * time.Second

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"order not found"`
}

// fail aborts with the envelope. 5xx responses are logged on the request
// logger, partner outages at warn.
func fail(c *gin.Context, status int, code, msg string) {
	if code == ErrCodeUpstreamUnavailable {
		c.Header("Retry-After", strconv.Itoa(int(upstreamRetryAfter.Seconds())))
	}
	if status >= http.StatusInternalServerError {
		level := zerolog.ErrorLevel
		if code == ErrCodeUpstreamUnavailable || code == ErrCodeUpstreamRejected {
			level = zerolog.WarnLevel
		}
		lg := middleware.LoggerFrom(c)
		lg.WithLevel(level).Int("status", status).Str("code", code).Str("message", msg).Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for the router's NoRoute and NoMethod handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
