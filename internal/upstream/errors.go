package upstream

import (
	"context"
	"errors"
	"strings"

	"github.com/tbourn/go-labsync-backend/internal/gate"
)

var (
	// ErrUnavailable is returned for transport failures, timeouts and 5xx
	// responses. It is the only class the circuit breaker counts.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrRejected is returned for well-formed error responses.
	ErrRejected = errors.New("upstream rejected request")

	// ErrAuthExpired is returned when the partner reports an invalid or
	// expired credential, usually inside an HTTP 200 body.
	ErrAuthExpired = errors.New("upstream credential expired")

	// ErrCircuitOpen is returned when the gate refused to place the call.
	ErrCircuitOpen = gate.ErrCircuitOpen
)

// IsCountedFailure reports whether err should count against the circuit
// breaker. Rejections and auth signals mean the partner is up.
func IsCountedFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrAuthExpired) {
		return false
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// authSignals are lower-cased fragments the partner puts in the "response"
// field when the key or token is no longer accepted.
var authSignals = []string{
	"invalid api key",
	"invalid apikey",
	"invalid key",
	"invalid token",
	"invalid access token",
	"invalid session",
	"session expired",
	"token expired",
	"key expired",
	"unauthorized",
	"unauthorised",
}

// IsAuthFailureText reports whether a partner "response" text carries the
// invalid-credential signature.
func IsAuthFailureText(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	for _, sig := range authSignals {
		if strings.Contains(s, sig) {
			return true
		}
	}
	return false
}

func isSuccessText(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, "success") || strings.EqualFold(s, "ok")
}
