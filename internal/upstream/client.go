// Package upstream is the HTTP client for the laboratory-network partner API.
//
// Every request is placed through a gate.Gate, so callers get queueing,
// pacing, circuit breaking and a per-call timeout without doing anything
// themselves. The partner reports many failures inside HTTP 200 bodies; the
// client inspects the "response" field and maps it onto ErrRejected or
// ErrAuthExpired.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tbourn/go-labsync-backend/internal/domain"
	"github.com/tbourn/go-labsync-backend/internal/gate"
)

// Partner endpoint paths, relative to the base URL.
const (
	PathLogin        = "/api/Login/Login"
	PathQuote        = "/api/CartMaster/DSAViewCartDTL"
	PathOrderSummary = "/api/OrderSummary/OrderSummary"
)

// Endpoint names used as the gate "endpoint" metric label.
const (
	EndpointLogin        = "login"
	EndpointQuote        = "quote"
	EndpointOrderSummary = "order_summary"
)

// maxBody caps how much of a partner response body is read.
const maxBody = 4 << 20

// Client talks to the partner API. Construct with NewClient.
type Client struct {
	baseURL string
	http    *http.Client
	gate    *gate.Gate
	logger  zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default otelhttp-instrumented client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a Client for baseURL. The per-call timeout is owned by g.
func NewClient(baseURL string, g *gate.Gate, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		gate:    g,
		logger:  log.Logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// call describes one partner request.
type call struct {
	endpoint string
	path     string
	priority gate.Priority
	cred     *domain.Credential
	body     any
}

// post runs the request through the gate and returns the raw response body.
func (c *Client) post(ctx context.Context, cl call) ([]byte, error) {
	payload, err := json.Marshal(cl.body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", cl.endpoint, err)
	}
	opts := gate.TaskOptions{
		Priority: cl.priority,
		Metadata: map[string]string{"endpoint": cl.endpoint},
	}
	return gate.Run(ctx, c.gate, opts, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, cl, payload)
	})
}

func (c *Client) do(ctx context.Context, cl call, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+cl.path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if cl.cred != nil {
		if cl.cred.Token != "" {
			req.Header.Set("Authorization", "Bearer "+cl.cred.Token)
		}
		if cl.cred.APIKey != "" {
			req.Header.Set("X-Api-Key", cl.cred.APIKey)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, cl.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %w", ErrUnavailable, cl.endpoint, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnavailable, cl.endpoint, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s returned %d", ErrAuthExpired, cl.endpoint, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s throttled", ErrUnavailable, cl.endpoint)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrRejected, cl.endpoint, resp.StatusCode, snippet(body))
	}

	c.logger.Debug().
		Str("endpoint", cl.endpoint).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("upstream response")
	return body, nil
}

// envelope is the status field every partner response carries.
type envelope struct {
	Response string `json:"response"`
}

// checkEnvelope maps the "response" text onto the error taxonomy.
func checkEnvelope(endpoint string, text string) error {
	if IsAuthFailureText(text) {
		return fmt.Errorf("%w: %s: %s", ErrAuthExpired, endpoint, text)
	}
	if !isSuccessText(text) {
		return fmt.Errorf("%w: %s: %s", ErrRejected, endpoint, text)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
