package gate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config bundles the queue, breaker and per-call timeout settings.
type Config struct {
	Queue   QueueConfig
	Breaker BreakerConfig
	// Timeout bounds each task. A timed-out task counts as a failure.
	Timeout time.Duration
}

// DefaultTimeout is applied when Config.Timeout is not positive.
const DefaultTimeout = 30 * time.Second

// Snapshot is the observable state of a Gate.
type Snapshot struct {
	Breaker    BreakerSnapshot `json:"breaker"`
	QueueDepth int             `json:"queue_depth"`
}

// Gate serializes upstream calls through a Queue and guards them with a
// Breaker. It is safe for concurrent use.
type Gate struct {
	queue   *Queue
	breaker *Breaker
	timeout time.Duration
	logger  zerolog.Logger
}

// Option customizes a Gate.
type Option func(*gateOptions)

type gateOptions struct {
	breakerOpts []BreakerOption
	logger      *zerolog.Logger
}

// WithBreakerOptions forwards options to the underlying Breaker.
func WithBreakerOptions(opts ...BreakerOption) Option {
	return func(o *gateOptions) { o.breakerOpts = append(o.breakerOpts, opts...) }
}

// WithLogger sets the logger for the gate and its breaker.
func WithLogger(l zerolog.Logger) Option {
	return func(o *gateOptions) { o.logger = &l }
}

// New builds a Gate and starts its queue workers.
func New(cfg Config, opts ...Option) *Gate {
	var o gateOptions
	for _, fn := range opts {
		fn(&o)
	}
	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	bopts := []BreakerOption{
		WithBreakerLogger(logger),
		WithStateChange(func(_, to State) {
			circuitState.Set(float64(to))
			circuitTransitions.WithLabelValues(to.String()).Inc()
		}),
	}
	bopts = append(bopts, o.breakerOpts...)

	return &Gate{
		queue:   NewQueue(cfg.Queue),
		breaker: NewBreaker(cfg.Breaker, bopts...),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Do queues fn, runs it through the breaker with the per-call timeout, and
// returns its error. ErrCircuitOpen is returned without running fn when the
// breaker refuses the call.
func (g *Gate) Do(ctx context.Context, opts TaskOptions, fn Task) error {
	endpoint := opts.Metadata["endpoint"]
	if endpoint == "" {
		endpoint = "unknown"
	}

	err := g.queue.Enqueue(ctx, func(qctx context.Context) error {
		return g.breaker.Execute(qctx, func(bctx context.Context) error {
			tctx, cancel := context.WithTimeout(bctx, g.timeout)
			defer cancel()

			start := time.Now()
			err := fn(tctx)
			if err == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
				err = context.DeadlineExceeded
			}
			callDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			return err
		})
	}, opts)

	callsTotal.WithLabelValues(endpoint, outcome(err)).Inc()
	if errors.Is(err, ErrCircuitOpen) {
		g.logger.Debug().Str("endpoint", endpoint).Msg("upstream call refused by open circuit")
	}
	return err
}

// Run is Do for tasks producing a value.
func Run[T any](ctx context.Context, g *Gate, opts TaskOptions, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, opts, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Snapshot returns breaker state and queue depth.
func (g *Gate) Snapshot() Snapshot {
	return Snapshot{Breaker: g.breaker.Snapshot(), QueueDepth: g.queue.Len()}
}

// Breaker exposes the underlying breaker (read-only use).
func (g *Gate) Breaker() *Breaker { return g.breaker }

// Close drains the queue. Pending calls fail with ErrQueueClosed.
func (g *Gate) Close() { g.queue.Close() }

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrQueueClosed):
		return "queue_closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
