// Package gate implements the Resilience Gate: the single choke point every
// upstream partner call passes through. A priority Queue paces and bounds
// outbound concurrency; a Breaker contains failures so a struggling partner
// sees a trickle of probes instead of a stampede.
//
// A Gate is process-wide state. Construct one in main and inject it.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the conventional upper-case name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned without calling the task while the breaker is
// OPEN, or while a HALF_OPEN probe is already in flight.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerConfig tunes the breaker.
//
//   - Threshold: failures inside Window that trip the breaker (>= 1).
//   - Window: rolling window failures are counted in.
//   - CoolDown: time spent OPEN before a single probe is allowed.
type BreakerConfig struct {
	Threshold int
	Window    time.Duration
	CoolDown  time.Duration
}

// DefaultBreakerConfig trips after 5 failures within a minute and probes
// again after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Window: time.Minute, CoolDown: 30 * time.Second}
}

// BreakerSnapshot is a point-in-time view of the breaker.
type BreakerSnapshot struct {
	State    State      `json:"-"`
	StateStr string     `json:"state"`
	Failures int        `json:"failures"`
	OpenedAt *time.Time `json:"opened_at,omitempty"`
}

// Breaker is a mutex-guarded three-state circuit breaker. All transitions
// happen under mu, so concurrent completions are each counted.
type Breaker struct {
	cfg       BreakerConfig
	now       func() time.Time
	isFailure func(error) bool
	onChange  func(from, to State)
	logger    zerolog.Logger

	mu       sync.Mutex
	state    State
	failures []time.Time
	openedAt time.Time
	probing  bool
}

// BreakerOption customizes a Breaker.
type BreakerOption func(*Breaker)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithFailurePredicate decides which task errors count as failures. Errors
// for which it returns false are treated as successes: the dependency
// answered, even if it said no.
func WithFailurePredicate(fn func(error) bool) BreakerOption {
	return func(b *Breaker) { b.isFailure = fn }
}

// WithStateChange registers a callback invoked (under the breaker lock) on
// every transition. It must not call back into the breaker.
func WithStateChange(fn func(from, to State)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// WithBreakerLogger sets the logger used for transition messages.
func WithBreakerLogger(l zerolog.Logger) BreakerOption {
	return func(b *Breaker) { b.logger = l }
}

// NewBreaker constructs a CLOSED breaker. Non-positive config values fall
// back to DefaultBreakerConfig.
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = def.CoolDown
	}
	b := &Breaker{
		cfg:       cfg,
		now:       time.Now,
		isFailure: func(err error) bool { return err != nil },
		logger:    log.Logger,
		state:     StateClosed,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Execute runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	runErr := fn(ctx)
	if probe && errors.Is(runErr, context.Canceled) {
		b.abandonProbe()
		return runErr
	}
	b.record(probe, runErr != nil && b.isFailure(runErr))
	return runErr
}

// abandonProbe handles a probe whose caller went away. Nothing was learned
// about the partner, so the breaker returns to OPEN with its original
// openedAt and the next call probes again.
func (b *Breaker) abandonProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	b.transition(StateOpen)
}

// admit decides whether a call may proceed. It reports whether the call is
// the HALF_OPEN probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.CoolDown {
			return false, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return true, nil
	case StateHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, ErrCircuitOpen
}

func (b *Breaker) record(probe, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if probe {
		b.probing = false
		if failed {
			b.openedAt = now
			b.transition(StateOpen)
			return
		}
		b.failures = b.failures[:0]
		b.transition(StateClosed)
		return
	}

	// A call admitted while CLOSED may finish after another call tripped the
	// breaker; its outcome no longer affects state.
	if b.state != StateClosed || !failed {
		return
	}
	b.failures = append(b.pruned(now), now)
	if len(b.failures) >= b.cfg.Threshold {
		b.openedAt = now
		b.transition(StateOpen)
	}
}

// pruned drops failures that fell out of the window. Caller holds mu.
func (b *Breaker) pruned(now time.Time) []time.Time {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failures) && !b.failures[i].After(cutoff) {
		i++
	}
	return append(b.failures[:0], b.failures[i:]...)
}

// transition changes state and notifies. Caller holds mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case StateOpen:
		b.logger.Warn().Str("from", from.String()).Int("failures", len(b.failures)).Msg("upstream circuit opened")
	case StateClosed:
		b.logger.Info().Str("from", from.String()).Msg("upstream circuit closed")
	default:
		b.logger.Info().Str("from", from.String()).Msg("upstream circuit half-open, probing")
	}
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// Snapshot returns the current state and in-window failure count.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = b.pruned(b.now())
	s := BreakerSnapshot{State: b.state, StateStr: b.state.String(), Failures: len(b.failures)}
	if b.state != StateClosed {
		t := b.openedAt
		s.OpenedAt = &t
	}
	return s
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
