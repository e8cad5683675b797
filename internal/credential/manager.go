// Package credential owns the partner API credential lifecycle.
//
// A Manager hands out the active credential per principal, refreshing it when
// the partner's daily boundary has passed or when a caller reports an
// invalid-credential signal. Reads are served lock-free from an immutable
// snapshot; refreshes are serialized per principal and, when a Locker is
// configured, across replicas.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

var (
	// ErrUnknownPrincipal is returned for principals without configured
	// partner account credentials.
	ErrUnknownPrincipal = errors.New("unknown upstream principal")
)

// Authenticator performs the partner login call.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (domain.Credential, error)
}

// SessionStore persists session records.
//
// FindActive returns (nil, nil) when the principal has no active session.
// Supersede must deactivate every active session of s.Principal and insert
// s in one transaction.
type SessionStore interface {
	FindActive(ctx context.Context, principal string) (*domain.UpstreamSession, error)
	Supersede(ctx context.Context, s *domain.UpstreamSession) error
	Touch(ctx context.Context, sessionID string, at time.Time) error
}

// Locker is an optional cross-process mutex keyed by string. The returned
// function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}

// Account holds the partner login for one principal.
type Account struct {
	Username string
	Password string
}

// Config configures a Manager.
type Config struct {
	// Accounts maps principal to partner login.
	Accounts map[string]Account
	// Location is the partner's reference timezone. Nil means DefaultOffset.
	Location *time.Location
}

// Manager is safe for concurrent use.
type Manager struct {
	auth     Authenticator
	store    SessionStore
	accounts map[string]Account
	loc      *time.Location
	locker   Locker
	now      func() time.Time
	logger   zerolog.Logger

	// snapshot holds an immutable principal -> credential map.
	snapshot atomic.Pointer[map[string]domain.Credential]
	mu       sync.Mutex
	group    singleflight.Group
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLocker guards refreshes with a distributed lock.
func WithLocker(l Locker) Option { return func(m *Manager) { m.locker = l } }

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager builds a Manager.
func NewManager(auth Authenticator, store SessionStore, cfg Config, opts ...Option) *Manager {
	loc := cfg.Location
	if loc == nil {
		loc, _ = ParseOffset(DefaultOffset)
	}
	accounts := make(map[string]Account, len(cfg.Accounts))
	for k, v := range cfg.Accounts {
		accounts[k] = v
	}
	m := &Manager{
		auth:     auth,
		store:    store,
		accounts: accounts,
		loc:      loc,
		now:      time.Now,
		logger:   log.Logger,
	}
	for _, o := range opts {
		o(m)
	}
	empty := map[string]domain.Credential{}
	m.snapshot.Store(&empty)
	return m
}

// Location returns the reference timezone used for expiry.
func (m *Manager) Location() *time.Location { return m.loc }

// Cached returns the in-memory credential for principal, if any, without
// checking expiry.
func (m *Manager) Cached(principal string) (domain.Credential, bool) {
	c, ok := (*m.snapshot.Load())[principal]
	return c, ok
}

// GetOrRefresh returns a valid credential for principal. The lookup order
// is memory, then the session store, then a fresh login.
func (m *Manager) GetOrRefresh(ctx context.Context, principal string) (domain.Credential, error) {
	tr := otel.Tracer("credential/Manager")
	ctx, span := tr.Start(ctx, "GetOrRefresh", trace.WithAttributes(attribute.String("principal", principal)))
	defer span.End()

	if c, ok := m.Cached(principal); ok && !IsExpired(c, m.now(), m.loc) {
		m.touch(ctx, c)
		return c, nil
	}

	v, err, _ := m.group.Do("load:"+principal, func() (any, error) {
		if c, ok := m.Cached(principal); ok && !IsExpired(c, m.now(), m.loc) {
			return c, nil
		}
		if c, ok := m.loadStored(ctx, principal); ok {
			return c, nil
		}
		return m.refresh(ctx, principal, false)
	})
	if err != nil {
		span.RecordError(err)
		return domain.Credential{}, err
	}
	c := v.(domain.Credential)
	m.touch(ctx, c)
	return c, nil
}

// ForceRefresh re-authenticates unconditionally and supersedes the session
// record. Concurrent calls for the same principal share one login.
func (m *Manager) ForceRefresh(ctx context.Context, principal string) (domain.Credential, error) {
	tr := otel.Tracer("credential/Manager")
	ctx, span := tr.Start(ctx, "ForceRefresh", trace.WithAttributes(attribute.String("principal", principal)))
	defer span.End()

	c, err := m.refresh(ctx, principal, true)
	if err != nil {
		span.RecordError(err)
	}
	return c, err
}

// RefreshStale forces a refresh unless the cached credential has already
// moved past stale (another caller refreshed it) and is still valid.
func (m *Manager) RefreshStale(ctx context.Context, principal string, stale domain.Credential) (domain.Credential, error) {
	if c, ok := m.Cached(principal); ok && !sameCredential(c, stale) && !IsExpired(c, m.now(), m.loc) {
		return c, nil
	}
	return m.ForceRefresh(ctx, principal)
}

// refreshResult is what one refresh flight hands its waiters. Fresh is false
// when the flight adopted a session another replica stored.
type refreshResult struct {
	cred  domain.Credential
	fresh bool
}

func (m *Manager) refresh(ctx context.Context, principal string, force bool) (domain.Credential, error) {
	acct, ok := m.accounts[principal]
	if !ok {
		return domain.Credential{}, fmt.Errorf("%w: %q", ErrUnknownPrincipal, principal)
	}

	for {
		v, err, shared := m.group.Do("refresh:"+principal, func() (any, error) {
			return m.loginOnce(ctx, principal, acct, force)
		})
		if err != nil {
			return domain.Credential{}, err
		}
		res := v.(refreshResult)
		if shared {
			m.logger.Debug().Str("principal", principal).Msg("joined in-flight credential refresh")
		}
		if !force || res.fresh {
			return res.cred, nil
		}
		// A forced caller joined a plain refresh that reused the stored
		// session; that session is the one being replaced.
		if err := ctx.Err(); err != nil {
			return domain.Credential{}, err
		}
	}
}

func (m *Manager) loginOnce(ctx context.Context, principal string, acct Account, force bool) (refreshResult, error) {
	// The login is shared by every waiter; the first caller's cancellation
	// must not fail the others.
	ctx = context.WithoutCancel(ctx)

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, "labsync:upstream-session:"+principal)
		if err != nil {
			return refreshResult{}, fmt.Errorf("lock session refresh: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn().Err(err).Str("principal", principal).Msg("release session lock")
			}
		}()
		// Another replica may have refreshed while we waited.
		if !force {
			if c, ok := m.loadStored(ctx, principal); ok {
				return refreshResult{cred: c}, nil
			}
		}
	}

	cred, err := m.auth.Login(ctx, acct.Username, acct.Password)
	if err != nil {
		return refreshResult{}, fmt.Errorf("authenticate %q: %w", principal, err)
	}

	now := m.now()
	cred.IssuedAt = now
	cred.ExpiresAt = NextBoundary(now, m.loc)

	info := clientFrom(ctx)
	sess := &domain.UpstreamSession{
		ID:          uuid.NewString(),
		Principal:   principal,
		IsActive:    true,
		AccessToken: cred.Token,
		APIKey:      cred.APIKey,
		RespID:      cred.RespID,
		ClientIP:    info.IP,
		UserAgent:   info.UserAgent,
		IssuedAt:    now,
		ExpiresAt:   cred.ExpiresAt,
	}
	if err := m.store.Supersede(ctx, sess); err != nil {
		return refreshResult{}, fmt.Errorf("store session: %w", err)
	}
	cred.SessionID = sess.ID
	m.put(principal, cred)

	m.logger.Info().
		Str("principal", principal).
		Str("session_id", sess.ID).
		Bool("forced", force).
		Time("expires_at", cred.ExpiresAt).
		Msg("upstream credential issued")
	return refreshResult{cred: cred, fresh: true}, nil
}

// loadStored adopts the stored active session when it is still valid.
func (m *Manager) loadStored(ctx context.Context, principal string) (domain.Credential, bool) {
	s, err := m.store.FindActive(ctx, principal)
	if err != nil {
		m.logger.Warn().Err(err).Str("principal", principal).Msg("load stored session")
		return domain.Credential{}, false
	}
	if s == nil {
		return domain.Credential{}, false
	}
	c := s.Credential()
	if IsExpired(c, m.now(), m.loc) {
		return domain.Credential{}, false
	}
	m.put(principal, c)
	return c, true
}

func (m *Manager) put(principal string, c domain.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := *m.snapshot.Load()
	next := make(map[string]domain.Credential, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[principal] = c
	m.snapshot.Store(&next)
}

func (m *Manager) touch(ctx context.Context, c domain.Credential) {
	if c.SessionID == "" {
		return
	}
	if err := m.store.Touch(ctx, c.SessionID, m.now()); err != nil {
		m.logger.Warn().Err(err).Str("session_id", c.SessionID).Msg("touch upstream session")
	}
}

func sameCredential(a, b domain.Credential) bool {
	if a.SessionID != "" || b.SessionID != "" {
		return a.SessionID == b.SessionID
	}
	return a.Token == b.Token && a.APIKey == b.APIKey
}
