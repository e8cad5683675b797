package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbourn/go-labsync-backend/internal/domain"
	"github.com/tbourn/go-labsync-backend/internal/upstream"
)

// Source hands out credentials. *Manager implements it.
type Source interface {
	GetOrRefresh(ctx context.Context, principal string) (domain.Credential, error)
	RefreshStale(ctx context.Context, principal string, stale domain.Credential) (domain.Credential, error)
}

// Do runs fn with the current credential for principal. When fn reports
// upstream.ErrAuthExpired the credential is refreshed and fn is retried
// exactly once; a second auth failure is returned as upstream.ErrRejected.
func Do[T any](ctx context.Context, src Source, principal string, fn func(context.Context, domain.Credential) (T, error)) (T, error) {
	var zero T

	cred, err := src.GetOrRefresh(ctx, principal)
	if err != nil {
		return zero, err
	}
	out, err := fn(ctx, cred)
	if !errors.Is(err, upstream.ErrAuthExpired) {
		return out, err
	}

	cred, err = src.RefreshStale(ctx, principal, cred)
	if err != nil {
		return zero, err
	}
	out, err = fn(ctx, cred)
	if errors.Is(err, upstream.ErrAuthExpired) {
		return zero, fmt.Errorf("%w: credential refused after refresh: %v", upstream.ErrRejected, err)
	}
	return out, err
}
