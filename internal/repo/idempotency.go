// Package repo implements the data persistence layer for domain entities,
// backed by GORM.
//
// Idempotency records map (principal, scope, key) to the sync run an admin
// request produced. A record is live until ExpiresAt; an expired record is
// invisible to GetIdempotency and is replaced by the next CreateIdempotency
// for the same tuple.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

// ErrDuplicate means a live record already holds the (principal, scope, key)
// tuple.
var ErrDuplicate = errors.New("duplicate")

func idemTuple(principal, scope, key string) map[string]any {
	return map[string]any{"principal": principal, "scope": scope, "key": key}
}

// GetIdempotency returns the live record for the tuple, or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, principal, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where(idemTuple(principal, scope, key)).
		Where("expires_at > ?", now).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency stores resourceID under the tuple for ttl. An expired
// record holding the tuple is dropped first; a live one yields ErrDuplicate.
func CreateIdempotency(ctx context.Context, db *gorm.DB, principal, scope, key, resourceID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:         uuid.NewString(),
		Principal:  principal,
		Scope:      scope,
		Key:        key,
		ResourceID: resourceID,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(idemTuple(principal, scope, key)).
			Where("expires_at <= ?", now).
			Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	switch {
	case err == nil:
		return rec, nil
	case isUniqueViolation(err):
		return nil, ErrDuplicate
	default:
		return nil, err
	}
}

// PurgeExpiredIdempotency deletes records that expired at or before now.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation also matches the plain-text errors glebarez/sqlite
// returns when gorm's error translation is off.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") || strings.Contains(low, "constraint failed: unique")
}
