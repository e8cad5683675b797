// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for partner
// session records.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

// FindActiveSession returns the active session of principal, or ErrNotFound.
func FindActiveSession(ctx context.Context, db *gorm.DB, principal string) (*domain.UpstreamSession, error) {
	var s domain.UpstreamSession
	err := db.WithContext(ctx).
		Where("principal = ? AND is_active = ?", principal, true).
		Order("issued_at DESC").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SupersedeSession deactivates every active session of s.Principal and
// inserts s as the only active one, in one transaction.
func SupersedeSession(ctx context.Context, db *gorm.DB, s *domain.UpstreamSession) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.UpstreamSession{}).
			Where("principal = ? AND is_active = ?", s.Principal, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		s.IsActive = true
		s.CreatedAt, s.UpdatedAt = now, now
		return tx.Create(s).Error
	})
}

// TouchSession records one use of the session.
func TouchSession(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.UpstreamSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_used_at":  at.UTC(),
			"request_count": gorm.Expr("request_count + 1"),
		}).Error
}

// ListSessions returns every session of principal, newest first.
func ListSessions(ctx context.Context, db *gorm.DB, principal string) ([]domain.UpstreamSession, error) {
	var out []domain.UpstreamSession
	err := db.WithContext(ctx).
		Where("principal = ?", principal).
		Order("issued_at DESC").
		Find(&out).Error
	return out, err
}

// SessionStore adapts the session functions to credential.SessionStore.
type SessionStore struct {
	DB *gorm.DB
}

// FindActive returns (nil, nil) when principal has no active session.
func (s SessionStore) FindActive(ctx context.Context, principal string) (*domain.UpstreamSession, error) {
	sess, err := FindActiveSession(ctx, s.DB, principal)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return sess, err
}

func (s SessionStore) Supersede(ctx context.Context, sess *domain.UpstreamSession) error {
	return SupersedeSession(ctx, s.DB, sess)
}

func (s SessionStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	return TouchSession(ctx, s.DB, sessionID, at)
}
