// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Order
// model and its embedded upstream status projection.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside a caller's transaction. Status changes coming from the partner
// go through ApplyUpstreamStatus, which appends history, moves the upstream
// status and derives the parent status in one transaction.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// OrderFilter narrows order listings. Empty fields match everything.
type OrderFilter struct {
	Status     string
	CustomerID string
}

func (f OrderFilter) apply(q *gorm.DB) *gorm.DB {
	if s := strings.TrimSpace(f.Status); s != "" {
		q = q.Where("status = ?", strings.ToUpper(s))
	}
	if c := strings.TrimSpace(f.CustomerID); c != "" {
		q = q.Where("customer_id = ?", c)
	}
	return q
}

// CreateOrder inserts o as a PENDING order. ID and timestamps are assigned
// when empty.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	now := time.Now().UTC()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = domain.OrderStatusPending
	o.CreatedAt, o.UpdatedAt = now, now
	return db.WithContext(ctx).Create(o).Error
}

// GetOrder fetches an order by id, or ErrNotFound.
func GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// CountOrders returns the number of orders matching f.
func CountOrders(ctx context.Context, db *gorm.DB, f OrderFilter) (int64, error) {
	var n int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Order{})).Count(&n).Error
	return n, err
}

// ListOrdersPage returns orders matching f, newest first.
func ListOrdersPage(ctx context.Context, db *gorm.DB, f OrderFilter, offset, limit int) ([]domain.Order, error) {
	var out []domain.Order
	err := f.apply(db.WithContext(ctx).Model(&domain.Order{})).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SetUpstreamReference records the partner order number on an order.
func SetUpstreamReference(ctx context.Context, db *gorm.DB, id, ref string) error {
	res := db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ?", id).
		Update("upstream_reference_number", strings.TrimSpace(ref))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingOrderIDs returns up to limit ids of orders that have a partner
// reference and whose upstream status is not terminal, oldest first.
func PendingOrderIDs(ctx context.Context, db *gorm.DB, limit int) ([]string, error) {
	var ids []string
	q := db.WithContext(ctx).Model(&domain.Order{}).
		Where("upstream_reference_number <> ''").
		Where("(upstream_status IS NULL OR upstream_status NOT IN ?)",
			[]string{domain.UpstreamStatusDone, domain.UpstreamStatusFailed}).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}

// StatusUpdate is one observation of the partner's order state.
type StatusUpdate struct {
	// Status is the normalized upstream status; empty when the response
	// carried none.
	Status      string
	RawResponse string
	ReportURLs  map[string]string
	At          time.Time
	Source      string
}

// StatusOutcome reports what ApplyUpstreamStatus changed.
type StatusOutcome struct {
	Changed        bool
	PreviousStatus string
	Status         string
	OrderStatus    string
}

// ApplyUpstreamStatus records u on the order in one transaction. Raw
// response and sync time are always stored and the sync error is cleared.
// When u.Status differs from the stored status a history entry is appended
// and the parent status is derived from it.
func ApplyUpstreamStatus(ctx context.Context, db *gorm.DB, id string, u StatusUpdate) (StatusOutcome, error) {
	var out StatusOutcome
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o domain.Order
		if err := tx.First(&o, "id = ?", id).Error; err != nil {
			return err
		}

		at := u.At.UTC()
		up := &o.Upstream
		out.PreviousStatus = up.Status

		up.RawResponse = u.RawResponse
		up.LastSyncedAt = &at
		up.Error = ""
		up.RetryCount = 0
		if len(u.ReportURLs) > 0 {
			if up.ReportURLs == nil {
				up.ReportURLs = map[string]string{}
			}
			for k, v := range u.ReportURLs {
				up.ReportURLs[k] = v
			}
		}

		if u.Status != "" && u.Status != up.Status {
			up.StatusHistory = append(up.StatusHistory, domain.StatusChange{
				Status:         u.Status,
				PreviousStatus: up.Status,
				ChangedAt:      at,
				Source:         u.Source,
			})
			up.Status = u.Status
			if parent, ok := domain.ParentStatusFor(u.Status); ok {
				o.Status = parent
			}
			out.Changed = true
		}
		out.Status = up.Status
		out.OrderStatus = o.Status

		return tx.Save(&o).Error
	})
	if err != nil {
		return StatusOutcome{}, err
	}
	return out, nil
}

// RecordSyncError stores msg as the last sync error and bumps the retry
// counter. The stored upstream status is left untouched.
func RecordSyncError(ctx context.Context, db *gorm.DB, id, msg string, at time.Time) error {
	res := db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"upstream_error":          msg,
			"upstream_retry_count":    gorm.Expr("upstream_retry_count + 1"),
			"upstream_last_synced_at": at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// OrderStore adapts the order functions to the synchronizer's store
// interface.
type OrderStore struct {
	DB *gorm.DB
}

func (s OrderStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return GetOrder(ctx, s.DB, id)
}

func (s OrderStore) ApplyUpstreamStatus(ctx context.Context, id string, u StatusUpdate) (StatusOutcome, error) {
	return ApplyUpstreamStatus(ctx, s.DB, id, u)
}

func (s OrderStore) RecordSyncError(ctx context.Context, id, msg string, at time.Time) error {
	return RecordSyncError(ctx, s.DB, id, msg, at)
}

func (s OrderStore) PendingOrderIDs(ctx context.Context, limit int) ([]string, error) {
	return PendingOrderIDs(ctx, s.DB, limit)
}
