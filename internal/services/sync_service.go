package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-labsync-backend/internal/domain"
	"github.com/tbourn/go-labsync-backend/internal/ordersync"
	"github.com/tbourn/go-labsync-backend/internal/repo"
)

// DefaultMaxSyncOrders caps one bulk sync when SyncService.MaxOrders is unset.
const DefaultMaxSyncOrders = 500

// Syncer runs order status syncs. *ordersync.Synchronizer implements it.
type Syncer interface {
	SyncOne(ctx context.Context, orderID string) domain.SyncItemResult
	SyncMany(ctx context.Context, ids []string) ordersync.BatchResult
	PendingOrderIDs(ctx context.Context, limit int) ([]string, error)
}

// SyncService wraps the synchronizer for admin actions and keeps a record of
// every bulk run.
type SyncService struct {
	DB        *gorm.DB
	Syncer    Syncer
	MaxOrders int
}

func (s *SyncService) maxOrders() int {
	if s.MaxOrders > 0 {
		return s.MaxOrders
	}
	return DefaultMaxSyncOrders
}

// SyncOrder syncs one order. Upstream failures are reported in the result;
// the error is only set when the order does not exist.
func (s *SyncService) SyncOrder(ctx context.Context, id string) (domain.SyncItemResult, error) {
	tr := otel.Tracer("services/SyncService")
	ctx, span := tr.Start(ctx, "SyncOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	if _, err := repo.GetOrder(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.SyncItemResult{}, ErrOrderNotFound
		}
		return domain.SyncItemResult{}, err
	}
	return s.Syncer.SyncOne(ctx, id), nil
}

// SyncOrders syncs ids, or every open order when ids is empty, and stores
// the run for principal.
func (s *SyncService) SyncOrders(ctx context.Context, principal string, ids []string) (*domain.SyncRun, error) {
	tr := otel.Tracer("services/SyncService")
	ctx, span := tr.Start(ctx, "SyncOrders",
		trace.WithAttributes(
			attribute.String("principal", principal),
			attribute.Int("requested", len(ids)),
		),
	)
	defer span.End()

	ids = dedupe(ids)
	if len(ids) == 0 {
		pending, err := s.Syncer.PendingOrderIDs(ctx, s.maxOrders())
		if err != nil {
			return nil, fmt.Errorf("list open orders: %w", err)
		}
		ids = pending
	}
	if len(ids) > s.maxOrders() {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyOrders, len(ids), s.maxOrders())
	}

	out := s.Syncer.SyncMany(ctx, ids)
	run := &domain.SyncRun{
		Principal:  principal,
		Total:      out.Total,
		Succeeded:  out.Succeeded,
		Failed:     out.Failed,
		Changed:    out.Changed,
		Skipped:    out.Skipped,
		Results:    out.Results,
		StartedAt:  out.StartedAt.UTC(),
		FinishedAt: out.FinishedAt.UTC(),
	}
	if run.Results == nil {
		run.Results = []domain.SyncItemResult{}
	}
	// The sync itself already happened; store the summary even if the caller
	// has gone away.
	if err := repo.CreateSyncRun(context.WithoutCancel(ctx), s.DB, run); err != nil {
		return nil, fmt.Errorf("store sync run: %w", err)
	}
	span.SetAttributes(attribute.String("sync_run.id", run.ID))
	return run, nil
}

// GetRun returns a stored bulk sync summary.
func (s *SyncService) GetRun(ctx context.Context, id string) (*domain.SyncRun, error) {
	run, err := repo.GetSyncRun(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSyncRunNotFound
	}
	return run, err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
