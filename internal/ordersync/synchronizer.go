// Package ordersync keeps local order status in line with the partner's view
// of each order, one order at a time or in paced batches.
package ordersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-labsync-backend/internal/credential"
	"github.com/tbourn/go-labsync-backend/internal/domain"
	"github.com/tbourn/go-labsync-backend/internal/repo"
	"github.com/tbourn/go-labsync-backend/internal/upstream"
)

const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = time.Second

	// SourceSync marks history entries written by the synchronizer.
	SourceSync = "sync"
)

// Store is the order persistence the synchronizer needs. repo.OrderStore
// implements it.
type Store interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ApplyUpstreamStatus(ctx context.Context, id string, u repo.StatusUpdate) (repo.StatusOutcome, error)
	RecordSyncError(ctx context.Context, id, msg string, at time.Time) error
	PendingOrderIDs(ctx context.Context, limit int) ([]string, error)
}

// Summarizer fetches the partner's order summary. *upstream.Client
// implements it.
type Summarizer interface {
	OrderSummary(ctx context.Context, cred domain.Credential, ref string) (upstream.Summary, error)
}

// Config configures a Synchronizer.
type Config struct {
	Principal  string
	BatchSize  int
	BatchDelay time.Duration
}

// BatchResult aggregates one SyncMany run. Results is index-aligned with the
// requested ids.
type BatchResult struct {
	Total      int                     `json:"total"`
	Succeeded  int                     `json:"succeeded"`
	Failed     int                     `json:"failed"`
	Changed    int                     `json:"changed"`
	Skipped    int                     `json:"skipped"`
	Results    []domain.SyncItemResult `json:"results"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
}

// Synchronizer is safe for concurrent use.
type Synchronizer struct {
	store     Store
	summaries Summarizer
	creds     credential.Source
	cfg       Config
	now       func() time.Time
	logger    zerolog.Logger
}

// Option customizes a Synchronizer.
type Option func(*Synchronizer)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(s *Synchronizer) { s.now = now } }

// WithLogger sets the synchronizer logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Synchronizer) { s.logger = l } }

// New builds a Synchronizer.
func New(store Store, summaries Summarizer, creds credential.Source, cfg Config, opts ...Option) *Synchronizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	s := &Synchronizer{
		store:     store,
		summaries: summaries,
		creds:     creds,
		cfg:       cfg,
		now:       time.Now,
		logger:    log.Logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SyncOne reconciles one order with the partner. Failures are stored on the
// order and reported in the result; they are never returned as errors.
func (s *Synchronizer) SyncOne(ctx context.Context, orderID string) domain.SyncItemResult {
	tr := otel.Tracer("ordersync/Synchronizer")
	ctx, span := tr.Start(ctx, "SyncOne", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	res := s.syncOne(ctx, orderID)
	span.SetAttributes(
		attribute.Bool("success", res.Success),
		attribute.Bool("changed", res.Changed),
	)
	if !res.Success {
		span.SetStatus(codes.Error, res.Message)
	}
	syncTotal.WithLabelValues(outcome(res)).Inc()
	return res
}

func (s *Synchronizer) syncOne(ctx context.Context, orderID string) domain.SyncItemResult {
	res := domain.SyncItemResult{OrderID: orderID}

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		res.Message = "load order: " + err.Error()
		if errors.Is(err, repo.ErrNotFound) {
			res.Message = "order not found"
		}
		return res
	}
	res.PreviousStatus = o.Upstream.Status
	res.Status = o.Upstream.Status

	ref := strings.TrimSpace(o.Upstream.ReferenceNumber)
	if ref == "" {
		res.Success = true
		res.Skipped = true
		res.Message = "no upstream reference"
		return res
	}

	sum, err := credential.Do(ctx, s.creds, s.cfg.Principal, func(ctx context.Context, cred domain.Credential) (upstream.Summary, error) {
		sum, err := s.summaries.OrderSummary(ctx, cred, ref)
		if err == nil && sum.Kind == upstream.SummaryAuthError {
			return sum, fmt.Errorf("%w: %s", upstream.ErrAuthExpired, sum.Message)
		}
		return sum, err
	})
	if err != nil {
		return s.fail(ctx, res, err)
	}

	update := repo.StatusUpdate{
		RawResponse: string(sum.Raw),
		ReportURLs:  sum.ReportURLs(),
		At:          s.now(),
		Source:      SourceSync,
	}
	if sum.Kind == upstream.SummaryRecognized {
		update.Status = sum.Status
	}
	out, err := s.store.ApplyUpstreamStatus(ctx, orderID, update)
	if err != nil {
		return s.fail(ctx, res, fmt.Errorf("store status: %w", err))
	}

	res.Success = true
	res.Changed = out.Changed
	res.PreviousStatus = out.PreviousStatus
	res.Status = out.Status
	if sum.Kind == upstream.SummaryUnrecognized {
		res.Message = "no status in upstream response"
	}
	if out.Changed {
		s.logger.Info().
			Str("order_id", orderID).
			Str("from", out.PreviousStatus).
			Str("to", out.Status).
			Str("order_status", out.OrderStatus).
			Msg("order sync: status changed")
	}
	return res
}

func (s *Synchronizer) fail(ctx context.Context, res domain.SyncItemResult, err error) domain.SyncItemResult {
	res.Success = false
	res.Message = err.Error()
	s.logger.Warn().Err(err).Str("order_id", res.OrderID).Msg("order sync failed")

	// The caller may be gone; the failure is still worth keeping.
	if rerr := s.store.RecordSyncError(context.WithoutCancel(ctx), res.OrderID, res.Message, s.now()); rerr != nil {
		s.logger.Error().Err(rerr).Str("order_id", res.OrderID).Msg("order sync: record error")
	}
	return res
}

// SyncMany syncs ids in batches of Config.BatchSize. Orders within a batch
// run concurrently and fail independently; batches are separated by
// Config.BatchDelay. If ctx ends between batches the remaining orders are
// reported as failed without being attempted.
func (s *Synchronizer) SyncMany(ctx context.Context, ids []string) BatchResult {
	tr := otel.Tracer("ordersync/Synchronizer")
	ctx, span := tr.Start(ctx, "SyncMany", trace.WithAttributes(attribute.Int("orders", len(ids))))
	defer span.End()

	out := BatchResult{
		Total:     len(ids),
		Results:   make([]domain.SyncItemResult, len(ids)),
		StartedAt: s.now(),
	}

	for start := 0; start < len(ids); start += s.cfg.BatchSize {
		if start > 0 {
			if err := sleep(ctx, s.cfg.BatchDelay); err != nil {
				for i := start; i < len(ids); i++ {
					out.Results[i] = domain.SyncItemResult{OrderID: ids[i], Message: "not attempted: " + err.Error()}
				}
				break
			}
		}
		end := min(start+s.cfg.BatchSize, len(ids))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				out.Results[i] = s.SyncOne(ctx, ids[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, r := range out.Results {
		switch {
		case !r.Success:
			out.Failed++
		case r.Skipped:
			out.Succeeded++
			out.Skipped++
		default:
			out.Succeeded++
		}
		if r.Changed {
			out.Changed++
		}
	}
	out.FinishedAt = s.now()

	span.SetAttributes(
		attribute.Int("succeeded", out.Succeeded),
		attribute.Int("failed", out.Failed),
		attribute.Int("changed", out.Changed),
	)
	s.logger.Info().
		Int("total", out.Total).
		Int("succeeded", out.Succeeded).
		Int("failed", out.Failed).
		Int("changed", out.Changed).
		Int("skipped", out.Skipped).
		Msg("order sync batch finished")
	return out
}

// PendingOrderIDs lists orders with a reference whose upstream status is not
// yet terminal, oldest first. limit <= 0 means no limit.
func (s *Synchronizer) PendingOrderIDs(ctx context.Context, limit int) ([]string, error) {
	return s.store.PendingOrderIDs(ctx, limit)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
