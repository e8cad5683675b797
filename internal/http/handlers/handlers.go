// Package handlers exposes the HTTP endpoints of the lab booking backend:
// checkout pricing, order placement, admin order views, status sync and the
// upstream (partner API) health view.
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses (including conditional
// responses and idempotent replays).
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-labsync-backend/internal/credential"
	"github.com/tbourn/go-labsync-backend/internal/domain"
	"github.com/tbourn/go-labsync-backend/internal/gate"
	"github.com/tbourn/go-labsync-backend/internal/repo"
	"github.com/tbourn/go-labsync-backend/internal/services"
	"github.com/tbourn/go-labsync-backend/internal/upstream"
	"github.com/tbourn/go-labsync-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// OrderService defines pricing and order operations consumed by HTTP
// handlers. *services.OrderService implements it.
type OrderService interface {
	// Price reconciles a cart without persisting anything.
	Price(ctx context.Context, items []domain.CartLineItem, beneficiaries int, reportCopy bool) (domain.ReconciliationResult, error)
	// Place reconciles the cart and stores a PENDING order.
	Place(ctx context.Context, in services.PlaceOrderInput) (*domain.Order, domain.ReconciliationResult, error)
	// Get returns one order.
	Get(ctx context.Context, id string) (*domain.Order, error)
	// ListPage returns a page of orders and the total count.
	ListPage(ctx context.Context, f repo.OrderFilter, page, pageSize int) ([]domain.Order, int64, error)
	// ListVersion changes whenever an order matching f changes.
	ListVersion(ctx context.Context, f repo.OrderFilter) (repo.ListVersion, error)
	// SetReference attaches the partner order number.
	SetReference(ctx context.Context, id, ref string) error
}

// SyncService defines admin-triggered status sync. *services.SyncService
// implements it.
type SyncService interface {
	SyncOrder(ctx context.Context, id string) (domain.SyncItemResult, error)
	SyncOrders(ctx context.Context, principal string, ids []string) (*domain.SyncRun, error)
	GetRun(ctx context.Context, id string) (*domain.SyncRun, error)
}

// GateStatus reports the resilience gate state. *gate.Gate implements it.
type GateStatus interface {
	Snapshot() gate.Snapshot
}

// Credentials is the slice of *credential.Manager the upstream endpoints use.
type Credentials interface {
	Cached(principal string) (domain.Credential, bool)
	ForceRefresh(ctx context.Context, principal string) (domain.Credential, error)
	Location() *time.Location
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	orderSvc OrderService
	syncSvc  SyncService
	gate     GateStatus
	creds    Credentials

	// principal is the partner account the upstream endpoints act for.
	principal string
	idemTTL   time.Duration
	now       func() time.Time
}

// Option customizes Handlers.
type Option func(*Handlers)

// WithUpstream enables the upstream status and session refresh endpoints
// for the given partner principal.
func WithUpstream(g GateStatus, creds Credentials, principal string) Option {
	return func(h *Handlers) {
		h.gate, h.creds, h.principal = g, creds, principal
	}
}

// WithIdempotencyTTL sets how long a bulk sync Idempotency-Key is honored.
func WithIdempotencyTTL(d time.Duration) Option {
	return func(h *Handlers) {
		if d > 0 {
			h.idemTTL = d
		}
	}
}

// New constructs and returns a Handlers instance bound to the given services.
func New(orderSvc OrderService, syncSvc SyncService, opts ...Option) *Handlers {
	h := &Handlers{
		orderSvc: orderSvc,
		syncSvc:  syncSvc,
		idemTTL:  24 * time.Hour,
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

//
// Shared DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// failUpstream maps partner-facing errors (from a refresh or a forced call)
// onto the error envelope.
func failUpstream(c *gin.Context, err error) {
	switch {
	case errors.Is(err, credential.ErrUnknownPrincipal):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no partner account for principal")
	case errors.Is(err, upstream.ErrCircuitOpen):
		fail(c, http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable, "partner API circuit is open")
	case errors.Is(err, upstream.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable, "partner API is not responding")
	case errors.Is(err, upstream.ErrRejected), errors.Is(err, upstream.ErrAuthExpired):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamRejected, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
