// Sync HTTP handlers.
//
// This file exposes admin endpoints that pull order status from the partner:
//   - POST /admin/orders/{id}/sync   (sync one order)
//   - POST /admin/orders/sync        (bulk sync, Idempotency-Key replay)
//   - GET  /admin/sync-runs/{id}     (stored bulk sync summary)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous bulk run
// exists for (principal, scope, key), the handler returns that stored run and
// sets `Idempotency-Replayed: true` instead of calling the partner again.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-labsync-backend/internal/http/middleware"
	"github.com/tbourn/go-labsync-backend/internal/repo"
	"github.com/tbourn/go-labsync-backend/internal/services"
)

// ScopeBulkSync is the idempotency scope of POST /admin/orders/sync.
const ScopeBulkSync = "orders.sync"

// SyncOrdersRequest selects the orders to sync. Empty means every open order
// with a partner reference.
type SyncOrdersRequest struct {
	OrderIDs []string `json:"order_ids"`
}

// SyncOrder godoc
// @ID          syncOrder
// @Summary     Sync one order from the partner
// @Description Fetches the partner order summary and applies any status change. Partner failures are reported in the body (success=false), not as HTTP errors.
// @Tags        Admin
// @Produce     json
// @Param       id   path      string  true  "Order ID"
// @Success     200  {object}  domain.SyncItemResult
// @Failure     404  {object}  handlers.ErrorResponse "Order not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/orders/{id}/sync [post]
func (h *Handlers) SyncOrder(c *gin.Context) {
	res, err := h.syncSvc.SyncOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, res)
}

// SyncOrders godoc
// @ID          syncOrders
// @Summary     Bulk sync orders from the partner
// @Description Syncs the given orders (or all open ones) in paced batches and stores the run. Supports idempotency via the Idempotency-Key header.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       X-Admin-ID       header  string  false "Operator principal"  example(ops)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       body             body    handlers.SyncOrdersRequest  false  "Orders to sync"
// @Success     200  {object}  domain.SyncRun
// @Header      200  {string}  Idempotency-Replayed  "true when a stored run was returned"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/orders/sync [post]
func (h *Handlers) SyncOrders(c *gin.Context) {
	ctx := c.Request.Context()

	var req SyncOrdersRequest
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		// Chunked or unknown-length requests may still be empty; EOF means no body.
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	principal := middleware.Principal(c)
	idemKey, _ := middleware.GetIdempotencyKey(c)
	scope := middleware.IdempotencyScope(c)
	if scope == "" {
		scope = ScopeBulkSync
	}

	// Idempotency (replay path).
	var db *gorm.DB
	if svc, okSvc := h.syncSvc.(*services.SyncService); okSvc {
		db = svc.DB
	}
	if idemKey != "" && db != nil {
		if rec, err := repo.GetIdempotency(ctx, db, principal, scope, idemKey, h.now().UTC()); err == nil && rec != nil {
			if prev, err2 := h.syncSvc.GetRun(ctx, rec.ResourceID); err2 == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	run, err := h.syncSvc.SyncOrders(ctx, principal, req.OrderIDs)
	if err != nil {
		if errors.Is(err, services.ErrTooManyOrders) {
			fail(c, http.StatusBadRequest, ErrCodeTooManyOrders, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && db != nil {
		_, _ = repo.CreateIdempotency(ctx, db, principal, scope, idemKey, run.ID, http.StatusOK, h.idemTTL)
	}

	ok(c, http.StatusOK, run)
}

// GetSyncRun godoc
// @ID          getSyncRun
// @Summary     Get a stored bulk sync run
// @Tags        Admin
// @Produce     json
// @Param       id   path      string  true  "Sync run ID"
// @Success     200  {object}  domain.SyncRun
// @Failure     404  {object}  handlers.ErrorResponse "Sync run not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/sync-runs/{id} [get]
func (h *Handlers) GetSyncRun(c *gin.Context) {
	run, err := h.syncSvc.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrSyncRunNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "sync run not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, run)
}
