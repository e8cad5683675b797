// Order and cart HTTP handlers.
//
// This file exposes:
//   - POST /cart/reconcile                 (advisory checkout pricing)
//   - POST /orders                         (reconcile and place a PENDING order)
//   - GET  /admin/orders                   (list, paginated, ETag support)
//   - GET  /admin/orders/{id}              (one order with upstream projection)
//   - PUT  /admin/orders/{id}/reference    (attach partner reference)
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-labsync-backend/internal/domain"
	"github.com/tbourn/go-labsync-backend/internal/repo"
	"github.com/tbourn/go-labsync-backend/internal/services"
)

//
// DTOs
//

// ReconcileCartRequest is the JSON payload for pricing a cart.
type ReconcileCartRequest struct {
	Items         []domain.CartLineItem `json:"items"`
	Beneficiaries int                   `json:"beneficiaries" example:"2"`
	ReportCopy    bool                  `json:"report_copy"`
}

// PlaceOrderRequest is the JSON payload for placing an order.
type PlaceOrderRequest struct {
	CustomerID    string                `json:"customer_id" example:"cust-42"`
	Package       domain.PackageInfo    `json:"package"`
	Beneficiaries []domain.Beneficiary  `json:"beneficiaries"`
	ContactInfo   domain.ContactInfo    `json:"contact_info"`
	Appointment   domain.Appointment    `json:"appointment"`
	Items         []domain.CartLineItem `json:"items,omitempty"`
	ReportCopy    bool                  `json:"report_copy"`
}

// PlaceOrderResponse carries the stored order and the pricing it was placed at.
type PlaceOrderResponse struct {
	Order   *domain.Order               `json:"order"`
	Pricing domain.ReconciliationResult `json:"pricing"`
}

// ListOrdersResponse wraps a page of orders and pagination information.
type ListOrdersResponse struct {
	Orders     []domain.Order `json:"orders"`
	Pagination Pagination     `json:"pagination"`
}

// SetReferenceRequest is the JSON payload for attaching a partner reference.
type SetReferenceRequest struct {
	ReferenceNumber string `json:"reference_number" binding:"required" example:"VL12345678"`
}

//
// Handlers
//

// ReconcileCart godoc
// @ID          reconcileCart
// @Summary     Price a cart against the partner quote
// @Description Returns adjusted line items and totals. When the partner is unreachable the local prices are returned with validation_applied=false and a skip_reason.
// @Tags        Cart
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.ReconcileCartRequest  true  "Cart"
// @Success     200   {object}  domain.ReconciliationResult
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /cart/reconcile [post]
func (h *Handlers) ReconcileCart(c *gin.Context) {
	var req ReconcileCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Beneficiaries < 1 {
		req.Beneficiaries = 1
	}

	res, err := h.orderSvc.Price(c.Request.Context(), req.Items, req.Beneficiaries, req.ReportCopy)
	if err != nil {
		if errors.Is(err, services.ErrEmptyCart) {
			fail(c, http.StatusBadRequest, ErrCodeEmptyCart, "cart has no items")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, res)
}

// PlaceOrder godoc
// @ID          placeOrder
// @Summary     Place an order
// @Description Reconciles the cart and stores the order as PENDING at the reconciled grand total.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.PlaceOrderRequest  true  "Order"
// @Success     201   {object}  handlers.PlaceOrderResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /orders [post]
func (h *Handlers) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	o, res, err := h.orderSvc.Place(c.Request.Context(), services.PlaceOrderInput{
		CustomerID:    req.CustomerID,
		Package:       req.Package,
		Beneficiaries: req.Beneficiaries,
		ContactInfo:   req.ContactInfo,
		Appointment:   req.Appointment,
		Items:         req.Items,
		ReportCopy:    req.ReportCopy,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidOrder):
			fail(c, http.StatusBadRequest, ErrCodeInvalidOrder, err.Error())
		case errors.Is(err, services.ErrEmptyCart):
			fail(c, http.StatusBadRequest, ErrCodeEmptyCart, "cart has no items")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, PlaceOrderResponse{Order: o, Pricing: res})
}

// ListOrders godoc
// @ID          listOrders
// @Summary     List orders (paginated)
// @Description Returns a page of orders, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Admin
// @Produce     json
// @Param       status         query   string  false "Order status filter"         example(PENDING)
// @Param       customer_id    query   string  false "Customer filter"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListOrdersResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /admin/orders [get]
func (h *Handlers) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)
	f := repo.OrderFilter{
		Status:     c.Query("status"),
		CustomerID: c.Query("customer_id"),
	}

	// Conditional response; a failed version lookup just skips it.
	if v, err := h.orderSvc.ListVersion(ctx, f); err == nil {
		etag := listETag(f, page, pageSize, v)
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.orderSvc.ListPage(ctx, f, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListOrdersResponse{
		Orders:     items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Get an order
// @Tags        Admin
// @Produce     json
// @Param       id   path      string  true  "Order ID"
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse "Order not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/orders/{id} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	o, err := h.orderSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, o)
}

// SetOrderReference godoc
// @ID          setOrderReference
// @Summary     Attach the partner reference number
// @Description Records the partner order number so the order can be synced.
// @Tags        Admin
// @Accept      json
// @Param       id    path  string  true  "Order ID"
// @Param       body  body  handlers.SetReferenceRequest  true  "Reference"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Order not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /admin/orders/{id}/reference [put]
func (h *Handlers) SetOrderReference(c *gin.Context) {
	var req SetReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ReferenceNumber) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reference_number required")
		return
	}
	err := h.orderSvc.SetReference(c.Request.Context(), c.Param("id"), req.ReferenceNumber)
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrOrderNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
	case errors.Is(err, services.ErrInvalidReference):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reference_number required")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// listETag is a weak validator over the filter, the page window and the
// list version.
func listETag(f repo.OrderFilter, page, pageSize int, v repo.ListVersion) string {
	var ts int64
	if !v.LatestUpdate.IsZero() {
		ts = v.LatestUpdate.UnixNano()
	}
	return fmt.Sprintf(`W/"orders:%s:%s:%d:%d:%d:%d"`,
		strings.ToUpper(strings.TrimSpace(f.Status)), strings.TrimSpace(f.CustomerID),
		page, pageSize, v.Count, ts)
}
