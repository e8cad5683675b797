// Package services – OrderService
//
// OrderService prices carts against the partner quote and places orders.
// Placement reconciles the cart first and persists the adjusted line items
// with the order in PENDING state; later transitions belong to the status
// synchronizer.
//
// Observability: public methods are OpenTelemetry-instrumented.

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
	"github.com/tbourn/go-labsync-backend/internal/reconcile"
	"github.com/tbourn/go-labsync-backend/internal/repo"
	"github.com/tbourn/go-labsync-backend/internal/utils"
)

// Pricer reconciles a cart. *reconcile.Engine implements it.
type Pricer interface {
	Reconcile(ctx context.Context, in reconcile.Input) (domain.ReconciliationResult, error)
}

// OrderService coordinates cart pricing and order persistence.
type OrderService struct {
	DB     *gorm.DB
	Pricer Pricer

	// MaxBeneficiaries caps beneficiaries per order. Zero means no cap.
	MaxBeneficiaries int
}

// PlaceOrderInput is the checkout payload.
type PlaceOrderInput struct {
	CustomerID    string
	Package       domain.PackageInfo
	Beneficiaries []domain.Beneficiary
	ContactInfo   domain.ContactInfo
	Appointment   domain.Appointment
	// Items defaults to a single line built from Package when empty.
	Items      []domain.CartLineItem
	ReportCopy bool
}

// Price reconciles items for beneficiaries without persisting anything.
func (s *OrderService) Price(ctx context.Context, items []domain.CartLineItem, beneficiaries int, reportCopy bool) (domain.ReconciliationResult, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "Price",
		trace.WithAttributes(
			attribute.Int("items", len(items)),
			attribute.Int("beneficiaries", beneficiaries),
		),
	)
	defer span.End()

	res, err := s.Pricer.Reconcile(ctx, reconcile.Input{Items: items, Beneficiaries: beneficiaries, ReportCopy: reportCopy})
	if errors.Is(err, reconcile.ErrEmptyCart) {
		return domain.ReconciliationResult{}, ErrEmptyCart
	}
	return res, err
}

// Place validates in, reconciles the cart and stores a PENDING order priced
// at the reconciled grand total.
func (s *OrderService) Place(ctx context.Context, in PlaceOrderInput) (*domain.Order, domain.ReconciliationResult, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "Place",
		trace.WithAttributes(
			attribute.String("customer.id", in.CustomerID),
			attribute.String("package.code", in.Package.Code),
		),
	)
	defer span.End()

	if err := s.validate(&in); err != nil {
		return nil, domain.ReconciliationResult{}, err
	}

	items := in.Items
	if len(items) == 0 {
		p := in.Package
		items = []domain.CartLineItem{{
			ProductCode:   p.Code,
			ProductName:   p.Name,
			ProductType:   p.Type,
			Quantity:      1,
			OriginalPrice: p.Price,
			SellingPrice:  p.Price,
		}}
	}

	res, err := s.Price(ctx, items, len(in.Beneficiaries), in.ReportCopy)
	if err != nil {
		return nil, domain.ReconciliationResult{}, err
	}

	o := &domain.Order{
		CustomerID:    in.CustomerID,
		Package:       in.Package,
		Beneficiaries: in.Beneficiaries,
		ContactInfo:   in.ContactInfo,
		Appointment:   in.Appointment,
		Items:         res.AdjustedItems,
		TotalAmount:   res.Breakdown.GrandTotal,
	}
	if err := repo.CreateOrder(ctx, s.DB, o); err != nil {
		return nil, domain.ReconciliationResult{}, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	return o, res, nil
}

func (s *OrderService) validate(in *PlaceOrderInput) error {
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	in.Package.Code = strings.TrimSpace(in.Package.Code)
	switch {
	case in.CustomerID == "":
		return fmt.Errorf("%w: customer_id is required", ErrInvalidOrder)
	case in.Package.Code == "" && len(in.Items) == 0:
		return fmt.Errorf("%w: package or items required", ErrInvalidOrder)
	case len(in.Beneficiaries) == 0:
		return fmt.Errorf("%w: at least one beneficiary is required", ErrInvalidOrder)
	case s.MaxBeneficiaries > 0 && len(in.Beneficiaries) > s.MaxBeneficiaries:
		return fmt.Errorf("%w: at most %d beneficiaries", ErrInvalidOrder, s.MaxBeneficiaries)
	case strings.TrimSpace(in.ContactInfo.Phone) == "":
		return fmt.Errorf("%w: contact phone is required", ErrInvalidOrder)
	case strings.TrimSpace(in.ContactInfo.Address) == "":
		return fmt.Errorf("%w: contact address is required", ErrInvalidOrder)
	}
	for i, b := range in.Beneficiaries {
		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("%w: beneficiary %d has no name", ErrInvalidOrder, i)
		}
	}
	return nil
}

// Get returns one order.
func (s *OrderService) Get(ctx context.Context, id string) (*domain.Order, error) {
	o, err := repo.GetOrder(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// ListPage returns a page of orders matching f and the total count.
func (s *OrderService) ListPage(ctx context.Context, f repo.OrderFilter, page, pageSize int) ([]domain.Order, int64, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("status", f.Status),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	total, err := repo.CountOrders(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Order{}, 0, nil
	}
	items, err := repo.ListOrdersPage(ctx, s.DB, f, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// ListVersion returns the version of the order list matching f, used for
// conditional list responses.
func (s *OrderService) ListVersion(ctx context.Context, f repo.OrderFilter) (repo.ListVersion, error) {
	return repo.OrderListVersion(ctx, s.DB, f)
}

// SetReference records the partner order number once the order has been
// booked upstream.
func (s *OrderService) SetReference(ctx context.Context, id, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return ErrInvalidReference
	}
	err := repo.SetUpstreamReference(ctx, s.DB, id, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrOrderNotFound
	}
	return err
}
