// Package reconcile reconciles locally computed cart prices against the
// partner's quote.
//
// The partner answers with a single payable amount and, sometimes, the list
// of products it actually priced. The Engine explains the difference between
// that amount and the local total through an ordered chain of policies
// (collection charge, bundling, tolerance, proportional scaling, margin cap)
// and returns adjusted line items. The result is advisory: when the partner
// cannot be reached the local prices are returned unchanged.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-labsync-backend/internal/credential"
	"github.com/tbourn/go-labsync-backend/internal/domain"
	"github.com/tbourn/go-labsync-backend/internal/upstream"
)

// ErrEmptyCart is returned when Reconcile is called without items.
var ErrEmptyCart = errors.New("cart has no items")

// Policy step names reported in ReconciliationResult.Steps.
const (
	StepCollectionCharge = "collection_charge"
	StepBundling         = "bundling"
	StepTolerance        = "tolerance"
	StepProportional     = "proportional"
	StepMarginCap        = "margin_cap"
)

// Skip reasons reported when the partner quote could not be applied.
const (
	SkipNoPricedItems       = "no_priced_items"
	SkipCircuitOpen         = "circuit_open"
	SkipUpstreamUnavailable = "upstream_unavailable"
	SkipUpstreamRejected    = "upstream_rejected"
	SkipCredential          = "credential_unavailable"
	SkipCanceled            = "canceled"
	SkipUpstreamError       = "upstream_error"
)

// Quoter prices a cart upstream. *upstream.Client implements it.
type Quoter interface {
	Quote(ctx context.Context, cred domain.Credential, req upstream.QuoteRequest) (upstream.Quote, error)
}

// Config holds the pricing policy constants.
type Config struct {
	// Principal is the partner account used for quotes.
	Principal string
	// MinOrderThreshold is the local total below which the partner adds a
	// home collection surcharge.
	MinOrderThreshold decimal.Decimal
	// Surcharge is the expected collection charge.
	Surcharge decimal.Decimal
	// SurchargeTolerance is the allowed deviation when detecting Surcharge.
	SurchargeTolerance decimal.Decimal
	// Epsilon is the difference under which upstream and local totals are
	// considered equal.
	Epsilon decimal.Decimal
}

// DefaultConfig returns the default policy constants.
func DefaultConfig() Config {
	return Config{
		MinOrderThreshold:  decimal.NewFromInt(300),
		Surcharge:          decimal.NewFromInt(200),
		SurchargeTolerance: decimal.NewFromInt(1),
		Epsilon:            decimal.NewFromInt(1),
	}
}

// Input is one reconciliation request.
type Input struct {
	Items         []domain.CartLineItem
	Beneficiaries int
	ReportCopy    bool
}

// Engine is safe for concurrent use.
type Engine struct {
	quoter   Quoter
	creds    credential.Source
	cfg      Config
	matchers []Matcher
	logger   zerolog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMatchers replaces the bundling match strategies.
func WithMatchers(m ...Matcher) Option { return func(e *Engine) { e.matchers = m } }

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New builds an Engine. Zero-valued policy constants take their defaults.
func New(q Quoter, creds credential.Source, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.MinOrderThreshold.IsZero() {
		cfg.MinOrderThreshold = def.MinOrderThreshold
	}
	if cfg.Surcharge.IsZero() {
		cfg.Surcharge = def.Surcharge
	}
	if cfg.SurchargeTolerance.IsZero() {
		cfg.SurchargeTolerance = def.SurchargeTolerance
	}
	if cfg.Epsilon.IsZero() {
		cfg.Epsilon = def.Epsilon
	}
	e := &Engine{
		quoter:   q,
		creds:    creds,
		cfg:      cfg,
		matchers: DefaultMatchers(),
		logger:   log.Logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the effective policy constants.
func (e *Engine) Config() Config { return e.cfg }

// Reconcile prices in.Items against the partner quote. Upstream failures
// never surface as errors: the local prices are returned with
// ValidationApplied=false and SkipReason set.
func (e *Engine) Reconcile(ctx context.Context, in Input) (domain.ReconciliationResult, error) {
	tr := otel.Tracer("reconcile/Engine")
	ctx, span := tr.Start(ctx, "Reconcile", trace.WithAttributes(
		attribute.Int("items", len(in.Items)),
		attribute.Int("beneficiaries", in.Beneficiaries),
	))
	defer span.End()

	if len(in.Items) == 0 {
		span.SetStatus(codes.Error, ErrEmptyCart.Error())
		return domain.ReconciliationResult{}, ErrEmptyCart
	}

	items := make([]domain.CartLineItem, len(in.Items))
	for i, it := range in.Items {
		it.ProductCode = strings.TrimSpace(it.ProductCode)
		items[i] = it.WithSellingPrice(it.SellingPrice)
	}

	var idx []int
	for i, it := range items {
		if it.ProductCode != "" && it.SellingPrice.IsPositive() {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return e.local(items, SkipNoPricedItems), nil
	}

	priced := make([]domain.CartLineItem, len(idx))
	req := upstream.QuoteRequest{
		Products:      make([]string, len(idx)),
		Rates:         make([]decimal.Decimal, len(idx)),
		Beneficiaries: in.Beneficiaries,
		ReportCopy:    in.ReportCopy,
	}
	for n, i := range idx {
		priced[n] = items[i]
		req.Products[n] = items[i].ProductCode
		req.Rates[n] = items[i].LineTotal()
	}

	q, err := credential.Do(ctx, e.creds, e.cfg.Principal, func(ctx context.Context, cred domain.Credential) (upstream.Quote, error) {
		return e.quoter.Quote(ctx, cred, req)
	})
	if err == nil && !q.Payable.IsPositive() {
		// Scaling by a zero or negative total would price the cart at nothing.
		err = fmt.Errorf("%w: payable %s", upstream.ErrRejected, q.Payable)
	}
	if err != nil {
		reason := skipReason(err)
		span.SetAttributes(attribute.String("skip_reason", reason))
		e.logger.Info().Err(err).Str("skip_reason", reason).Msg("reconcile: using local prices")
		return e.local(items, reason), nil
	}

	res := e.apply(priced, q)
	for n, i := range idx {
		items[i] = priced[n]
	}
	res.AdjustedItems = items
	res.Breakdown = breakdown(items, res.CollectionCharge)

	span.SetAttributes(
		attribute.Bool("validation_applied", true),
		attribute.StringSlice("steps", res.Steps),
	)
	return res, nil
}

// apply runs the policy chain over priced in place.
func (e *Engine) apply(priced []domain.CartLineItem, q upstream.Quote) domain.ReconciliationResult {
	payable := q.Payable
	res := domain.ReconciliationResult{
		ValidationApplied: true,
		UpstreamPayable:   &payable,
		CollectionCharge:  decimal.Zero,
	}
	localTotal := domain.SumLines(priced)
	productTotal := payable

	if e.isCollectionCharge(localTotal, payable) {
		res.HasCollectionCharge = true
		res.CollectionCharge = e.cfg.Surcharge
		productTotal = payable.Sub(e.cfg.Surcharge)
		res.Steps = append(res.Steps, StepCollectionCharge)
	}

	if returned := q.DistinctProducts(); returned > 0 && returned < distinctCodes(priced) {
		if e.bundle(priced, q, productTotal) {
			res.Steps = append(res.Steps, StepBundling)
		}
	}

	current := domain.SumLines(priced)
	switch {
	case productTotal.Sub(current).Abs().LessThanOrEqual(e.cfg.Epsilon):
		res.Steps = append(res.Steps, StepTolerance)
	case current.IsPositive():
		scale(priced, productTotal.Div(current))
		res.Steps = append(res.Steps, StepProportional)
	}

	if q.Margin != nil {
		if pct, ok := marginCapPercent(*q.Margin, originalTotal(priced)); ok && applyMarginCap(priced, pct) {
			res.Steps = append(res.Steps, StepMarginCap)
		}
	}
	return res
}

func (e *Engine) isCollectionCharge(localTotal, payable decimal.Decimal) bool {
	if !localTotal.LessThan(e.cfg.MinOrderThreshold) {
		return false
	}
	diff := payable.Sub(localTotal).Sub(e.cfg.Surcharge).Abs()
	return diff.LessThanOrEqual(e.cfg.SurchargeTolerance)
}

// bundle matches each product the partner returned to one submitted item.
// Matched items take the partner's rate; the rest are folded into the first
// matched item at zero price. It reports false when nothing matched.
func (e *Engine) bundle(items []domain.CartLineItem, q upstream.Quote, productTotal decimal.Decimal) bool {
	taken := make([]bool, len(items))
	var matched []int
	seen := map[string]bool{}

	for pi, product := range q.Products {
		key := fold(product)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		var free []domain.CartLineItem
		var at []int
		for i, it := range items {
			if !taken[i] {
				free = append(free, it)
				at = append(at, i)
			}
		}
		n, how := firstMatch(e.matchers, product, free)
		if n < 0 {
			e.logger.Debug().Str("product", product).Msg("reconcile: bundled product not matched")
			continue
		}
		i := at[n]
		taken[i] = true
		matched = append(matched, i)
		e.logger.Debug().Str("product", product).Str("matched", items[i].ProductCode).Str("strategy", how).Msg("reconcile: bundle match")

		units := decimal.NewFromInt(items[i].Units())
		switch {
		case len(q.Rates) == len(q.Products):
			items[i] = items[i].WithSellingPrice(q.Rates[pi].Div(units).Round(2))
		case len(q.Products) == 1:
			items[i] = items[i].WithSellingPrice(productTotal.Div(units).Round(2))
		}
	}
	if len(matched) == 0 {
		return false
	}

	into := items[matched[0]].ProductCode
	for i := range items {
		if taken[i] {
			continue
		}
		items[i] = items[i].WithSellingPrice(decimal.Zero)
		items[i].IncludedIn = into
	}
	return true
}

// scale multiplies every non-bundled selling price by ratio, rounded to the
// currency unit.
func scale(items []domain.CartLineItem, ratio decimal.Decimal) {
	for i, it := range items {
		if it.IncludedIn != "" {
			continue
		}
		items[i] = it.WithSellingPrice(it.SellingPrice.Mul(ratio).Round(0))
	}
}

func (e *Engine) local(items []domain.CartLineItem, reason string) domain.ReconciliationResult {
	return domain.ReconciliationResult{
		AdjustedItems:    items,
		CollectionCharge: decimal.Zero,
		Breakdown:        breakdown(items, decimal.Zero),
		SkipReason:       reason,
	}
}

func breakdown(items []domain.CartLineItem, charge decimal.Decimal) domain.PriceBreakdown {
	total := domain.SumLines(items)
	return domain.PriceBreakdown{
		ProductTotal:     total,
		CollectionCharge: charge,
		GrandTotal:       total.Add(charge),
	}
}

func distinctCodes(items []domain.CartLineItem) int {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		seen[strings.ToUpper(it.ProductCode)] = struct{}{}
	}
	return len(seen)
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, upstream.ErrCircuitOpen):
		return SkipCircuitOpen
	case errors.Is(err, upstream.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return SkipUpstreamUnavailable
	case errors.Is(err, upstream.ErrRejected), errors.Is(err, upstream.ErrAuthExpired):
		return SkipUpstreamRejected
	case errors.Is(err, credential.ErrUnknownPrincipal), errors.Is(err, credential.ErrLockBusy):
		return SkipCredential
	case errors.Is(err, context.Canceled):
		return SkipCanceled
	default:
		return SkipUpstreamError
	}
}
