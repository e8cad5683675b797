package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-labsync-backend/internal/domain"
	"github.com/tbourn/go-labsync-backend/internal/upstream"
)

type fakeCreds struct {
	refreshes int
}

func (f *fakeCreds) GetOrRefresh(context.Context, string) (domain.Credential, error) {
	return domain.Credential{SessionID: "s0", APIKey: "k0"}, nil
}

func (f *fakeCreds) RefreshStale(context.Context, string, domain.Credential) (domain.Credential, error) {
	f.refreshes++
	return domain.Credential{SessionID: fmt.Sprintf("s%d", f.refreshes), APIKey: fmt.Sprintf("k%d", f.refreshes)}, nil
}

type quoteFunc func(ctx context.Context, cred domain.Credential, req upstream.QuoteRequest) (upstream.Quote, error)

func (f quoteFunc) Quote(ctx context.Context, cred domain.Credential, req upstream.QuoteRequest) (upstream.Quote, error) {
	return f(ctx, cred, req)
}

func payable(v int64) quoteFunc {
	return func(context.Context, domain.Credential, upstream.QuoteRequest) (upstream.Quote, error) {
		return upstream.Quote{Payable: decimal.NewFromInt(v)}, nil
	}
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func item(code string, price int64) domain.CartLineItem {
	p := decimal.NewFromInt(price)
	return domain.CartLineItem{ProductCode: code, ProductName: code, ProductType: domain.ProductTypeTest, Quantity: 1, OriginalPrice: p, SellingPrice: p}
}

func newTestEngine(q Quoter) (*Engine, *fakeCreds) {
	creds := &fakeCreds{}
	return New(q, creds, Config{Principal: "admin"}, WithLogger(zerolog.Nop())), creds
}

func mustReconcile(t *testing.T, e *Engine, in Input) domain.ReconciliationResult {
	t.Helper()
	res, err := e.Reconcile(context.Background(), in)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	return res
}

func hasStep(res domain.ReconciliationResult, step string) bool {
	for _, s := range res.Steps {
		if s == step {
			return true
		}
	}
	return false
}

func TestReconcile_WithinToleranceUnchanged(t *testing.T) {
	e, _ := newTestEngine(payable(1000))
	res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("T1", 400), item("T2", 600)}})

	if !res.ValidationApplied || !hasStep(res, StepTolerance) || hasStep(res, StepProportional) {
		t.Fatalf("expected tolerance step only, got %+v", res.Steps)
	}
	for i, want := range []int64{400, 600} {
		if !res.AdjustedItems[i].SellingPrice.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("item %d price = %s; want %d", i, res.AdjustedItems[i].SellingPrice, want)
		}
	}
	if !res.Breakdown.GrandTotal.Equal(decimal.NewFromInt(1000)) || res.HasCollectionCharge {
		t.Fatalf("unexpected breakdown %+v", res.Breakdown)
	}
}

func TestReconcile_DetectsCollectionCharge(t *testing.T) {
	e, _ := newTestEngine(payable(450))
	res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("T1", 100), item("T2", 150)}})

	if !res.HasCollectionCharge || !res.CollectionCharge.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected collection charge 200, got %v %s", res.HasCollectionCharge, res.CollectionCharge)
	}
	if !res.Breakdown.CollectionCharge.Equal(decimal.NewFromInt(200)) || !res.Breakdown.ProductTotal.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("breakdown = %+v; want product 250 + collection 200", res.Breakdown)
	}
	if !res.Breakdown.GrandTotal.Equal(decimal.NewFromInt(450)) {
		t.Fatalf("grand total = %s; want 450", res.Breakdown.GrandTotal)
	}
	if res.UpstreamPayable == nil || !res.UpstreamPayable.Equal(decimal.NewFromInt(450)) {
		t.Fatalf("upstream payable not reported")
	}
}

func TestReconcile_NoCollectionChargeAtOrAboveThreshold(t *testing.T) {
	e, _ := newTestEngine(payable(500))
	res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("T1", 300)}})
	if res.HasCollectionCharge {
		t.Fatalf("local total at threshold must not be treated as surcharged")
	}
	if !hasStep(res, StepProportional) || !res.AdjustedItems[0].SellingPrice.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected proportional scaling to 500, got %s %v", res.AdjustedItems[0].SellingPrice, res.Steps)
	}
}

func TestReconcile_ProportionalScaling(t *testing.T) {
	e, _ := newTestEngine(payable(270))
	res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("T1", 100), item("T2", 200)}})

	if !hasStep(res, StepProportional) {
		t.Fatalf("expected proportional step, got %v", res.Steps)
	}
	want := []struct{ price, discount int64 }{{90, 10}, {180, 20}}
	for i, w := range want {
		got := res.AdjustedItems[i]
		if !got.SellingPrice.Equal(decimal.NewFromInt(w.price)) || !got.Discount.Equal(decimal.NewFromInt(w.discount)) {
			t.Fatalf("item %d = %s (-%s); want %d (-%d)", i, got.SellingPrice, got.Discount, w.price, w.discount)
		}
	}
	if !res.Breakdown.ProductTotal.Equal(decimal.NewFromInt(270)) {
		t.Fatalf("product total = %s; want 270", res.Breakdown.ProductTotal)
	}
}

func TestReconcile_ScalingUpClampsDiscountAtZero(t *testing.T) {
	e, _ := newTestEngine(payable(660))
	res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("T1", 300), item("T2", 300)}})
	for _, it := range res.AdjustedItems {
		if !it.SellingPrice.Equal(decimal.NewFromInt(330)) || !it.Discount.IsZero() {
			t.Fatalf("unexpected item %+v", it)
		}
	}
}

func TestReconcile_BundlingFoldsItemsIntoMatchedProfile(t *testing.T) {
	q := quoteFunc(func(_ context.Context, _ domain.Credential, req upstream.QuoteRequest) (upstream.Quote, error) {
		if len(req.Products) != 3 {
			return upstream.Quote{}, fmt.Errorf("expected 3 products, got %v", req.Products)
		}
		return upstream.Quote{Payable: decimal.NewFromInt(1200), Products: []string{"aarogyam 1.2"}}, nil
	})
	e, _ := newTestEngine(q)

	profile := item("P1", 1000)
	profile.ProductName = "Aarogyam 1.2"
	profile.ProductType = domain.ProductTypeProfile
	res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("TSH", 300), profile, item("LIPID", 400)}})

	if !hasStep(res, StepBundling) {
		t.Fatalf("expected bundling step, got %v", res.Steps)
	}
	got := res.AdjustedItems
	if !got[1].SellingPrice.Equal(decimal.NewFromInt(1200)) || got[1].IncludedIn != "" {
		t.Fatalf("profile should carry the partner total, got %+v", got[1])
	}
	for _, i := range []int{0, 2} {
		if !got[i].SellingPrice.IsZero() || got[i].IncludedIn != "P1" {
			t.Fatalf("item %d should be folded into P1, got %+v", i, got[i])
		}
		if !got[i].Discount.Equal(got[i].OriginalPrice) {
			t.Fatalf("folded item discount should equal its original price, got %+v", got[i])
		}
	}
	if !res.Breakdown.GrandTotal.Equal(decimal.NewFromInt(1200)) || len(got) != 3 {
		t.Fatalf("unexpected breakdown %+v", res.Breakdown)
	}
}

func TestReconcile_BundlingUsesAlignedRates(t *testing.T) {
	q := quoteFunc(func(context.Context, domain.Credential, upstream.QuoteRequest) (upstream.Quote, error) {
		return upstream.Quote{
			Payable:  decimal.NewFromInt(900),
			Products: []string{"P1", "T3"},
			Rates:    []decimal.Decimal{decimal.NewFromInt(700), decimal.NewFromInt(200)},
		}, nil
	})
	e, _ := newTestEngine(q)
	res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("P1", 800), item("T2", 100), item("T3", 250)}})

	got := res.AdjustedItems
	if !got[0].SellingPrice.Equal(decimal.NewFromInt(700)) || !got[2].SellingPrice.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("matched items should take partner rates, got %s and %s", got[0].SellingPrice, got[2].SellingPrice)
	}
	if got[1].IncludedIn != "P1" || !got[1].SellingPrice.IsZero() {
		t.Fatalf("T2 should be bundled into P1, got %+v", got[1])
	}
	if !hasStep(res, StepTolerance) {
		t.Fatalf("rates summing to payable should end within tolerance, got %v", res.Steps)
	}
}

func TestReconcile_BundlingWithoutMatchFallsThrough(t *testing.T) {
	q := quoteFunc(func(context.Context, domain.Credential, upstream.QuoteRequest) (upstream.Quote, error) {
		return upstream.Quote{Payable: decimal.NewFromInt(270), Products: []string{"UNKNOWN"}}, nil
	})
	e, _ := newTestEngine(q)
	res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("T1", 100), item("T2", 200)}})
	if hasStep(res, StepBundling) || !hasStep(res, StepProportional) {
		t.Fatalf("expected proportional scaling without bundling, got %v", res.Steps)
	}
}

func TestReconcile_MarginCap(t *testing.T) {
	cases := []struct {
		name   string
		margin decimal.Decimal
		want   int64
	}{
		// 10% of 1000 original: at most 100 off each line's 10%.
		{"fraction", d(0.10), 900},
		// 50 over a 1000 cart is 5%.
		{"absolute amount", d(50), 950},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := tc.margin
			q := quoteFunc(func(context.Context, domain.Credential, upstream.QuoteRequest) (upstream.Quote, error) {
				return upstream.Quote{Payable: decimal.NewFromInt(800), Margin: &m}, nil
			})
			e, _ := newTestEngine(q)
			res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("T1", 1000)}})
			if !hasStep(res, StepMarginCap) {
				t.Fatalf("expected margin cap step, got %v", res.Steps)
			}
			got := res.AdjustedItems[0]
			if !got.SellingPrice.Equal(decimal.NewFromInt(tc.want)) {
				t.Fatalf("price = %s; want %d", got.SellingPrice, tc.want)
			}
			if !got.Discount.Equal(decimal.NewFromInt(1000 - tc.want)) {
				t.Fatalf("discount = %s; want %d", got.Discount, 1000-tc.want)
			}
		})
	}
}

func TestReconcile_FallsBackOnUpstreamTrouble(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{upstream.ErrCircuitOpen, SkipCircuitOpen},
		{fmt.Errorf("quote: %w", upstream.ErrUnavailable), SkipUpstreamUnavailable},
		{context.DeadlineExceeded, SkipUpstreamUnavailable},
		{upstream.ErrRejected, SkipUpstreamRejected},
		{errors.New("boom"), SkipUpstreamError},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			err := tc.err
			e, _ := newTestEngine(quoteFunc(func(context.Context, domain.Credential, upstream.QuoteRequest) (upstream.Quote, error) {
				return upstream.Quote{}, err
			}))
			res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("T1", 100), item("T2", 200)}})
			if res.ValidationApplied || res.SkipReason != tc.want {
				t.Fatalf("got applied=%v reason=%q; want %q", res.ValidationApplied, res.SkipReason, tc.want)
			}
			if !res.Breakdown.GrandTotal.Equal(decimal.NewFromInt(300)) || len(res.Steps) != 0 {
				t.Fatalf("local totals must be kept verbatim, got %+v", res.Breakdown)
			}
		})
	}
}

func TestReconcile_NonPositivePayableKeepsLocalPrices(t *testing.T) {
	for _, v := range []int64{0, -50} {
		e, _ := newTestEngine(payable(v))
		res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("T1", 100), item("T2", 200)}})
		if res.ValidationApplied || res.SkipReason != SkipUpstreamRejected {
			t.Fatalf("payable %d: applied=%v reason=%q", v, res.ValidationApplied, res.SkipReason)
		}
		if !res.AdjustedItems[0].SellingPrice.Equal(decimal.NewFromInt(100)) || !res.Breakdown.GrandTotal.Equal(decimal.NewFromInt(300)) {
			t.Fatalf("payable %d: local prices must be kept, got %+v", v, res.Breakdown)
		}
	}
}

func TestReconcile_RetriesOnceAfterAuthSignal(t *testing.T) {
	var keys []string
	e, creds := newTestEngine(quoteFunc(func(_ context.Context, cred domain.Credential, _ upstream.QuoteRequest) (upstream.Quote, error) {
		keys = append(keys, cred.APIKey)
		if len(keys) == 1 {
			return upstream.Quote{}, upstream.ErrAuthExpired
		}
		return upstream.Quote{Payable: decimal.NewFromInt(300)}, nil
	}))
	res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("T1", 100), item("T2", 200)}})
	if !res.ValidationApplied || creds.refreshes != 1 || len(keys) != 2 || keys[1] != "k1" {
		t.Fatalf("expected one refresh and retry, got refreshes=%d keys=%v", creds.refreshes, keys)
	}

	e, creds = newTestEngine(quoteFunc(func(context.Context, domain.Credential, upstream.QuoteRequest) (upstream.Quote, error) {
		return upstream.Quote{}, upstream.ErrAuthExpired
	}))
	res = mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("T1", 100)}})
	if res.ValidationApplied || res.SkipReason != SkipUpstreamRejected || creds.refreshes != 1 {
		t.Fatalf("second auth failure should fall back as rejected, got %+v", res)
	}
}

func TestReconcile_FiltersUnpricedItems(t *testing.T) {
	var sent upstream.QuoteRequest
	e, _ := newTestEngine(quoteFunc(func(_ context.Context, _ domain.Credential, req upstream.QuoteRequest) (upstream.Quote, error) {
		sent = req
		return upstream.Quote{Payable: decimal.NewFromInt(300)}, nil
	}))
	free := item("FREE", 0)
	noCode := item(" ", 50)
	res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("T1", 300), free, noCode}, Beneficiaries: 2, ReportCopy: true})

	if len(sent.Products) != 1 || sent.Products[0] != "T1" || sent.Beneficiaries != 2 || !sent.ReportCopy {
		t.Fatalf("unexpected quote request %+v", sent)
	}
	if len(res.AdjustedItems) != 3 || !res.AdjustedItems[2].SellingPrice.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unpriced items must pass through unchanged, got %+v", res.AdjustedItems)
	}
}

func TestReconcile_NothingPricedSkipsCall(t *testing.T) {
	called := false
	e, _ := newTestEngine(quoteFunc(func(context.Context, domain.Credential, upstream.QuoteRequest) (upstream.Quote, error) {
		called = true
		return upstream.Quote{}, nil
	}))
	res := mustReconcile(t, e, Input{Items: []domain.CartLineItem{item("FREE", 0)}})
	if called || res.SkipReason != SkipNoPricedItems || res.ValidationApplied {
		t.Fatalf("expected skip without calling upstream, got called=%v %+v", called, res)
	}

	if _, err := e.Reconcile(context.Background(), Input{}); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	e := New(nil, nil, Config{})
	cfg := e.Config()
	if !cfg.MinOrderThreshold.Equal(decimal.NewFromInt(300)) || !cfg.Surcharge.Equal(decimal.NewFromInt(200)) ||
		!cfg.SurchargeTolerance.Equal(decimal.NewFromInt(1)) || !cfg.Epsilon.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}
