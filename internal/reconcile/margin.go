package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// marginCapPercent converts the partner's raw margin into a percentage of
// the original price. A raw value above 1 is read as an absolute amount over
// the whole cart, anything else as a fraction.
//
// The > 1 split is a heuristic: a fractional absolute margin (0.5 off a
// cart) or a percentage sent as 15 rather than 0.15 are both misread. It
// needs confirming with the partner before it is relied on.
func marginCapPercent(raw, originalTotal decimal.Decimal) (decimal.Decimal, bool) {
	if !raw.IsPositive() {
		return decimal.Zero, false
	}
	if raw.GreaterThan(one) {
		if !originalTotal.IsPositive() {
			return decimal.Zero, false
		}
		return raw.Div(originalTotal).Mul(hundred), true
	}
	return raw.Mul(hundred), true
}

// applyMarginCap limits each item's discount to pct percent of its original
// price. Items folded into a bundle are left alone. It reports whether any
// item changed.
func applyMarginCap(items []domain.CartLineItem, pct decimal.Decimal) bool {
	changed := false
	for i, it := range items {
		if it.IncludedIn != "" || !it.OriginalPrice.IsPositive() {
			continue
		}
		maxDiscount := it.OriginalPrice.Mul(pct).Div(hundred).Round(2)
		if it.Discount.GreaterThan(maxDiscount) {
			items[i] = it.WithSellingPrice(it.OriginalPrice.Sub(maxDiscount))
			changed = true
		}
	}
	return changed
}

func originalTotal(items []domain.CartLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.OriginalPrice.Mul(decimal.NewFromInt(it.Units())))
	}
	return total
}
