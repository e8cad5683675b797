package domain

import "github.com/shopspring/decimal"

// Product types known to the catalogue. Profiles and packages bundle several
// tests and are what the partner folds other line items into.
const (
	ProductTypeTest    = "TEST"
	ProductTypeProfile = "PROFILE"
	ProductTypePackage = "PACKAGE"
)

// CartLineItem is one priced product in a cart.
//
// Invariant: Discount = max(0, OriginalPrice - SellingPrice), SellingPrice >= 0.
// IncludedIn is set when the partner bundled this item into another one; such
// items are retained at zero price so they can still be listed.
type CartLineItem struct {
	ProductCode   string          `json:"product_code"`
	ProductName   string          `json:"product_name,omitempty"`
	ProductType   string          `json:"product_type,omitempty"`
	Quantity      int             `json:"quantity"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	Discount      decimal.Decimal `json:"discount"`
	IncludedIn    string          `json:"included_in,omitempty"`
}

// Units returns the quantity, treating non-positive values as one.
func (i CartLineItem) Units() int64 {
	if i.Quantity <= 0 {
		return 1
	}
	return int64(i.Quantity)
}

// LineTotal is SellingPrice times Units.
func (i CartLineItem) LineTotal() decimal.Decimal {
	return i.SellingPrice.Mul(decimal.NewFromInt(i.Units()))
}

// WithSellingPrice returns a copy priced at p with the discount recomputed
// and clamped at zero.
func (i CartLineItem) WithSellingPrice(p decimal.Decimal) CartLineItem {
	if p.IsNegative() {
		p = decimal.Zero
	}
	i.SellingPrice = p
	i.Discount = decimal.Max(decimal.Zero, i.OriginalPrice.Sub(p))
	return i
}

// SumLines adds up LineTotal over items.
func SumLines(items []CartLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// PriceBreakdown is the totals view of a reconciled cart.
type PriceBreakdown struct {
	ProductTotal     decimal.Decimal `json:"product_total"`
	CollectionCharge decimal.Decimal `json:"collection_charge"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
}

// ReconciliationResult is advisory pricing output. It is recomputed on every
// call and never persisted as authoritative.
type ReconciliationResult struct {
	AdjustedItems       []CartLineItem   `json:"adjusted_items"`
	CollectionCharge    decimal.Decimal  `json:"collection_charge"`
	HasCollectionCharge bool             `json:"has_collection_charge"`
	Breakdown           PriceBreakdown   `json:"breakdown"`
	ValidationApplied   bool             `json:"validation_applied"`
	UpstreamPayable     *decimal.Decimal `json:"upstream_payable,omitempty"`
	Steps               []string         `json:"steps,omitempty"`
	SkipReason          string           `json:"skip_reason,omitempty"`
}
