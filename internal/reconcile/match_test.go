package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

func TestMatchers(t *testing.T) {
	items := []domain.CartLineItem{
		{ProductCode: "TSH", ProductName: "Thyroid Stimulating Hormone", ProductType: domain.ProductTypeTest},
		{ProductCode: "P1", ProductName: "Aarogyam  Basic", ProductType: domain.ProductTypeProfile, OriginalPrice: decimal.NewFromInt(900)},
		{ProductCode: "P2", ProductName: "Wellness Package", ProductType: "package", OriginalPrice: decimal.NewFromInt(1500)},
	}
	cases := []struct {
		name    string
		m       Matcher
		product string
		want    int
	}{
		{"exact code ignores case", ExactMatcher{}, "tsh", 0},
		{"exact name collapses spaces", ExactMatcher{}, "AAROGYAM BASIC", 1},
		{"exact misses partial", ExactMatcher{}, "aarogyam", -1},
		{"partial substring of name", PartialMatcher{}, "aarogyam", 1},
		{"partial name inside product", PartialMatcher{}, "Wellness Package 2024", 2},
		{"partial empty product", PartialMatcher{}, "  ", -1},
		{"bundle type prefers highest price", BundleTypeMatcher{}, "anything", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.m.Match(tc.product, items); got != tc.want {
				t.Fatalf("%s.Match(%q) = %d; want %d", tc.m.Name(), tc.product, got, tc.want)
			}
		})
	}
}

func TestFirstMatch_OrderedStrategies(t *testing.T) {
	items := []domain.CartLineItem{
		{ProductCode: "P1", ProductName: "Aarogyam", ProductType: domain.ProductTypeProfile},
		{ProductCode: "T1", ProductName: "Aarogyam Extra Test"},
	}
	i, how := firstMatch(DefaultMatchers(), "aarogyam", items)
	if i != 0 || how != "exact" {
		t.Fatalf("firstMatch = (%d,%q); want exact hit on 0", i, how)
	}
	i, how = firstMatch(DefaultMatchers(), "Extra", items)
	if i != 1 || how != "partial" {
		t.Fatalf("firstMatch = (%d,%q); want partial hit on 1", i, how)
	}
	i, how = firstMatch(DefaultMatchers(), "ZZZ", items)
	if i != 0 || how != "bundle_type" {
		t.Fatalf("firstMatch = (%d,%q); want bundle_type hit on 0", i, how)
	}
	if i, _ := firstMatch(nil, "ZZZ", items); i != -1 {
		t.Fatalf("no matchers must not match")
	}
}

func TestMarginCapPercent(t *testing.T) {
	total := decimal.NewFromInt(2000)
	cases := []struct {
		raw  decimal.Decimal
		want decimal.Decimal
		ok   bool
	}{
		{decimal.NewFromFloat(0.15), decimal.NewFromInt(15), true},
		{decimal.NewFromInt(1), decimal.NewFromInt(100), true},
		{decimal.NewFromInt(100), decimal.NewFromInt(5), true},
		{decimal.Zero, decimal.Zero, false},
		{decimal.NewFromInt(-3), decimal.Zero, false},
	}
	for _, tc := range cases {
		got, ok := marginCapPercent(tc.raw, total)
		if ok != tc.ok || !got.Equal(tc.want) {
			t.Fatalf("marginCapPercent(%s) = (%s,%v); want (%s,%v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
	if _, ok := marginCapPercent(decimal.NewFromInt(50), decimal.Zero); ok {
		t.Fatalf("absolute margin over an empty cart must be ignored")
	}
}
