package reconcile

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

// Matcher maps a product named in the partner's quote back to one of the
// submitted line items. Match returns an index into items or -1.
type Matcher interface {
	Name() string
	Match(product string, items []domain.CartLineItem) int
}

// DefaultMatchers is the bundling match order: exact, then partial, then
// bundle type.
func DefaultMatchers() []Matcher {
	return []Matcher{ExactMatcher{}, PartialMatcher{}, BundleTypeMatcher{}}
}

// firstMatch runs matchers in order and returns the first hit.
func firstMatch(matchers []Matcher, product string, items []domain.CartLineItem) (int, string) {
	for _, m := range matchers {
		if i := m.Match(product, items); i >= 0 && i < len(items) {
			return i, m.Name()
		}
	}
	return -1, ""
}

// fold normalizes for caseless comparison. A Caser is stateful, so each call
// gets its own.
func fold(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// ExactMatcher matches on product code or name, ignoring case.
type ExactMatcher struct{}

func (ExactMatcher) Name() string { return "exact" }

func (ExactMatcher) Match(product string, items []domain.CartLineItem) int {
	p := fold(product)
	if p == "" {
		return -1
	}
	for i, it := range items {
		if fold(it.ProductCode) == p || (it.ProductName != "" && fold(it.ProductName) == p) {
			return i
		}
	}
	return -1
}

// PartialMatcher matches when either side contains the other, on code or
// name. The longest overlapping candidate wins.
type PartialMatcher struct{}

func (PartialMatcher) Name() string { return "partial" }

func (PartialMatcher) Match(product string, items []domain.CartLineItem) int {
	p := fold(product)
	if p == "" {
		return -1
	}
	best, bestLen := -1, 0
	for i, it := range items {
		for _, field := range []string{it.ProductCode, it.ProductName} {
			f := fold(field)
			if f == "" {
				continue
			}
			if strings.Contains(p, f) || strings.Contains(f, p) {
				if n := min(len(f), len(p)); n > bestLen {
					best, bestLen = i, n
				}
			}
		}
	}
	return best
}

// BundleTypeMatcher picks the profile or package item, preferring the one
// with the highest original price. It ignores the product name entirely.
type BundleTypeMatcher struct{}

func (BundleTypeMatcher) Name() string { return "bundle_type" }

func (BundleTypeMatcher) Match(_ string, items []domain.CartLineItem) int {
	best := -1
	for i, it := range items {
		t := strings.ToUpper(strings.TrimSpace(it.ProductType))
		if t != domain.ProductTypeProfile && t != domain.ProductTypePackage {
			continue
		}
		if best < 0 || it.OriginalPrice.GreaterThan(items[best].OriginalPrice) {
			best = i
		}
	}
	return best
}
