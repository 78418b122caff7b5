// Package catalog stores products and reviews and answers the storefront's
// listing queries.
package catalog

import (
	"cmp"
	"slices"
	"strings"

	"goflare.io/storefront/models"
)

// DefaultTopLimit is the size of the top-rated list when no limit is given.
const DefaultTopLimit = 8

// SortMode 代表商品列表的排序方式
type SortMode string

const (
	SortPopularity SortMode = "popularity" // 保持原有順序
	SortPriceAsc   SortMode = "price-asc"
	SortPriceDesc  SortMode = "price-desc"
	SortNameAsc    SortMode = "name-asc"
	SortNameDesc   SortMode = "name-desc"
	SortRating     SortMode = "rating"
)

// Query narrows and orders a product list. A PriceTo of zero or below leaves
// the range open-ended; an empty Category matches every product.
type Query struct {
	Search    string
	PriceFrom float64
	PriceTo   float64
	Category  string
	Sort      SortMode
}

// Filter returns the products matching q in q.Sort order. The input slice is
// not modified and ties keep their input order.
func Filter(products []*models.Product, q Query) []*models.Product {
	search := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]*models.Product, 0, len(products))
	for _, p := range products {
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		if p.Price < q.PriceFrom {
			continue
		}
		if q.PriceTo > 0 && p.Price > q.PriceTo {
			continue
		}
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		out = append(out, p)
	}

	if cmpFn := comparator(q.Sort); cmpFn != nil {
		slices.SortStableFunc(out, cmpFn)
	}
	return out
}

// TopRated orders products by rating, then by number of reviews, and keeps
// the first limit. limit <= 0 means DefaultTopLimit.
func TopRated(products []*models.Product, limit int) []*models.Product {
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	out := slices.Clone(products)
	slices.SortStableFunc(out, func(a, b *models.Product) int {
		if c := cmp.Compare(b.Rating, a.Rating); c != 0 {
			return c
		}
		return cmp.Compare(b.NumReviews, a.NumReviews)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func comparator(mode SortMode) func(a, b *models.Product) int {
	switch mode {
	case SortPriceAsc:
		return func(a, b *models.Product) int { return cmp.Compare(a.Price, b.Price) }
	case SortPriceDesc:
		return func(a, b *models.Product) int { return cmp.Compare(b.Price, a.Price) }
	case SortNameAsc:
		return func(a, b *models.Product) int { return compareNames(a.Name, b.Name) }
	case SortNameDesc:
		return func(a, b *models.Product) int { return compareNames(b.Name, a.Name) }
	case SortRating:
		return func(a, b *models.Product) int { return cmp.Compare(b.Rating, a.Rating) }
	default:
		return nil
	}
}

func compareNames(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}
