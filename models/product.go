package models

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidProduct = errors.New("product requires a name, a non-negative price and non-negative stock")
	ErrInvalidRating  = errors.New("review rating must be between 1 and 5")
)

// Product 代表商品目錄中的商品
type Product struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Price        float64   `json:"price"`
	Category     string    `json:"category"`
	Image        string    `json:"image"`
	CountInStock int       `json:"countInStock"`
	Rating       float64   `json:"rating"`
	NumReviews   int       `json:"numReviews"`
	Reviews      []Review  `json:"reviews,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Review 代表使用者對商品的評價
type Review struct {
	ID        uint64    `json:"id"`
	ProductID string    `json:"productId"`
	UserID    string    `json:"user"`
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the admin-editable fields.
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" || p.Price < 0 || p.CountInStock < 0 {
		return ErrInvalidProduct
	}
	return nil
}

func (r Review) Validate() error {
	if r.Rating < 1 || r.Rating > 5 {
		return ErrInvalidRating
	}
	return nil
}

// InStock reports whether at least one unit is available.
func (p *Product) InStock() bool {
	return p.CountInStock > 0
}

// HasReviewFrom reports whether userID already reviewed the product.
func (p *Product) HasReviewFrom(userID string) bool {
	for _, r := range p.Reviews {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// AddReview appends the review and recomputes Rating and NumReviews.
func (p *Product) AddReview(r Review) {
	p.Reviews = append(p.Reviews, r)
	p.RecalculateRating()
}

// RecalculateRating sets Rating to the mean of all review ratings.
func (p *Product) RecalculateRating() {
	p.NumReviews = len(p.Reviews)
	if p.NumReviews == 0 {
		p.Rating = 0
		return
	}

	var sum int
	for _, r := range p.Reviews {
		sum += r.Rating
	}
	p.Rating = float64(sum) / float64(p.NumReviews)
}

// CategorySummary 代表分類與其商品數量
type CategorySummary struct {
	Key          string `json:"key"`
	ProductCount int    `json:"productCount"`
}
