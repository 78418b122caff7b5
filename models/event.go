package models

import (
	"time"

	"github.com/stripe/stripe-go/v79"
)

// Event 代表已接收的付款事件，用於避免重複處理
type Event struct {
	ID        string           `json:"id"`
	Type      stripe.EventType `json:"type"`
	Processed bool             `json:"processed"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// OrderEvent 代表對外發布的訂單事件
type OrderEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OrderID    uint64    `json:"order_id"`
	UserID     string    `json:"user_id,omitempty"`
	Status     string    `json:"status"`
	TotalPrice float64   `json:"total_price"`
	OccurredAt time.Time `json:"occurred_at"`
}
