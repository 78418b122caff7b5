package models

import (
	"errors"
	"math"
	"strings"
	"time"

	"goflare.io/storefront/models/enum"
)

// totalTolerance absorbs float rounding between client and server totals.
const totalTolerance = 0.01

var (
	ErrEmptyOrder           = errors.New("order has no items")
	ErrInvalidItemQuantity  = errors.New("order item quantity must be at least 1")
	ErrInvalidItemPrice     = errors.New("order item price must not be negative")
	ErrInvalidAddress       = errors.New("shipping address is incomplete")
	ErrInvalidPaymentMethod = errors.New("unsupported payment method")
	ErrTotalMismatch        = errors.New("order total does not match items")
)

// Order 代表訂單
type Order struct {
	ID              uint64             `json:"id"`
	UserID          string             `json:"user,omitempty"`
	Items           []OrderItem        `json:"orderItems"`
	ShippingAddress ShippingAddress    `json:"shippingAddress"`
	PaymentMethod   enum.PaymentMethod `json:"paymentMethod"`
	TotalPrice      float64            `json:"totalPrice"`
	Status          enum.OrderStatus   `json:"status"`
	IsPaid          bool               `json:"isPaid"`
	PaidAt          *time.Time         `json:"paidAt,omitempty"`
	IsDelivered     bool               `json:"isDelivered"`
	DeliveredAt     *time.Time         `json:"deliveredAt,omitempty"`
	PaymentIntentID string             `json:"paymentIntentId,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// OrderItem 代表訂單中的單個商品項目
type OrderItem struct {
	ID        uint64  `json:"-"`
	OrderID   uint64  `json:"-"`
	ProductID string  `json:"product"`
	Name      string  `json:"name"`
	Image     string  `json:"image"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// ShippingAddress 代表收件資訊
type ShippingAddress struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Validate checks that the fields needed for delivery are present.
func (a ShippingAddress) Validate() error {
	if strings.TrimSpace(a.FullName) == "" ||
		strings.TrimSpace(a.Phone) == "" ||
		strings.TrimSpace(a.Address) == "" {
		return ErrInvalidAddress
	}
	return nil
}

// ItemsTotal recomputes Σ price × quantity over the order items.
func (o *Order) ItemsTotal() float64 {
	var total float64
	for _, item := range o.Items {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// Validate checks the order before it is persisted.
func (o *Order) Validate() error {
	if len(o.Items) == 0 {
		return ErrEmptyOrder
	}
	for _, item := range o.Items {
		if item.Quantity < 1 {
			return ErrInvalidItemQuantity
		}
		if item.Price < 0 {
			return ErrInvalidItemPrice
		}
	}
	if !o.PaymentMethod.Valid() {
		return ErrInvalidPaymentMethod
	}
	if err := o.ShippingAddress.Validate(); err != nil {
		return err
	}
	if math.Abs(o.ItemsTotal()-o.TotalPrice) > totalTolerance {
		return ErrTotalMismatch
	}
	return nil
}

// AllowChangeStatus reports whether the order may move to newStatus.
func (o *Order) AllowChangeStatus(newStatus enum.OrderStatus) bool {
	return o.Status.CanTransitionTo(newStatus)
}

// DashboardStats 代表後台首頁的統計
type DashboardStats struct {
	TotalProducts int     `json:"totalProducts"`
	TotalOrders   int     `json:"totalOrders"`
	TotalRevenue  float64 `json:"totalRevenue"`
}
