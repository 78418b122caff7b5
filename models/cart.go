package models

// CartLineItem 代表購物車中的單個商品項目
// 價格與庫存是加入購物車當下的快照，之後不會跟著商品目錄變動。
type CartLineItem struct {
	ProductID    string  `json:"product"`
	Name         string  `json:"name"`
	Image        string  `json:"image"`
	Description  string  `json:"description,omitempty"`
	Price        float64 `json:"price"`
	CountInStock int     `json:"countInStock"`
	Quantity     int     `json:"quantity"`
}

// Subtotal returns price × quantity for the line.
func (i CartLineItem) Subtotal() float64 {
	return i.Price * float64(i.Quantity)
}

// NewCartLineItem snapshots a catalog product into a line item.
func NewCartLineItem(p *Product, quantity int) CartLineItem {
	return CartLineItem{
		ProductID:    p.ID,
		Name:         p.Name,
		Image:        p.Image,
		Description:  p.Description,
		Price:        p.Price,
		CountInStock: p.CountInStock,
		Quantity:     quantity,
	}
}

// CartSnapshot is the finalized view of a cart handed to the order service.
type CartSnapshot struct {
	Items      []OrderItem `json:"orderItems"`
	TotalPrice float64     `json:"totalPrice"`
}
