package stock

// ReserveStockParams takes Quantity units of a product out of stock.
type ReserveStockParams struct {
	ProductID string
	Quantity  int
}

// ReleaseStockParams returns Quantity units of a product to stock.
type ReleaseStockParams struct {
	ProductID string
	Quantity  int
}
