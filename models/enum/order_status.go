package enum

// OrderStatus 表示訂單的狀態
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"    // 訂單已創建，等待付款或確認
	OrderStatusProcessing OrderStatus = "processing" // 訂單處理中
	OrderStatusShipped    OrderStatus = "shipped"    // 已出貨，運送中
	OrderStatusDelivered  OrderStatus = "delivered"  // 已送達
	OrderStatusCancelled  OrderStatus = "cancelled"  // 訂單取消
	OrderStatusFailed     OrderStatus = "failed"     // 訂單支付失敗
)

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusFailed:     {OrderStatusPending, OrderStatusCancelled},
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status may move to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
