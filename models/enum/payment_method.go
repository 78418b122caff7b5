package enum

// PaymentMethod 表示結帳時可選的付款方式
type PaymentMethod string

const (
	PaymentMethodCardOnline     PaymentMethod = "card-online"      // 線上刷卡
	PaymentMethodCardOnDelivery PaymentMethod = "card-on-delivery" // 貨到刷卡
	PaymentMethodCashOnDelivery PaymentMethod = "cash-on-delivery" // 貨到付現
)

// Valid reports whether m is one of the supported payment methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCardOnline, PaymentMethodCardOnDelivery, PaymentMethodCashOnDelivery:
		return true
	}
	return false
}

// RequiresOnlinePayment reports whether checkout must start a payment intent.
func (m PaymentMethod) RequiresOnlinePayment() bool {
	return m == PaymentMethodCardOnline
}
