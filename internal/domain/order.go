package domain

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the reversing side, used for compensating actions.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus is the terminal state reported by an order connector.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusTimedOut OrderStatus = "timed_out"
	OrderStatusFailed   OrderStatus = "failed"
)

// OrderRequest is a single limit order submitted to an exchange connector.
// ClientOrderID makes retries on ambiguous network failures idempotent-safe
// for venues that support client-side deduplication.
type OrderRequest struct {
	ClientOrderID string
	Exchange      string
	Pair          TradingPair
	Side          OrderSide
	LimitPrice    float64
	Size          float64
}

// OrderResult is the connector's report for a submitted order.
type OrderResult struct {
	OrderID     string
	Status      OrderStatus
	FilledPrice float64
	FilledSize  float64
	FeeUSD      float64
	Message     string
}

// Filled reports whether the order resulted in a fill.
func (r OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled && r.FilledSize > 0
}
