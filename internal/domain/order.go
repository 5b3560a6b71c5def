package domain

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest describes one order to be submitted to a venue. Size is the
// base-asset quantity; Price is only set for limit orders.
type OrderRequest struct {
	Symbol string
	Side   OrderSide
	Size   float64
	Type   OrderType
	Price  *float64
}

// OrderResult wraps a venue's response after order submission.
type OrderResult struct {
	Success bool
	OrderID string
	Message string
}

// MarketInfo describes a venue's trading constraints for one instrument.
type MarketInfo struct {
	Symbol       string
	MinOrderSize float64
	TickSize     float64
	MaxLeverage  int
}
