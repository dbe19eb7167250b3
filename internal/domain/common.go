package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the mirrored side. The house books every client order on the opposite side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Valid reports whether s is BUY or SELL.
func (s OrderSide) Valid() bool {
	return s == Buy || s == Sell
}

// OrderKind is the requested execution style of an order.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
	KindStop   OrderKind = "STOP"
)

// Valid reports whether k is a known order kind.
func (k OrderKind) Valid() bool {
	switch k {
	case KindMarket, KindLimit, KindStop:
		return true
	}
	return false
}

// IsPending reports whether orders of this kind wait in the pending index before filling.
func (k OrderKind) IsPending() bool {
	return k == KindLimit || k == KindStop
}

// CloseReason indicates why a trade was closed.
type CloseReason string

const (
	CloseReasonManual        CloseReason = "MANUAL"
	CloseReasonStopLoss      CloseReason = "STOP_LOSS"
	CloseReasonTakeProfit    CloseReason = "TAKE_PROFIT"
	CloseReasonMarginStopOut CloseReason = "MARGIN_STOP_OUT"
)
