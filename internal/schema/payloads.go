package schema

// Price is a scaled integer. The scale is defined by the symbol registry.
type Price int64

// Quantity is a scaled integer. The scale is defined by the symbol registry.
type Quantity int64

// Notional is a raw price*quantity product. Its scale is the sum of the
// price and quantity scales of the symbol it was computed for.
type Notional int64

// Fee is notional-scaled.
type Fee int64

// Bps is a rate in basis points (10000 = 100%).
type Bps int64

// BpsScale is the divisor for Bps values.
const BpsScale int64 = 10000

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return OrderSideUnknown
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeLimitMaker
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	case OrderTypeLimitMaker:
		return "limit_maker"
	default:
		return "unknown"
	}
}

// OrderStatus describes the order lifecycle state.
type OrderStatus uint16

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusNew
	OrderStatusPartFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "new"
	case OrderStatusPartFilled:
		return "partially_filled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCanceled:
		return "canceled"
	case OrderStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status never changes again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Liquidity describes how an order was matched.
type Liquidity uint16

const (
	LiquidityNone Liquidity = iota
	LiquidityMaker
	LiquidityTaker
)

func (l Liquidity) String() string {
	switch l {
	case LiquidityMaker:
		return "maker"
	case LiquidityTaker:
		return "taker"
	default:
		return ""
	}
}

// Quote is the latest best bid/ask for a symbol.
type Quote struct {
	SymbolID SymbolID
	BidPrice Price
	BidSize  Quantity
	AskPrice Price
	AskSize  Quantity
	TsNano   int64
}

// Crossed reports whether both sides are present and bid exceeds ask.
func (q Quote) Crossed() bool {
	return q.BidPrice > 0 && q.AskPrice > 0 && q.BidPrice > q.AskPrice
}

// Valid reports whether both sides are present and not crossed.
func (q Quote) Valid() bool {
	return q.BidPrice > 0 && q.AskPrice > 0 && q.BidPrice <= q.AskPrice
}

// Mid returns the mid price. Zero when the quote is not valid.
func (q Quote) Mid() Price {
	if !q.Valid() {
		return 0
	}
	return (q.BidPrice + q.AskPrice) / 2
}

// SpreadBps returns the bid/ask spread relative to mid, in basis points.
func (q Quote) SpreadBps() Bps {
	mid := q.Mid()
	if mid <= 0 {
		return 0
	}
	return Bps(int64(q.AskPrice-q.BidPrice) * BpsScale / int64(mid))
}

// TradePrint is a public trade observed on the feed.
type TradePrint struct {
	SymbolID  SymbolID
	Price     Price
	Qty       Quantity
	Aggressor OrderSide
	TsNano    int64
}

// Fill is an execution against one of our orders.
type Fill struct {
	OrderID   uint64
	SymbolID  SymbolID
	Side      OrderSide
	Price     Price
	Qty       Quantity
	Fee       Fee
	Liquidity Liquidity
	TsNano    int64
}

const maxInt64 = int64(^uint64(0) >> 1)

// MulNotional multiplies price by quantity with overflow detection.
func MulNotional(price Price, qty Quantity) (Notional, bool) {
	p := int64(price)
	q := int64(qty)
	if p == 0 || q == 0 {
		return 0, false
	}
	if p < 0 {
		p = -p
	}
	if q < 0 {
		q = -q
	}
	if p > maxInt64/q {
		return 0, true
	}
	return Notional(int64(price) * int64(qty)), false
}

// FractionBps returns v*bps/BpsScale, saturating on overflow.
func FractionBps(v int64, bps Bps) int64 {
	if v == 0 || bps == 0 {
		return 0
	}
	a := int64(bps)
	if a < 0 {
		a = -a
	}
	if v > maxInt64/a {
		return maxInt64
	}
	return v * int64(bps) / BpsScale
}

// RatioBps returns part/whole in basis points. Zero when whole is not positive.
func RatioBps(part, whole int64) Bps {
	if whole <= 0 || part <= 0 {
		return 0
	}
	if part > maxInt64/BpsScale {
		whole /= BpsScale
		if whole <= 0 {
			return 0
		}
		return Bps(part / whole)
	}
	return Bps(part * BpsScale / whole)
}
