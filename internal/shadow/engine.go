package shadow

import (
	"sync"
	"time"

	"main/internal/schema"
)

// Config controls how closely the simulator mimics a real venue.
type Config struct {
	// Latency delays order visibility after placement.
	Latency time.Duration
	// MarketLatency is the extra delay stamped on immediate taker fills.
	MarketLatency time.Duration
	// SlippageBps worsens taker fill prices: buys fill above the ask,
	// sells below the bid.
	SlippageBps schema.Bps
	// AlphaBps is the queue-position share of a trade print awarded to a
	// touched resting order (10000 = the whole print).
	AlphaBps schema.Bps
	// PostOnlyReject rejects limit_maker orders that would cross on arrival.
	PostOnlyReject bool
	// SimulateMarketFills enables immediate fills for market orders and
	// marketable limits.
	SimulateMarketFills bool
	// PartialFills awards alpha-scaled partial maker fills; when false a
	// touched order claims its full remaining size.
	PartialFills bool
	// TakerFeeBps/MakerFeeBps are charged on fill notional.
	TakerFeeBps schema.Bps
	MakerFeeBps schema.Bps
}

// DefaultConfig mirrors conservative exchange-simulation defaults.
func DefaultConfig() Config {
	return Config{
		Latency:             120 * time.Millisecond,
		MarketLatency:       20 * time.Millisecond,
		SlippageBps:         1,
		AlphaBps:            8500,
		PostOnlyReject:      true,
		SimulateMarketFills: true,
		PartialFills:        true,
	}
}

// Order is the simulator's view of an order. Terminal statuses never
// change again and executed quantity never exceeds the request.
type Order struct {
	ID            uint64
	SymbolID      schema.SymbolID
	Side          schema.OrderSide
	Type          schema.OrderType
	Price         schema.Price
	RequestedQty  schema.Quantity
	ExecutedQty   schema.Quantity
	Status        schema.OrderStatus
	Liquidity     schema.Liquidity
	CreatedAtNano int64
	VisibleAtNano int64
	RejectReason  string
}

// Remaining returns the unexecuted quantity.
func (o Order) Remaining() schema.Quantity {
	left := o.RequestedQty - o.ExecutedQty
	if left < 0 {
		return 0
	}
	return left
}

// Active reports whether the order can still be filled or canceled.
func (o Order) Active() bool {
	return !o.Status.Terminal() && o.Status != schema.OrderStatusUnknown
}

// FillFunc receives every fill the simulator produces, together with the
// order state after the fill was applied.
type FillFunc func(fill schema.Fill, order Order)

// Engine simulates exchange order handling against the latest best
// bid/ask and incoming trade prints. Safe for concurrent use: the feed
// task pushes book updates and prints while the loop task places orders.
type Engine struct {
	cfg    Config
	mu     sync.Mutex
	nextID uint64
	orders map[uint64]*Order
	bySym  map[schema.SymbolID]map[uint64]struct{}
	best   map[schema.SymbolID]schema.Quote
	onFill FillFunc
}

// NewEngine creates a simulator. Alpha outside [0,10000] is clamped.
func NewEngine(cfg Config) *Engine {
	if cfg.AlphaBps < 0 {
		cfg.AlphaBps = 0
	}
	if cfg.AlphaBps > schema.Bps(schema.BpsScale) {
		cfg.AlphaBps = schema.Bps(schema.BpsScale)
	}
	return &Engine{
		cfg:    cfg,
		orders: make(map[uint64]*Order),
		bySym:  make(map[schema.SymbolID]map[uint64]struct{}),
		best:   make(map[schema.SymbolID]schema.Quote),
	}
}

// SetFillFunc registers the fill callback. Must be set before any order
// can fill; fills produced with no callback are dropped.
func (e *Engine) SetFillFunc(fn FillFunc) {
	e.mu.Lock()
	e.onFill = fn
	e.mu.Unlock()
}

// OnBookUpdate stores the latest best bid/ask. Crossed quotes are ignored.
func (e *Engine) OnBookUpdate(q schema.Quote) {
	if !q.Valid() {
		return
	}
	e.mu.Lock()
	e.best[q.SymbolID] = q
	e.mu.Unlock()
}

// Place simulates order placement. The order becomes visible to maker
// matching after the configured latency; market orders and marketable
// limits fill immediately at the slipped price.
func (e *Engine) Place(now int64, symbolID schema.SymbolID, side schema.OrderSide, typ schema.OrderType, qty schema.Quantity, price schema.Price) Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	o := &Order{
		ID:            e.allocID(),
		SymbolID:      symbolID,
		Side:          side,
		Type:          typ,
		Price:         price,
		RequestedQty:  qty,
		Status:        schema.OrderStatusNew,
		CreatedAtNano: now,
		VisibleAtNano: now + int64(e.cfg.Latency),
	}
	e.index(o)

	if qty <= 0 || side == schema.OrderSideUnknown {
		o.Status = schema.OrderStatusRejected
		o.RejectReason = "invalid order"
		return *o
	}

	best, hasQuote := e.best[symbolID]

	if typ == schema.OrderTypeMarket {
		execPx := price
		if e.cfg.SimulateMarketFills && hasQuote {
			execPx = e.slippedPrice(side, best)
		}
		if execPx <= 0 {
			o.Status = schema.OrderStatusRejected
			o.RejectReason = "no price available"
			return *o
		}
		e.fillLocked(o, execPx, o.RequestedQty, schema.LiquidityTaker, now+int64(e.cfg.MarketLatency))
		return *o
	}

	if price <= 0 {
		o.Status = schema.OrderStatusRejected
		o.RejectReason = "invalid price"
		return *o
	}

	crossing := hasQuote && crosses(side, price, best)

	if typ == schema.OrderTypeLimitMaker && crossing && e.cfg.PostOnlyReject {
		o.Status = schema.OrderStatusRejected
		o.RejectReason = "post-only would cross"
		return *o
	}

	if typ == schema.OrderTypeLimit && crossing && e.cfg.SimulateMarketFills {
		e.fillLocked(o, e.slippedPrice(side, best), o.RequestedQty, schema.LiquidityTaker, now+int64(e.cfg.MarketLatency))
		return *o
	}

	// rests on the book
	return *o
}

// Cancel is idempotent: canceling a terminal order returns its current
// state unchanged.
func (e *Engine) Cancel(id uint64) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return Order{}, false
	}
	if o.Status.Terminal() {
		return *o, true
	}
	o.Status = schema.OrderStatusCanceled
	return *o, true
}

// Order returns the current order state.
func (e *Engine) Order(id uint64) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// OpenOrders returns all non-terminal orders for a symbol.
func (e *Engine) OpenOrders(symbolID schema.SymbolID) []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Order
	for id := range e.bySym[symbolID] {
		if o := e.orders[id]; o.Active() {
			out = append(out, *o)
		}
	}
	return out
}

// OnTradePrint awards maker fills to visible resting orders touched by
// the print. Each touched order claims alpha of the print quantity,
// capped at its remaining size.
func (e *Engine) OnTradePrint(now int64, print schema.TradePrint) {
	if print.Qty <= 0 || print.Price <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for id := range e.bySym[print.SymbolID] {
		o := e.orders[id]
		if !o.Active() {
			continue
		}
		if o.Type != schema.OrderTypeLimit && o.Type != schema.OrderTypeLimitMaker {
			continue
		}
		if now < o.VisibleAtNano {
			continue
		}
		touched := (o.Side == schema.OrderSideBuy && print.Price <= o.Price) ||
			(o.Side == schema.OrderSideSell && print.Price >= o.Price)
		if !touched {
			continue
		}
		take := schema.Quantity(schema.FractionBps(int64(print.Qty), e.cfg.AlphaBps))
		if !e.cfg.PartialFills {
			take = o.Remaining()
		}
		fillQty := take
		if remaining := o.Remaining(); fillQty > remaining {
			fillQty = remaining
		}
		if fillQty <= 0 {
			continue
		}
		e.fillLocked(o, print.Price, fillQty, schema.LiquidityMaker, now)
	}
}

// SweepCrossed fills any visible resting order crossed by the current
// book (buy priced at or above the ask, sell at or below the bid) at its
// own price. This is the loop's proxy for being swept by the market.
func (e *Engine) SweepCrossed(now int64, symbolID schema.SymbolID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	best, ok := e.best[symbolID]
	if !ok || !best.Valid() {
		return
	}
	for id := range e.bySym[symbolID] {
		o := e.orders[id]
		if !o.Active() || now < o.VisibleAtNano {
			continue
		}
		if o.Type != schema.OrderTypeLimit && o.Type != schema.OrderTypeLimitMaker {
			continue
		}
		swept := (o.Side == schema.OrderSideBuy && o.Price >= best.AskPrice) ||
			(o.Side == schema.OrderSideSell && o.Price <= best.BidPrice)
		if !swept {
			continue
		}
		e.fillLocked(o, o.Price, o.Remaining(), schema.LiquidityMaker, now)
	}
}

func (e *Engine) allocID() uint64 {
	e.nextID++
	return e.nextID
}

func (e *Engine) index(o *Order) {
	e.orders[o.ID] = o
	set, ok := e.bySym[o.SymbolID]
	if !ok {
		set = make(map[uint64]struct{})
		e.bySym[o.SymbolID] = set
	}
	set[o.ID] = struct{}{}
}

// fillLocked applies a fill and emits it. Caller holds the mutex.
func (e *Engine) fillLocked(o *Order, price schema.Price, qty schema.Quantity, liq schema.Liquidity, ts int64) {
	if o.Status.Terminal() || qty <= 0 {
		return
	}
	if remaining := o.Remaining(); qty > remaining {
		qty = remaining
	}
	o.ExecutedQty += qty
	o.Liquidity = liq
	if o.Remaining() == 0 {
		o.Status = schema.OrderStatusFilled
	} else {
		o.Status = schema.OrderStatusPartFilled
	}

	fill := schema.Fill{
		OrderID:   o.ID,
		SymbolID:  o.SymbolID,
		Side:      o.Side,
		Price:     price,
		Qty:       qty,
		Fee:       e.fee(price, qty, liq),
		Liquidity: liq,
		TsNano:    ts,
	}
	if e.onFill != nil {
		e.onFill(fill, *o)
	}
}

func (e *Engine) fee(price schema.Price, qty schema.Quantity, liq schema.Liquidity) schema.Fee {
	notional, overflow := schema.MulNotional(price, qty)
	if overflow {
		return 0
	}
	bps := e.cfg.MakerFeeBps
	if liq == schema.LiquidityTaker {
		bps = e.cfg.TakerFeeBps
	}
	return schema.Fee(schema.FractionBps(int64(notional), bps))
}

func (e *Engine) slippedPrice(side schema.OrderSide, best schema.Quote) schema.Price {
	switch side {
	case schema.OrderSideBuy:
		return schema.Price(int64(best.AskPrice) + schema.FractionBps(int64(best.AskPrice), e.cfg.SlippageBps))
	case schema.OrderSideSell:
		return schema.Price(int64(best.BidPrice) - schema.FractionBps(int64(best.BidPrice), e.cfg.SlippageBps))
	default:
		return 0
	}
}

func crosses(side schema.OrderSide, price schema.Price, best schema.Quote) bool {
	if !best.Valid() {
		return false
	}
	return (side == schema.OrderSideBuy && price >= best.AskPrice) ||
		(side == schema.OrderSideSell && price <= best.BidPrice)
}
