package mm

import (
	"fmt"
	"time"

	"main/internal/pnl"
	"main/internal/quote"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/shadow"
)

// Config is the per-symbol quoting configuration. QuoteSize is quote
// currency notional per side; inventory targets are base-value ratios of
// total funds in basis points.
type Config struct {
	SymbolID schema.SymbolID
	Symbol   string

	QuoteSize       schema.Notional
	CapitalUsageBps schema.Bps
	MinSpreadBps    schema.Bps
	PriceStep       schema.Price
	QtyStep         schema.Quantity

	CancelTimeout   time.Duration
	ReorderInterval time.Duration

	AggressiveTake bool
	AggressiveBps  schema.Bps

	InventoryTargetBps    schema.Bps
	InventoryToleranceBps schema.Bps

	// PostOnly places passive quotes as limit_maker.
	PostOnly bool
}

// DefaultConfig mirrors the stock paper-trading profile.
func DefaultConfig() Config {
	return Config{
		CapitalUsageBps:       9000,
		MinSpreadBps:          10,
		PriceStep:             1,
		QtyStep:               1,
		CancelTimeout:         20 * time.Second,
		ReorderInterval:       2 * time.Second,
		AggressiveBps:         0,
		InventoryTargetBps:    5000,
		InventoryToleranceBps: 1000,
	}
}

// Stats is the quoter's own activity view for the status report.
type Stats struct {
	Quoting      bool
	OrdersActive int
	OrdersTotal  int
	OrdersFilled int
	RiskBlocks   int
	LastSeedNano int64
}

// Quoter runs the two-sided quoting loop for one symbol. Idle until the
// first valid book, then reseeds on every ReorderInterval. All calls run
// on the owning loop task; Tick and OnFill are not called concurrently.
type Quoter struct {
	cfg  Config
	book *quote.Book
	rsk  *risk.Engine
	exec *shadow.Engine
	pnl  *pnl.Engine
	emit func(schema.Event)

	quoting      bool
	lastSeedNano int64
	bidID        uint64
	askID        uint64
	ordersTotal  int
	ordersFilled int
	riskBlocks   int
}

// NewQuoter wires a quoter and registers its fill handler on the
// execution engine.
func NewQuoter(cfg Config, book *quote.Book, rsk *risk.Engine, exec *shadow.Engine, pe *pnl.Engine, emit func(schema.Event)) *Quoter {
	if emit == nil {
		emit = func(schema.Event) {}
	}
	q := &Quoter{
		cfg:  cfg,
		book: book,
		rsk:  rsk,
		exec: exec,
		pnl:  pe,
		emit: emit,
	}
	exec.SetFillFunc(q.OnFill)
	return q
}

// Tick advances the loop one step. Order of operations matters:
// fills first, then expiry, then reseeding against the post-fill state.
func (q *Quoter) Tick(now int64) {
	best, ok := q.book.Best(q.cfg.SymbolID)
	if !ok || !best.Valid() {
		return
	}
	q.quoting = true

	q.exec.OnBookUpdate(best)
	q.pnl.MarkPrice(q.cfg.SymbolID, best.Mid())

	// sweep resting orders crossed by the book, then drop stale ones
	q.exec.SweepCrossed(now, q.cfg.SymbolID)
	q.cancelExpired(now)

	// feed the risk engine the post-fill state before any placement
	q.syncRisk(now, best)

	if q.lastSeedNano != 0 && now-q.lastSeedNano < int64(q.cfg.ReorderInterval) {
		return
	}
	q.lastSeedNano = now
	q.reseed(now, best)
}

// OnFill is invoked by the execution engine for every fill.
func (q *Quoter) OnFill(fill schema.Fill, order shadow.Order) {
	prev := q.pnl.Position(fill.SymbolID).Qty
	res := q.pnl.ApplyFill(fill, 0)

	if order.Status.Terminal() {
		q.ordersFilled++
	}
	q.emit(schema.NewOrderEvent(fill.TsNano, q.orderPayload(order)))
	q.emit(schema.NewTradeEvent(fill.TsNano, schema.TradeEvent{
		OrderID:     fill.OrderID,
		SymbolID:    fill.SymbolID,
		Symbol:      q.cfg.Symbol,
		Side:        fill.Side,
		Price:       fill.Price,
		Qty:         fill.Qty,
		Fee:         fill.Fee,
		Liquidity:   fill.Liquidity,
		RealizedPnl: res.RealizedPnl,
	}))

	// a reducing fill closes (part of) a trade
	if reduced(prev, fill.Side) {
		q.rsk.OnTradeClosed(risk.TradeRecord{
			TsNano:   fill.TsNano,
			SymbolID: fill.SymbolID,
			Pnl:      res.RealizedPnl,
		})
	}
}

// Stats returns the quoter's activity counters.
func (q *Quoter) Stats() Stats {
	return Stats{
		Quoting:      q.quoting,
		OrdersActive: len(q.exec.OpenOrders(q.cfg.SymbolID)),
		OrdersTotal:  q.ordersTotal,
		OrdersFilled: q.ordersFilled,
		RiskBlocks:   q.riskBlocks,
		LastSeedNano: q.lastSeedNano,
	}
}

// CancelAll cancels both working quotes, used on shutdown and risk stops.
func (q *Quoter) CancelAll(now int64) {
	for _, id := range []uint64{q.bidID, q.askID} {
		if id == 0 {
			continue
		}
		if o, ok := q.exec.Cancel(id); ok && o.Status == schema.OrderStatusCanceled {
			q.emit(schema.NewOrderEvent(now, q.orderPayload(o)))
		}
	}
	q.bidID, q.askID = 0, 0
}

func (q *Quoter) cancelExpired(now int64) {
	for _, o := range q.exec.OpenOrders(q.cfg.SymbolID) {
		if now-o.CreatedAtNano < int64(q.cfg.CancelTimeout) {
			continue
		}
		if canceled, ok := q.exec.Cancel(o.ID); ok && canceled.Status == schema.OrderStatusCanceled {
			payload := q.orderPayload(canceled)
			payload.Reason = "timeout"
			q.emit(schema.NewOrderEvent(now, payload))
		}
	}
}

func (q *Quoter) syncRisk(now int64, best schema.Quote) {
	snap := q.pnl.Equity(now)
	q.rsk.OnEquity(snap.Equity, now)
	pos := q.pnl.Position(q.cfg.SymbolID)
	mark := best.Mid()
	if pos.LastPrice > 0 {
		mark = pos.LastPrice
	}
	q.rsk.OnPosition(pos.Qty, mark, pos.AvgEntryPrice)
}

func (q *Quoter) reseed(now int64, best schema.Quote) {
	spread := best.SpreadBps()

	if q.cfg.AggressiveTake && spread >= q.cfg.MinSpreadBps {
		q.takeSpread(now, best)
		return
	}

	mid := best.Mid()
	offset := schema.Price((best.AskPrice - best.BidPrice) / 2)
	if offset < q.cfg.PriceStep {
		offset = q.cfg.PriceStep
	}

	pxBuy := roundPrice(mid-offset, q.cfg.PriceStep)
	pxSell := roundPrice(mid+offset, q.cfg.PriceStep)
	if spread < q.cfg.MinSpreadBps {
		// spread too tight to improve on: join the touch
		pxBuy = best.BidPrice
		pxSell = best.AskPrice
	}

	// inventory skew: widen the side that grows an off-target inventory
	ratio := q.inventoryRatio(mid)
	switch {
	case ratio > q.cfg.InventoryTargetBps+q.cfg.InventoryToleranceBps:
		pxBuy = roundPrice(mid-offset-offset/2, q.cfg.PriceStep)
		pxSell = roundPrice(mid+offset/2, q.cfg.PriceStep)
	case ratio < q.cfg.InventoryTargetBps-q.cfg.InventoryToleranceBps:
		pxBuy = roundPrice(mid-offset/2, q.cfg.PriceStep)
		pxSell = roundPrice(mid+offset+offset/2, q.cfg.PriceStep)
	}

	qtyBuy := q.buyQty(pxBuy)
	qtySell := q.sellQty(pxSell)

	q.bidID = q.upsert(now, q.bidID, schema.OrderSideBuy, pxBuy, qtyBuy)
	q.askID = q.upsert(now, q.askID, schema.OrderSideSell, pxSell, qtySell)
}

// takeSpread cancels passive quotes and crosses the book from both
// sides, sized by AggressiveBps of the quote notional.
func (q *Quoter) takeSpread(now int64, best schema.Quote) {
	q.CancelAll(now)

	aggQuote := schema.FractionBps(int64(q.cfg.QuoteSize), q.cfg.AggressiveBps)
	if aggQuote <= 0 {
		return
	}
	qtyBuy := roundQty(schema.Quantity(aggQuote/int64(best.AskPrice)), q.cfg.QtyStep)
	qtySell := roundQty(schema.Quantity(aggQuote/int64(best.BidPrice)), q.cfg.QtyStep)

	if qtyBuy > 0 {
		q.place(now, schema.OrderSideBuy, schema.OrderTypeLimit, best.AskPrice, qtyBuy)
	}
	if qtySell > 0 {
		q.place(now, schema.OrderSideSell, schema.OrderTypeLimit, best.BidPrice, qtySell)
	}
}

// upsert leaves an unchanged working order alone, otherwise replaces it.
// Returns the id of the working order for the side, zero when none.
func (q *Quoter) upsert(now int64, curID uint64, side schema.OrderSide, price schema.Price, qty schema.Quantity) uint64 {
	if cur, ok := q.exec.Order(curID); ok && cur.Active() {
		if qty > 0 && cur.Price == price {
			return curID
		}
		if canceled, ok := q.exec.Cancel(curID); ok && canceled.Status == schema.OrderStatusCanceled {
			payload := q.orderPayload(canceled)
			payload.Reason = "reseed"
			q.emit(schema.NewOrderEvent(now, payload))
		}
	}
	if qty <= 0 {
		return 0
	}
	typ := schema.OrderTypeLimit
	if q.cfg.PostOnly {
		typ = schema.OrderTypeLimitMaker
	}
	return q.place(now, side, typ, price, qty)
}

// place runs the risk gate and submits. A denial emits risk_blocked and
// suppresses the side for this tick.
func (q *Quoter) place(now int64, side schema.OrderSide, typ schema.OrderType, price schema.Price, qty schema.Quantity) uint64 {
	if d := q.rsk.CanEnter(q.cfg.SymbolID, now); !d.Allowed {
		q.riskBlocks++
		q.emit(schema.NewRiskBlockedEvent(now, schema.RiskBlockedEvent{
			SymbolID: q.cfg.SymbolID,
			Symbol:   q.cfg.Symbol,
			Side:     side,
			Reason:   d.Reason,
		}))
		return 0
	}

	o := q.exec.Place(now, q.cfg.SymbolID, side, typ, qty, price)
	q.ordersTotal++
	q.emit(schema.NewOrderEvent(now, q.orderPayload(o)))
	if o.Status.Terminal() {
		return 0
	}
	return o.ID
}

// buyQty caps the buy by available cash times capital usage.
func (q *Quoter) buyQty(price schema.Price) schema.Quantity {
	if price <= 0 {
		return 0
	}
	cash := int64(q.pnl.Cash())
	if cash < 0 {
		cash = 0
	}
	avail := schema.FractionBps(cash, q.cfg.CapitalUsageBps)
	notional := int64(q.cfg.QuoteSize)
	if avail < notional {
		notional = avail
	}
	return roundQty(schema.Quantity(notional/int64(price)), q.cfg.QtyStep)
}

// sellQty caps the sell by held inventory times capital usage.
func (q *Quoter) sellQty(price schema.Price) schema.Quantity {
	if price <= 0 {
		return 0
	}
	pos := int64(q.pnl.Position(q.cfg.SymbolID).Qty)
	if pos < 0 {
		pos = 0
	}
	desired := int64(q.cfg.QuoteSize) / int64(price)
	availBase := schema.FractionBps(pos, q.cfg.CapitalUsageBps)
	if desired > availBase {
		desired = availBase
	}
	return roundQty(schema.Quantity(desired), q.cfg.QtyStep)
}

// inventoryRatio returns base value over total funds in basis points.
func (q *Quoter) inventoryRatio(mid schema.Price) schema.Bps {
	pos := int64(q.pnl.Position(q.cfg.SymbolID).Qty)
	if pos < 0 {
		pos = 0
	}
	baseVal, overflow := schema.MulNotional(mid, schema.Quantity(pos))
	if overflow {
		return 0
	}
	cash := int64(q.pnl.Cash())
	if cash < 0 {
		cash = 0
	}
	total := int64(baseVal) + cash
	return schema.RatioBps(int64(baseVal), total)
}

func (q *Quoter) orderPayload(o shadow.Order) schema.OrderEvent {
	return schema.OrderEvent{
		OrderID:     o.ID,
		SymbolID:    o.SymbolID,
		Symbol:      q.cfg.Symbol,
		Side:        o.Side,
		Type:        o.Type,
		Status:      o.Status,
		Price:       o.Price,
		Qty:         o.RequestedQty,
		ExecutedQty: o.ExecutedQty,
		Reason:      o.RejectReason,
	}
}

// Validate rejects configurations that cannot quote.
func (c Config) Validate() error {
	if c.SymbolID == 0 {
		return fmt.Errorf("mm: symbol id required")
	}
	if c.QuoteSize <= 0 {
		return fmt.Errorf("mm: quote size must be positive")
	}
	if c.PriceStep <= 0 || c.QtyStep <= 0 {
		return fmt.Errorf("mm: price/qty step must be positive")
	}
	if c.CapitalUsageBps <= 0 || c.CapitalUsageBps > schema.Bps(schema.BpsScale) {
		return fmt.Errorf("mm: capital usage out of range: %d", c.CapitalUsageBps)
	}
	if c.ReorderInterval <= 0 || c.CancelTimeout <= 0 {
		return fmt.Errorf("mm: intervals must be positive")
	}
	if c.AggressiveTake && c.AggressiveBps <= 0 {
		return fmt.Errorf("mm: aggressive take requires aggressive bps")
	}
	return nil
}

func roundPrice(p, step schema.Price) schema.Price {
	if step <= 1 {
		return p
	}
	return p / step * step
}

func roundQty(q, step schema.Quantity) schema.Quantity {
	if step <= 1 {
		return q
	}
	return q / step * step
}

// reduced reports whether a fill on side shrinks an existing position.
func reduced(prev schema.Quantity, side schema.OrderSide) bool {
	return (prev > 0 && side == schema.OrderSideSell) ||
		(prev < 0 && side == schema.OrderSideBuy)
}
