package pnl

import (
	"sync"

	"main/internal/schema"
)

// Position is the running inventory for one symbol. AvgEntryPrice is the
// weighted average of the entries building the current position and is
// zero whenever the position is flat.
type Position struct {
	SymbolID      schema.SymbolID
	Qty           schema.Quantity
	AvgEntryPrice schema.Price
	RealizedPnl   schema.Notional
	LastPrice     schema.Price
}

// UnrealizedPnl marks the open quantity against the last seen price.
func (p Position) UnrealizedPnl() schema.Notional {
	if p.Qty == 0 || p.LastPrice == 0 || p.AvgEntryPrice == 0 {
		return 0
	}
	diff := int64(p.LastPrice) - int64(p.AvgEntryPrice)
	v, overflow := schema.MulNotional(schema.Price(diff), p.Qty)
	if overflow {
		return 0
	}
	return v
}

// FillResult reports the effect of one fill.
type FillResult struct {
	RealizedPnl schema.Notional
	Position    Position
}

// EquitySnapshot is cash plus the mark value of every open position.
type EquitySnapshot struct {
	TsNano      int64
	Cash        schema.Notional
	Equity      schema.Notional
	RealizedPnl schema.Notional
}

// Engine tracks positions, cash and realized PnL across fills.
// Weighted-average accounting: adding in the same direction moves the
// average entry, reducing realizes against it, flipping through zero
// opens the residual at the fill price.
type Engine struct {
	mu        sync.Mutex
	cash      schema.Notional
	realized  schema.Notional
	positions map[schema.SymbolID]*Position
	fills     uint64
}

func NewEngine(initialCash schema.Notional) *Engine {
	return &Engine{
		cash:      initialCash,
		positions: make(map[schema.SymbolID]*Position),
	}
}

// ApplyFill applies one execution and returns the realized PnL it
// produced together with the updated position. funding is an external
// cash adjustment settled with the fill (zero for spot).
func (e *Engine) ApplyFill(fill schema.Fill, funding schema.Notional) FillResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.positions[fill.SymbolID]
	if !ok {
		p = &Position{SymbolID: fill.SymbolID}
		e.positions[fill.SymbolID] = p
	}

	signed := int64(fill.Qty)
	if fill.Side == schema.OrderSideSell {
		signed = -signed
	}

	realized := e.applySigned(p, signed, fill.Price)
	p.RealizedPnl += realized
	p.LastPrice = fill.Price
	e.realized += realized

	notional, overflow := schema.MulNotional(fill.Price, fill.Qty)
	if !overflow {
		if fill.Side == schema.OrderSideBuy {
			e.cash -= notional
		} else {
			e.cash += notional
		}
	}
	e.cash -= schema.Notional(fill.Fee)
	e.cash += funding
	e.fills++

	return FillResult{RealizedPnl: realized, Position: *p}
}

// applySigned mutates qty and avg entry, returning realized pnl.
// Caller holds the mutex.
func (e *Engine) applySigned(p *Position, signed int64, price schema.Price) schema.Notional {
	pos := int64(p.Qty)

	// flat or same direction: extend and reweight the average
	if pos == 0 || sameSign(pos, signed) {
		total := pos + signed
		if total != 0 {
			oldVal := int64(p.AvgEntryPrice) * abs(pos)
			newVal := int64(price) * abs(signed)
			p.AvgEntryPrice = schema.Price((oldVal + newVal) / abs(total))
		}
		p.Qty = schema.Quantity(total)
		return 0
	}

	// opposing: realize against the average entry
	closeQty := abs(signed)
	if a := abs(pos); closeQty > a {
		closeQty = a
	}
	diff := int64(price) - int64(p.AvgEntryPrice)
	realized, overflow := schema.MulNotional(schema.Price(diff), schema.Quantity(closeQty))
	if overflow {
		realized = 0
	}
	if pos < 0 {
		realized = -realized
	}

	total := pos + signed
	p.Qty = schema.Quantity(total)
	switch {
	case total == 0:
		p.AvgEntryPrice = 0
	case !sameSign(pos, total):
		// flipped through zero: residual opens at the fill price
		p.AvgEntryPrice = price
	}
	return realized
}

// MarkPrice updates the mark used for unrealized PnL and equity.
func (e *Engine) MarkPrice(symbolID schema.SymbolID, price schema.Price) {
	if price <= 0 {
		return
	}
	e.mu.Lock()
	if p, ok := e.positions[symbolID]; ok {
		p.LastPrice = price
	}
	e.mu.Unlock()
}

// Position returns a copy of the symbol's position.
func (e *Engine) Position(symbolID schema.SymbolID) Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.positions[symbolID]; ok {
		return *p
	}
	return Position{SymbolID: symbolID}
}

// Cash returns the current cash balance.
func (e *Engine) Cash() schema.Notional {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash
}

// RealizedPnl returns total realized PnL across all symbols.
func (e *Engine) RealizedPnl() schema.Notional {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.realized
}

// FillCount returns the number of fills applied.
func (e *Engine) FillCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fills
}

// Equity marks every open position against its last price and adds cash.
func (e *Engine) Equity(now int64) EquitySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	equity := int64(e.cash)
	for _, p := range e.positions {
		if p.Qty == 0 || p.LastPrice == 0 {
			continue
		}
		v, overflow := schema.MulNotional(p.LastPrice, p.Qty)
		if overflow {
			continue
		}
		equity += int64(v)
	}
	return EquitySnapshot{
		TsNano:      now,
		Cash:        e.cash,
		Equity:      schema.Notional(equity),
		RealizedPnl: e.realized,
	}
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
