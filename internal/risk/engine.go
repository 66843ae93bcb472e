package risk

import (
	"fmt"
	"time"

	"main/internal/schema"
)

// Config defines the drawdown/cooldown protection limits. Percent-like
// thresholds are basis points.
type Config struct {
	Enabled         bool
	MaxDrawdownBps  schema.Bps
	Window          time.Duration
	StopDuration    time.Duration
	Cooldown        time.Duration
	MinTradesForDD  int
	MaxBaseRatioBps schema.Bps
	MaxLossNotional schema.Notional
	MaxLossBps      schema.Bps
}

// DefaultConfig mirrors the conventional protection defaults: 10% max
// drawdown over a 24h window, 12h stop, 30m cooldown.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MaxDrawdownBps: 1000,
		Window:         24 * time.Hour,
		StopDuration:   12 * time.Hour,
		Cooldown:       30 * time.Minute,
	}
}

// Decision is the outcome of a gate check. Denials are first-class values,
// not errors; the caller decides what to do with them.
type Decision struct {
	Allowed bool
	Reason  string
}

var allow = Decision{Allowed: true}

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// EquityPoint is one sample of the windowed equity series.
type EquityPoint struct {
	TsNano int64
	Equity schema.Notional
}

// TradeRecord describes a closed trade fed back into the engine.
type TradeRecord struct {
	TsNano      int64
	SymbolID    schema.SymbolID
	Pnl         schema.Notional
	StoplossHit bool
}

// Status is a point-in-time view of the engine for the report surface.
type Status struct {
	Enabled           bool
	Allowed           bool
	Reason            string
	NowNano           int64
	DrawdownBps       schema.Bps
	MaxWindowDDBps    schema.Bps
	WindowPoints      int
	Window            time.Duration
	ThresholdBps      schema.Bps
	StopUntilNano     int64
	CooldownUntilNano int64
	ClosedTrades      int
}

// Engine is the single-instance drawdown/cooldown/guard state machine.
// Every call takes an explicit now (unix nanos) and performs no I/O.
// Not safe for concurrent use; callers serialize access.
type Engine struct {
	cfg    Config
	guards []Guard

	points []EquityPoint
	trades []TradeRecord

	stopUntil     int64
	cooldownUntil int64
	closedTrades  int

	posQty     schema.Quantity
	posPrice   schema.Price
	entryPrice schema.Price
	posValue   schema.Notional
	unrealLoss schema.Notional

	curEquity      schema.Notional
	ddCurrentBps   schema.Bps
	ddMaxWindowBps schema.Bps
}

// NewEngine creates an engine with the given limits and optional guards.
func NewEngine(cfg Config, guards ...Guard) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	return &Engine{cfg: cfg, guards: guards}
}

// OnEquity appends an equity sample, evicts points older than the window
// and arms the drawdown lock when either drawdown measure crosses the
// threshold.
func (e *Engine) OnEquity(equity schema.Notional, now int64) {
	if !e.cfg.Enabled {
		return
	}
	e.points = append(e.points, EquityPoint{TsNano: now, Equity: equity})
	e.trim(now)
	e.recalcDrawdown()
	e.curEquity = equity

	if !e.canTriggerLock() {
		return
	}
	if e.ddMaxWindowBps >= e.cfg.MaxDrawdownBps || e.ddCurrentBps >= e.cfg.MaxDrawdownBps {
		e.stopUntil = now + int64(e.cfg.StopDuration)
	}
}

// OnTradeClosed counts the trade, refreshes the cooldown deadline and
// feeds the guard set.
func (e *Engine) OnTradeClosed(rec TradeRecord) {
	if !e.cfg.Enabled {
		return
	}
	e.closedTrades++
	e.trades = append(e.trades, rec)
	e.trimTrades(rec.TsNano)
	if e.cfg.Cooldown > 0 {
		e.cooldownUntil = rec.TsNano + int64(e.cfg.Cooldown)
	}
	for _, g := range e.guards {
		g.OnTradeClosed(rec)
	}
}

// OnPosition records the current position and mark for the exposure and
// loss limits.
func (e *Engine) OnPosition(qty schema.Quantity, markPrice, entryPrice schema.Price) {
	if !e.cfg.Enabled {
		return
	}
	e.posQty = qty
	e.posPrice = markPrice
	if entryPrice > 0 {
		e.entryPrice = entryPrice
	}
	e.posValue, _ = schema.MulNotional(markPrice, absQty(qty))

	if e.entryPrice > 0 && qty != 0 {
		cost, _ := schema.MulNotional(e.entryPrice, absQty(qty))
		if cost > e.posValue {
			e.unrealLoss = cost - e.posValue
		} else {
			e.unrealLoss = 0
		}
	} else {
		e.unrealLoss = 0
	}
}

// CanEnter reports whether a new entry is allowed right now. Checks run
// in a fixed order and the first violated limit wins. Guard locks arm
// only on this path; Status never mutates guard state.
func (e *Engine) CanEnter(symbolID schema.SymbolID, now int64) Decision {
	return e.gate(symbolID, now, true)
}

func (e *Engine) gate(symbolID schema.SymbolID, now int64, arm bool) Decision {
	if !e.cfg.Enabled {
		return allow
	}

	if e.stopUntil != 0 && now < e.stopUntil {
		return deny("MaxDrawdown lock (%ds left)", secondsLeft(e.stopUntil, now))
	}

	if e.cooldownUntil != 0 && now < e.cooldownUntil {
		return deny("Cooldown active (%ds left)", secondsLeft(e.cooldownUntil, now))
	}

	if d := e.evalGuards(symbolID, now, arm); !d.Allowed {
		return d
	}

	// no observations yet, nothing to block on
	if len(e.points) == 0 {
		return allow
	}

	if e.cfg.MaxBaseRatioBps > 0 && e.curEquity > 0 && e.posValue > 0 {
		ratio := schema.RatioBps(int64(e.posValue), int64(e.curEquity))
		if ratio >= e.cfg.MaxBaseRatioBps {
			return deny("Base ratio %s >= %s", formatBps(ratio), formatBps(e.cfg.MaxBaseRatioBps))
		}
	}

	if e.cfg.MaxLossNotional > 0 && e.unrealLoss >= e.cfg.MaxLossNotional {
		return deny("Loss %d >= %d", e.unrealLoss, e.cfg.MaxLossNotional)
	}

	if e.cfg.MaxLossBps > 0 && e.entryPrice > 0 && e.posQty != 0 {
		cost, _ := schema.MulNotional(e.entryPrice, absQty(e.posQty))
		if cost > 0 {
			lossBps := schema.RatioBps(int64(e.unrealLoss), int64(cost))
			if lossBps >= e.cfg.MaxLossBps {
				return deny("Loss %s >= %s", formatBps(lossBps), formatBps(e.cfg.MaxLossBps))
			}
		}
	}

	if e.canTriggerLock() && e.ddCurrentBps >= e.cfg.MaxDrawdownBps {
		return deny("MaxDrawdown %s >= %s", formatBps(e.ddCurrentBps), formatBps(e.cfg.MaxDrawdownBps))
	}

	return allow
}

// Unlock clears the drawdown lock, the cooldown and all guard locks.
// Manual override; takes effect immediately.
func (e *Engine) Unlock() {
	e.stopUntil = 0
	e.cooldownUntil = 0
	for _, g := range e.guards {
		g.Unlock()
	}
}

// Status evaluates the gate read-only and returns a snapshot for
// reporting. It never arms a guard lock.
func (e *Engine) Status(now int64) Status {
	d := e.gate(0, now, false)
	return Status{
		Enabled:           e.cfg.Enabled,
		Allowed:           d.Allowed,
		Reason:            d.Reason,
		NowNano:           now,
		DrawdownBps:       e.ddCurrentBps,
		MaxWindowDDBps:    e.ddMaxWindowBps,
		WindowPoints:      len(e.points),
		Window:            e.cfg.Window,
		ThresholdBps:      e.cfg.MaxDrawdownBps,
		StopUntilNano:     e.stopUntil,
		CooldownUntilNano: e.cooldownUntil,
		ClosedTrades:      e.closedTrades,
	}
}

func (e *Engine) evalGuards(symbolID schema.SymbolID, now int64, arm bool) Decision {
	worst := allow
	worstUntil := int64(0)
	for _, g := range e.guards {
		var res GuardResult
		if arm {
			res = g.Evaluate(now, symbolID, e.trades, e.points)
		} else {
			res = g.Check(now, symbolID, e.trades, e.points)
		}
		if res.Allowed {
			continue
		}
		if worst.Allowed || res.UntilNano > worstUntil {
			worst = Decision{Reason: res.Reason}
			worstUntil = res.UntilNano
		}
	}
	return worst
}

func (e *Engine) trim(now int64) {
	cutoff := now - int64(e.cfg.Window)
	i := 0
	for i < len(e.points) && e.points[i].TsNano < cutoff {
		i++
	}
	if i > 0 {
		e.points = append(e.points[:0], e.points[i:]...)
	}
}

func (e *Engine) trimTrades(now int64) {
	cutoff := now - int64(e.cfg.Window)
	i := 0
	for i < len(e.trades) && e.trades[i].TsNano < cutoff {
		i++
	}
	if i > 0 {
		e.trades = append(e.trades[:0], e.trades[i:]...)
	}
}

func (e *Engine) recalcDrawdown() {
	if len(e.points) == 0 {
		e.ddCurrentBps = 0
		e.ddMaxWindowBps = 0
		return
	}

	// current drawdown: drop from the window peak to the latest point
	peak := e.points[0].Equity
	for _, p := range e.points[1:] {
		if p.Equity > peak {
			peak = p.Equity
		}
	}
	current := e.points[len(e.points)-1].Equity
	e.ddCurrentBps = drawdownBps(peak, current)

	// worst peak-to-trough drop anywhere inside the window
	best := schema.Notional(0)
	maxDD := schema.Bps(0)
	for _, p := range e.points {
		if p.Equity > best {
			best = p.Equity
		}
		if dd := drawdownBps(best, p.Equity); dd > maxDD {
			maxDD = dd
		}
	}
	e.ddMaxWindowBps = maxDD
}

func (e *Engine) canTriggerLock() bool {
	if !e.cfg.Enabled {
		return false
	}
	if e.cfg.MaxDrawdownBps <= 0 {
		return false
	}
	if e.cfg.MinTradesForDD > 0 && e.closedTrades < e.cfg.MinTradesForDD {
		return false
	}
	return true
}

func drawdownBps(peak, value schema.Notional) schema.Bps {
	if peak <= 0 || value >= peak {
		return 0
	}
	return schema.RatioBps(int64(peak-value), int64(peak))
}

func secondsLeft(deadline, now int64) int64 {
	left := (deadline - now) / int64(time.Second)
	if left < 0 {
		return 0
	}
	return left
}

func formatBps(b schema.Bps) string {
	whole := int64(b) / 100
	frac := int64(b) % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d%%", whole, frac)
}

func absQty(q schema.Quantity) schema.Quantity {
	if q < 0 {
		return -q
	}
	return q
}
