package risk

import (
	"fmt"
	"time"

	"main/internal/schema"
)

// GuardResult is one guard's verdict.
type GuardResult struct {
	Allowed   bool
	Reason    string
	UntilNano int64
}

var guardAllow = GuardResult{Allowed: true}

// Guard is an independent stateful protection rule. The engine's decision
// is the AND of all guard decisions; the most restrictive reason wins.
// Check is read-only; Evaluate additionally arms the guard's lock when it
// finds a fresh violation. Reporting paths must use Check.
type Guard interface {
	Name() string
	Check(now int64, symbolID schema.SymbolID, trades []TradeRecord, equity []EquityPoint) GuardResult
	Evaluate(now int64, symbolID schema.SymbolID, trades []TradeRecord, equity []EquityPoint) GuardResult
	OnTradeClosed(rec TradeRecord)
	Unlock()
}

// StoplossGuard locks entries after too many stop-loss hits in a window.
type StoplossGuard struct {
	Window       time.Duration
	MaxCount     int
	StopDuration time.Duration

	lockedUntil int64
}

func (g *StoplossGuard) Name() string { return "StoplossGuard" }

func (g *StoplossGuard) Check(now int64, _ schema.SymbolID, trades []TradeRecord, _ []EquityPoint) GuardResult {
	if now < g.lockedUntil {
		return GuardResult{Reason: "StoplossGuard: cooldown", UntilNano: g.lockedUntil}
	}
	since := now - int64(g.Window)
	count := 0
	for _, rec := range trades {
		if rec.TsNano >= since && rec.StoplossHit {
			count++
		}
	}
	if g.MaxCount > 0 && count >= g.MaxCount {
		return GuardResult{
			Reason:    fmt.Sprintf("StoplossGuard: %d SL in %s", count, g.Window),
			UntilNano: now + int64(g.StopDuration),
		}
	}
	return guardAllow
}

func (g *StoplossGuard) Evaluate(now int64, symbolID schema.SymbolID, trades []TradeRecord, equity []EquityPoint) GuardResult {
	res := g.Check(now, symbolID, trades, equity)
	if !res.Allowed && res.UntilNano > g.lockedUntil {
		g.lockedUntil = res.UntilNano
	}
	return res
}

func (g *StoplossGuard) OnTradeClosed(TradeRecord) {}

func (g *StoplossGuard) Unlock() { g.lockedUntil = 0 }

// MaxDrawdownGuard locks entries when the equity curve drops too far
// inside its own lookback window.
type MaxDrawdownGuard struct {
	Lookback     time.Duration
	MaxDDBps     schema.Bps
	StopDuration time.Duration

	lockedUntil int64
}

func (g *MaxDrawdownGuard) Name() string { return "MaxDrawdownGuard" }

func (g *MaxDrawdownGuard) Check(now int64, _ schema.SymbolID, _ []TradeRecord, equity []EquityPoint) GuardResult {
	if now < g.lockedUntil {
		return GuardResult{Reason: "MaxDrawdown: cooldown", UntilNano: g.lockedUntil}
	}
	since := now - int64(g.Lookback)
	var window []EquityPoint
	for i, p := range equity {
		if p.TsNano >= since {
			window = equity[i:]
			break
		}
	}
	if len(window) < 2 {
		return guardAllow
	}
	peak := window[0].Equity
	maxDD := schema.Bps(0)
	for _, p := range window {
		if p.Equity > peak {
			peak = p.Equity
		}
		if dd := drawdownBps(peak, p.Equity); dd > maxDD {
			maxDD = dd
		}
	}
	if g.MaxDDBps > 0 && maxDD >= g.MaxDDBps {
		return GuardResult{
			Reason:    fmt.Sprintf("MaxDrawdown: %s", formatBps(maxDD)),
			UntilNano: now + int64(g.StopDuration),
		}
	}
	return guardAllow
}

func (g *MaxDrawdownGuard) Evaluate(now int64, symbolID schema.SymbolID, trades []TradeRecord, equity []EquityPoint) GuardResult {
	res := g.Check(now, symbolID, trades, equity)
	if !res.Allowed && res.UntilNano > g.lockedUntil {
		g.lockedUntil = res.UntilNano
	}
	return res
}

func (g *MaxDrawdownGuard) OnTradeClosed(TradeRecord) {}

func (g *MaxDrawdownGuard) Unlock() { g.lockedUntil = 0 }

// CooldownGuard blocks entries for a fixed duration after every closed
// trade.
type CooldownGuard struct {
	StopDuration time.Duration

	lockedUntil int64
}

func (g *CooldownGuard) Name() string { return "CooldownGuard" }

func (g *CooldownGuard) Check(now int64, _ schema.SymbolID, _ []TradeRecord, _ []EquityPoint) GuardResult {
	if now < g.lockedUntil {
		return GuardResult{Reason: "Cooldown", UntilNano: g.lockedUntil}
	}
	return guardAllow
}

// Evaluate never arms anything here; the lock comes from OnTradeClosed.
func (g *CooldownGuard) Evaluate(now int64, symbolID schema.SymbolID, trades []TradeRecord, equity []EquityPoint) GuardResult {
	return g.Check(now, symbolID, trades, equity)
}

func (g *CooldownGuard) OnTradeClosed(rec TradeRecord) {
	g.lockedUntil = rec.TsNano + int64(g.StopDuration)
}

func (g *CooldownGuard) Unlock() { g.lockedUntil = 0 }

// LowProfitPairsGuard locks a single symbol whose average closed-trade
// PnL falls below a floor.
type LowProfitPairsGuard struct {
	MinTrades    int
	MinAvgPnl    schema.Notional
	StopDuration time.Duration

	lockedUntil map[schema.SymbolID]int64
}

func (g *LowProfitPairsGuard) Name() string { return "LowProfitPairsGuard" }

func (g *LowProfitPairsGuard) Check(now int64, symbolID schema.SymbolID, trades []TradeRecord, _ []EquityPoint) GuardResult {
	if symbolID == 0 {
		return guardAllow
	}
	if until := g.lockedUntil[symbolID]; now < until {
		return GuardResult{
			Reason:    fmt.Sprintf("LowProfitPairs[%d]: cooldown", symbolID),
			UntilNano: until,
		}
	}
	var (
		count int
		sum   schema.Notional
	)
	for _, rec := range trades {
		if rec.SymbolID == symbolID {
			count++
			sum += rec.Pnl
		}
	}
	if g.MinTrades <= 0 || count < g.MinTrades {
		return guardAllow
	}
	avg := sum / schema.Notional(count)
	if avg < g.MinAvgPnl {
		return GuardResult{
			Reason:    fmt.Sprintf("LowProfitPairs[%d]: avg=%d", symbolID, avg),
			UntilNano: now + int64(g.StopDuration),
		}
	}
	return guardAllow
}

func (g *LowProfitPairsGuard) Evaluate(now int64, symbolID schema.SymbolID, trades []TradeRecord, equity []EquityPoint) GuardResult {
	res := g.Check(now, symbolID, trades, equity)
	if !res.Allowed && res.UntilNano > g.lockedUntil[symbolID] {
		if g.lockedUntil == nil {
			g.lockedUntil = make(map[schema.SymbolID]int64)
		}
		g.lockedUntil[symbolID] = res.UntilNano
	}
	return res
}

func (g *LowProfitPairsGuard) OnTradeClosed(TradeRecord) {}

func (g *LowProfitPairsGuard) Unlock() {
	for key := range g.lockedUntil {
		delete(g.lockedUntil, key)
	}
}
