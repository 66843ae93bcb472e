package risk

import (
	"strings"
	"testing"
	"time"
)

func TestStoplossGuard(t *testing.T) {
	g := &StoplossGuard{
		Window:       time.Hour,
		MaxCount:     3,
		StopDuration: time.Hour,
	}
	now := int64(10_000) * second

	trades := []TradeRecord{
		{TsNano: now - 10*second, StoplossHit: true},
		{TsNano: now - 8*second, StoplossHit: true},
		{TsNano: now - 5*second, Pnl: 3}, // winner, not counted
	}
	if res := g.Evaluate(now, 0, trades, nil); !res.Allowed {
		t.Fatalf("locked below max count: %q", res.Reason)
	}

	trades = append(trades, TradeRecord{TsNano: now - second, StoplossHit: true})
	res := g.Evaluate(now, 0, trades, nil)
	if res.Allowed {
		t.Fatal("not locked at max count")
	}
	if !strings.Contains(res.Reason, "StoplossGuard") {
		t.Fatalf("reason mismatch: %q", res.Reason)
	}

	// locked even with an empty history while the lock holds
	if res := g.Evaluate(now+second, 0, nil, nil); res.Allowed {
		t.Fatal("lock not sticky")
	}
	if res := g.Evaluate(now+2*int64(time.Hour), 0, nil, nil); !res.Allowed {
		t.Fatal("lock did not expire")
	}
}

func TestStoplossGuardCheckIsReadOnly(t *testing.T) {
	g := &StoplossGuard{
		Window:       time.Hour,
		MaxCount:     1,
		StopDuration: time.Hour,
	}
	now := int64(10_000) * second
	trades := []TradeRecord{{TsNano: now - second, StoplossHit: true}}

	if res := g.Check(now, 0, trades, nil); res.Allowed {
		t.Fatal("check missed the violation")
	}
	if g.lockedUntil != 0 {
		t.Fatalf("check armed the lock until %d", g.lockedUntil)
	}

	// same verdict on the arming path, now sticky
	if res := g.Evaluate(now, 0, trades, nil); res.Allowed {
		t.Fatal("evaluate missed the violation")
	}
	if g.lockedUntil == 0 {
		t.Fatal("evaluate did not arm the lock")
	}
}

func TestStoplossGuardIgnoresOldHits(t *testing.T) {
	g := &StoplossGuard{
		Window:       time.Minute,
		MaxCount:     2,
		StopDuration: time.Hour,
	}
	now := int64(10_000) * second

	trades := []TradeRecord{
		{TsNano: now - 2*int64(time.Minute), StoplossHit: true},
		{TsNano: now - second, StoplossHit: true},
	}
	if res := g.Evaluate(now, 0, trades, nil); !res.Allowed {
		t.Fatalf("counted hit outside window: %q", res.Reason)
	}
}

func TestMaxDrawdownGuard(t *testing.T) {
	g := &MaxDrawdownGuard{
		Lookback:     time.Hour,
		MaxDDBps:     1000,
		StopDuration: time.Hour,
	}
	now := int64(10_000) * second

	equity := []EquityPoint{
		{TsNano: now - 30*second, Equity: 100},
		{TsNano: now - 20*second, Equity: 88},
		{TsNano: now - 10*second, Equity: 95},
	}
	res := g.Evaluate(now, 0, nil, equity)
	if res.Allowed {
		t.Fatal("12% in-window drawdown not caught")
	}
	if !strings.Contains(res.Reason, "MaxDrawdown") {
		t.Fatalf("reason mismatch: %q", res.Reason)
	}

	g.Unlock()
	shallow := []EquityPoint{
		{TsNano: now - 30*second, Equity: 100},
		{TsNano: now - 10*second, Equity: 95},
	}
	if res := g.Evaluate(now, 0, nil, shallow); !res.Allowed {
		t.Fatalf("5%% drawdown locked: %q", res.Reason)
	}
}

func TestMaxDrawdownGuardNeedsTwoPoints(t *testing.T) {
	g := &MaxDrawdownGuard{Lookback: time.Hour, MaxDDBps: 1, StopDuration: time.Hour}
	now := int64(10_000) * second
	equity := []EquityPoint{{TsNano: now - second, Equity: 1}}
	if res := g.Evaluate(now, 0, nil, equity); !res.Allowed {
		t.Fatalf("single point treated as drawdown: %q", res.Reason)
	}
}

func TestLowProfitPairsGuard(t *testing.T) {
	g := &LowProfitPairsGuard{
		MinTrades:    3,
		MinAvgPnl:    0,
		StopDuration: time.Hour,
	}
	now := int64(10_000) * second

	losers := []TradeRecord{
		{TsNano: now - 3*second, SymbolID: 1, Pnl: -10},
		{TsNano: now - 2*second, SymbolID: 1, Pnl: -5},
		{TsNano: now - second, SymbolID: 1, Pnl: 2},
	}

	// other symbols are unaffected
	if res := g.Evaluate(now, 2, losers, nil); !res.Allowed {
		t.Fatalf("unrelated symbol locked: %q", res.Reason)
	}

	res := g.Evaluate(now, 1, losers, nil)
	if res.Allowed {
		t.Fatal("losing symbol not locked")
	}
	if !strings.Contains(res.Reason, "LowProfitPairs") {
		t.Fatalf("reason mismatch: %q", res.Reason)
	}

	// sticky per-symbol lock
	if res := g.Evaluate(now+second, 1, nil, nil); res.Allowed {
		t.Fatal("per-symbol lock not sticky")
	}
	if res := g.Evaluate(now+second, 2, nil, nil); !res.Allowed {
		t.Fatal("lock leaked to another symbol")
	}

	g.Unlock()
	if res := g.Evaluate(now+2*second, 1, nil, nil); !res.Allowed {
		t.Fatal("unlock did not clear per-symbol locks")
	}
}
