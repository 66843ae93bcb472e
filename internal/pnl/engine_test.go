package pnl

import (
	"testing"

	"main/internal/schema"
)

func fill(side schema.OrderSide, price schema.Price, qty schema.Quantity, fee schema.Fee) schema.Fill {
	return schema.Fill{
		OrderID:   1,
		SymbolID:  1,
		Side:      side,
		Price:     price,
		Qty:       qty,
		Fee:       fee,
		Liquidity: schema.LiquidityMaker,
	}
}

func TestWeightedAverageEntry(t *testing.T) {
	e := NewEngine(0)

	e.ApplyFill(fill(schema.OrderSideBuy, 100, 10, 0), 0)
	res := e.ApplyFill(fill(schema.OrderSideBuy, 110, 10, 0), 0)

	if res.RealizedPnl != 0 {
		t.Fatalf("realized mismatch: got %d want 0", res.RealizedPnl)
	}
	if got := res.Position; got.Qty != 20 || got.AvgEntryPrice != 105 {
		t.Fatalf("position mismatch: %+v", got)
	}
}

func TestPartialCloseRealizesAgainstAverage(t *testing.T) {
	e := NewEngine(0)
	e.ApplyFill(fill(schema.OrderSideBuy, 100, 10, 0), 0)

	res := e.ApplyFill(fill(schema.OrderSideSell, 120, 4, 0), 0)
	if got, want := res.RealizedPnl, schema.Notional((120-100)*4); got != want {
		t.Fatalf("realized mismatch: got %d want %d", got, want)
	}
	if got := res.Position; got.Qty != 6 || got.AvgEntryPrice != 100 {
		t.Fatalf("position mismatch: %+v", got)
	}
}

func TestFullCloseResetsAverage(t *testing.T) {
	e := NewEngine(0)
	e.ApplyFill(fill(schema.OrderSideBuy, 100, 10, 0), 0)

	res := e.ApplyFill(fill(schema.OrderSideSell, 90, 10, 0), 0)
	if got, want := res.RealizedPnl, schema.Notional(-100); got != want {
		t.Fatalf("realized mismatch: got %d want %d", got, want)
	}
	if got := res.Position; got.Qty != 0 || got.AvgEntryPrice != 0 {
		t.Fatalf("position mismatch: %+v", got)
	}
}

func TestFlipThroughZeroOpensAtFillPrice(t *testing.T) {
	e := NewEngine(0)
	e.ApplyFill(fill(schema.OrderSideBuy, 100, 10, 0), 0)

	// sell 15: close 10 long at 110, open 5 short at 110
	res := e.ApplyFill(fill(schema.OrderSideSell, 110, 15, 0), 0)
	if got, want := res.RealizedPnl, schema.Notional((110-100)*10); got != want {
		t.Fatalf("realized mismatch: got %d want %d", got, want)
	}
	if got := res.Position; got.Qty != -5 || got.AvgEntryPrice != 110 {
		t.Fatalf("position mismatch: %+v", got)
	}
}

func TestShortRealizedSign(t *testing.T) {
	e := NewEngine(0)
	e.ApplyFill(fill(schema.OrderSideSell, 100, 10, 0), 0)

	// buy back lower: profit for a short
	res := e.ApplyFill(fill(schema.OrderSideBuy, 95, 10, 0), 0)
	if got, want := res.RealizedPnl, schema.Notional((100-95)*10); got != want {
		t.Fatalf("realized mismatch: got %d want %d", got, want)
	}
}

func TestCashFlowsWithFeesAndFunding(t *testing.T) {
	e := NewEngine(1_000_000)

	e.ApplyFill(fill(schema.OrderSideBuy, 100, 10, 3), 0)
	if got, want := e.Cash(), schema.Notional(1_000_000-1_000-3); got != want {
		t.Fatalf("cash mismatch: got %d want %d", got, want)
	}

	e.ApplyFill(fill(schema.OrderSideSell, 100, 10, 3), 7)
	if got, want := e.Cash(), schema.Notional(1_000_000-3-3+7); got != want {
		t.Fatalf("cash mismatch: got %d want %d", got, want)
	}
}

func TestEquityMarksOpenPositions(t *testing.T) {
	e := NewEngine(1_000_000)
	e.ApplyFill(fill(schema.OrderSideBuy, 100, 10, 0), 0)

	// cash dropped by 1000, position worth 1000 at entry
	snap := e.Equity(1)
	if got, want := snap.Equity, schema.Notional(1_000_000); got != want {
		t.Fatalf("equity mismatch: got %d want %d", got, want)
	}

	e.MarkPrice(1, 120)
	snap = e.Equity(2)
	if got, want := snap.Equity, schema.Notional(1_000_000+200); got != want {
		t.Fatalf("equity mismatch: got %d want %d", got, want)
	}
	if snap.Cash != 1_000_000-1_000 {
		t.Fatalf("cash mismatch: got %d", snap.Cash)
	}
}

func TestUnrealizedPnl(t *testing.T) {
	e := NewEngine(0)
	e.ApplyFill(fill(schema.OrderSideBuy, 100, 10, 0), 0)
	e.MarkPrice(1, 107)

	if got, want := e.Position(1).UnrealizedPnl(), schema.Notional(70); got != want {
		t.Fatalf("unrealized mismatch: got %d want %d", got, want)
	}

	// short side
	e2 := NewEngine(0)
	e2.ApplyFill(fill(schema.OrderSideSell, 100, 10, 0), 0)
	e2.MarkPrice(1, 107)
	if got, want := e2.Position(1).UnrealizedPnl(), schema.Notional(-70); got != want {
		t.Fatalf("unrealized mismatch: got %d want %d", got, want)
	}
}

func TestRoundTripConservesValue(t *testing.T) {
	e := NewEngine(1_000_000)

	e.ApplyFill(fill(schema.OrderSideBuy, 100, 10, 1), 0)
	e.ApplyFill(fill(schema.OrderSideSell, 105, 10, 1), 0)

	// equity = initial + realized - fees
	snap := e.Equity(1)
	if got, want := snap.Equity, schema.Notional(1_000_000+50-2); got != want {
		t.Fatalf("equity mismatch: got %d want %d", got, want)
	}
	if got, want := e.RealizedPnl(), schema.Notional(50); got != want {
		t.Fatalf("realized mismatch: got %d want %d", got, want)
	}
	if e.FillCount() != 2 {
		t.Fatalf("fill count mismatch: got %d want 2", e.FillCount())
	}
}

func TestPerSymbolIsolation(t *testing.T) {
	e := NewEngine(0)
	a := schema.Fill{SymbolID: 1, Side: schema.OrderSideBuy, Price: 100, Qty: 5}
	b := schema.Fill{SymbolID: 2, Side: schema.OrderSideSell, Price: 200, Qty: 3}
	e.ApplyFill(a, 0)
	e.ApplyFill(b, 0)

	if got := e.Position(1); got.Qty != 5 || got.AvgEntryPrice != 100 {
		t.Fatalf("symbol 1 mismatch: %+v", got)
	}
	if got := e.Position(2); got.Qty != -3 || got.AvgEntryPrice != 200 {
		t.Fatalf("symbol 2 mismatch: %+v", got)
	}
	if got := e.Position(3); got.Qty != 0 {
		t.Fatalf("unknown symbol mismatch: %+v", got)
	}
}
