package mm

import (
	"testing"
	"time"

	"main/internal/pnl"
	"main/internal/quote"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/shadow"
)

const second = int64(time.Second)

type harness struct {
	book   *quote.Book
	rsk    *risk.Engine
	exec   *shadow.Engine
	pnl    *pnl.Engine
	quoter *Quoter
	events []schema.Event
}

func newHarness(t *testing.T, cfg Config, riskCfg risk.Config, cash schema.Notional) *harness {
	t.Helper()
	h := &harness{
		book: quote.NewBook(),
		rsk:  risk.NewEngine(riskCfg),
		pnl:  pnl.NewEngine(cash),
	}
	sc := shadow.DefaultConfig()
	sc.Latency = 0
	sc.MarketLatency = 0
	sc.SlippageBps = 0
	h.exec = shadow.NewEngine(sc)
	h.quoter = NewQuoter(cfg, h.book, h.rsk, h.exec, h.pnl, func(e schema.Event) {
		h.events = append(h.events, e)
	})
	return h
}

func (h *harness) push(t *testing.T, bid, ask schema.Price, ts int64) {
	t.Helper()
	if !h.book.Update(schema.Quote{SymbolID: 1, BidPrice: bid, BidSize: 1_000_000, AskPrice: ask, AskSize: 1_000_000, TsNano: ts}) {
		t.Fatalf("quote rejected: bid=%d ask=%d", bid, ask)
	}
}

func (h *harness) kinds(kind schema.EventKind) []schema.Event {
	var out []schema.Event
	for _, e := range h.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func baseConfig() Config {
	cfg := DefaultConfig()
	cfg.SymbolID = 1
	cfg.Symbol = "BTCUSDT"
	cfg.QuoteSize = 1_000_000 // notional per side
	cfg.ReorderInterval = time.Second
	cfg.CancelTimeout = 10 * time.Second
	cfg.MinSpreadBps = 10
	return cfg
}

func disabledRisk() risk.Config {
	cfg := risk.DefaultConfig()
	cfg.Enabled = false
	return cfg
}

func TestIdleWithoutBook(t *testing.T) {
	h := newHarness(t, baseConfig(), disabledRisk(), 10_000_000)

	h.quoter.Tick(second)
	if len(h.events) != 0 {
		t.Fatalf("events before first book: %+v", h.events)
	}
	if h.quoter.Stats().Quoting {
		t.Fatal("quoting without book")
	}
}

func TestSeedsTwoSidedQuotes(t *testing.T) {
	h := newHarness(t, baseConfig(), disabledRisk(), 10_000_000)
	// seed inventory so the sell side has base to quote
	h.pnl.ApplyFill(schema.Fill{SymbolID: 1, Side: schema.OrderSideBuy, Price: 1_000, Qty: 5_000}, 0)

	h.push(t, 990, 1_010, second)
	h.quoter.Tick(second)

	open := h.exec.OpenOrders(1)
	if len(open) != 2 {
		t.Fatalf("open orders mismatch: got %d want 2: %+v", len(open), open)
	}
	var bid, ask shadow.Order
	for _, o := range open {
		if o.Side == schema.OrderSideBuy {
			bid = o
		} else {
			ask = o
		}
	}
	// mid 1000, offset (ask-bid)/2 = 10
	if bid.Price >= 1_000 || ask.Price <= 1_000 {
		t.Fatalf("quotes not around mid: bid=%d ask=%d", bid.Price, ask.Price)
	}
	if bid.Price != 990 || ask.Price != 1_010 {
		t.Fatalf("quote prices mismatch: bid=%d ask=%d", bid.Price, ask.Price)
	}
	if got := len(h.kinds(schema.EventOrder)); got != 2 {
		t.Fatalf("order events mismatch: got %d want 2", got)
	}
}

func TestSamePriceNoChurn(t *testing.T) {
	h := newHarness(t, baseConfig(), disabledRisk(), 10_000_000)
	h.pnl.ApplyFill(schema.Fill{SymbolID: 1, Side: schema.OrderSideBuy, Price: 1_000, Qty: 5_000}, 0)
	h.push(t, 990, 1_010, second)

	h.quoter.Tick(second)
	placed := h.quoter.Stats().OrdersTotal

	// same book after the reorder interval: working orders stay put
	h.quoter.Tick(second + 2*second)
	if got := h.quoter.Stats().OrdersTotal; got != placed {
		t.Fatalf("orders churned: got %d want %d", got, placed)
	}
}

func TestReseedBeforeIntervalSkipped(t *testing.T) {
	h := newHarness(t, baseConfig(), disabledRisk(), 10_000_000)
	h.push(t, 990, 1_010, second)

	h.quoter.Tick(second)
	placed := h.quoter.Stats().OrdersTotal

	// book moved but the interval has not elapsed
	h.push(t, 994, 1_014, second+second/2)
	h.quoter.Tick(second + second/2)
	if got := h.quoter.Stats().OrdersTotal; got != placed {
		t.Fatalf("reseeded inside interval: got %d want %d", got, placed)
	}
}

func TestStaleOrderTimeoutCancel(t *testing.T) {
	cfg := baseConfig()
	cfg.CancelTimeout = 5 * time.Second
	// long reorder interval so the timeout fires before any reseed
	cfg.ReorderInterval = time.Hour
	h := newHarness(t, cfg, disabledRisk(), 10_000_000)
	h.push(t, 990, 1_010, second)

	h.quoter.Tick(second)
	if len(h.exec.OpenOrders(1)) == 0 {
		t.Fatal("no orders seeded")
	}

	h.quoter.Tick(second + 6*second)
	if got := len(h.exec.OpenOrders(1)); got != 0 {
		t.Fatalf("stale orders alive: %d", got)
	}
	var timedOut int
	for _, e := range h.kinds(schema.EventOrder) {
		if e.Order.Status == schema.OrderStatusCanceled && e.Order.Reason == "timeout" {
			timedOut++
		}
	}
	if timedOut == 0 {
		t.Fatal("no timeout cancel events")
	}
}

func TestRiskGateBlocksBothSides(t *testing.T) {
	riskCfg := risk.DefaultConfig()
	riskCfg.MinTradesForDD = 0
	h := newHarness(t, baseConfig(), riskCfg, 10_000_000)
	h.pnl.ApplyFill(schema.Fill{SymbolID: 1, Side: schema.OrderSideBuy, Price: 1_000, Qty: 5_000}, 0)

	// crash equity into the drawdown lock before quoting
	h.rsk.OnEquity(10_000_000, second)
	h.rsk.OnEquity(5_000_000, 2*second)

	h.push(t, 990, 1_010, 3*second)
	h.quoter.Tick(3 * second)

	if got := len(h.exec.OpenOrders(1)); got != 0 {
		t.Fatalf("orders placed under risk lock: %d", got)
	}
	blocked := h.kinds(schema.EventRiskBlocked)
	if len(blocked) != 2 {
		t.Fatalf("risk_blocked events mismatch: got %d want 2: %+v", len(blocked), blocked)
	}
	sides := map[schema.OrderSide]bool{}
	for _, e := range blocked {
		sides[e.RiskBlocked.Side] = true
		if e.RiskBlocked.Reason == "" {
			t.Fatal("empty risk reason")
		}
	}
	if !sides[schema.OrderSideBuy] || !sides[schema.OrderSideSell] {
		t.Fatalf("sides mismatch: %+v", sides)
	}
}

func TestAggressiveTakeOnWideSpread(t *testing.T) {
	cfg := baseConfig()
	cfg.AggressiveTake = true
	cfg.AggressiveBps = 5_000 // half the quote size
	cfg.MinSpreadBps = 50
	h := newHarness(t, cfg, disabledRisk(), 100_000_000)
	h.pnl.ApplyFill(schema.Fill{SymbolID: 1, Side: schema.OrderSideBuy, Price: 1_000, Qty: 10_000}, 0)

	// spread 20/1000 = 200 bps >= 50
	h.push(t, 990, 1_010, second)
	h.quoter.Tick(second)

	trades := h.kinds(schema.EventTrade)
	if len(trades) != 2 {
		t.Fatalf("taker fills mismatch: got %d want 2: %+v", len(trades), trades)
	}
	for _, e := range trades {
		if e.Trade.Liquidity != schema.LiquidityTaker {
			t.Fatalf("liquidity mismatch: %+v", e.Trade)
		}
	}
	// both takes sized from half the quote notional
	for _, e := range trades {
		var wantQty schema.Quantity
		if e.Trade.Side == schema.OrderSideBuy {
			wantQty = schema.Quantity(500_000 / 1_010)
		} else {
			wantQty = schema.Quantity(500_000 / 990)
		}
		if e.Trade.Qty != wantQty {
			t.Fatalf("take qty mismatch: got %d want %d (%v)", e.Trade.Qty, wantQty, e.Trade.Side)
		}
	}
}

func TestAggressiveSkippedOnTightSpread(t *testing.T) {
	cfg := baseConfig()
	cfg.AggressiveTake = true
	cfg.AggressiveBps = 5_000
	cfg.MinSpreadBps = 500
	h := newHarness(t, cfg, disabledRisk(), 100_000_000)

	// spread 200 bps < 500: passive quoting instead
	h.push(t, 990, 1_010, second)
	h.quoter.Tick(second)

	if got := len(h.kinds(schema.EventTrade)); got != 0 {
		t.Fatalf("unexpected taker fills: %d", got)
	}
	if got := len(h.exec.OpenOrders(1)); got == 0 {
		t.Fatal("no passive quotes placed")
	}
}

func TestInventorySkewWidensHeavySide(t *testing.T) {
	cfg := baseConfig()
	cfg.InventoryTargetBps = 5_000
	cfg.InventoryToleranceBps = 500
	h := newHarness(t, cfg, disabledRisk(), 12_000_000)
	// base value 10M vs 2M cash: ratio ~8333 bps, over target
	h.pnl.ApplyFill(schema.Fill{SymbolID: 1, Side: schema.OrderSideBuy, Price: 1_000, Qty: 10_000}, 0)

	h.push(t, 990, 1_010, second)
	h.quoter.Tick(second)

	open := h.exec.OpenOrders(1)
	if len(open) != 2 {
		t.Fatalf("open orders mismatch: got %d want 2: %+v", len(open), open)
	}
	for _, o := range open {
		switch o.Side {
		case schema.OrderSideBuy:
			// over-target: bid pulled further from mid than the plain offset
			if o.Price >= 990 {
				t.Fatalf("bid not widened: %d", o.Price)
			}
		case schema.OrderSideSell:
			// sell side pulled toward mid to shed inventory
			if o.Price >= 1_010 {
				t.Fatalf("ask not tightened: %d", o.Price)
			}
		}
	}
}

func TestFillFeedsPnlAndRisk(t *testing.T) {
	cfg := baseConfig()
	cfg.ReorderInterval = time.Second
	riskCfg := risk.DefaultConfig()
	riskCfg.Cooldown = time.Hour
	h := newHarness(t, cfg, riskCfg, 100_000_000)
	h.pnl.ApplyFill(schema.Fill{SymbolID: 1, Side: schema.OrderSideBuy, Price: 900, Qty: 10_000}, 0)

	h.push(t, 990, 1_010, second)
	h.quoter.Tick(second)

	open := h.exec.OpenOrders(1)
	var askPrice schema.Price
	for _, o := range open {
		if o.Side == schema.OrderSideSell {
			askPrice = o.Price
		}
	}
	if askPrice == 0 {
		t.Fatal("no resting ask")
	}

	// a buyer lifts our ask
	h.exec.OnTradePrint(2*second, schema.TradePrint{SymbolID: 1, Price: askPrice, Qty: 100_000, TsNano: 2 * second})

	trades := h.kinds(schema.EventTrade)
	if len(trades) == 0 {
		t.Fatal("no trade event after fill")
	}
	last := trades[len(trades)-1].Trade
	if last.RealizedPnl <= 0 {
		t.Fatalf("realized pnl mismatch: %+v", last)
	}
	// reducing sell registers a closed trade: cooldown now active
	if st := h.rsk.Status(3 * second); st.ClosedTrades == 0 {
		t.Fatal("closed trade not recorded")
	}
	if d := h.rsk.CanEnter(1, 3*second); d.Allowed {
		t.Fatal("cooldown not armed after closed trade")
	}
}

func TestSellSideCappedByInventory(t *testing.T) {
	h := newHarness(t, baseConfig(), disabledRisk(), 100_000_000)
	// tiny inventory: sell side must not exceed capital-usage share of it
	h.pnl.ApplyFill(schema.Fill{SymbolID: 1, Side: schema.OrderSideBuy, Price: 1_000, Qty: 100}, 0)

	h.push(t, 990, 1_010, second)
	h.quoter.Tick(second)

	for _, o := range h.exec.OpenOrders(1) {
		if o.Side != schema.OrderSideSell {
			continue
		}
		if o.RequestedQty > 90 { // 100 * 9000bps
			t.Fatalf("sell size exceeds inventory cap: %+v", o)
		}
	}
}

func TestCancelAllEmitsEvents(t *testing.T) {
	h := newHarness(t, baseConfig(), disabledRisk(), 100_000_000)
	h.pnl.ApplyFill(schema.Fill{SymbolID: 1, Side: schema.OrderSideBuy, Price: 1_000, Qty: 5_000}, 0)
	h.push(t, 990, 1_010, second)
	h.quoter.Tick(second)

	before := len(h.exec.OpenOrders(1))
	if before == 0 {
		t.Fatal("nothing to cancel")
	}
	h.quoter.CancelAll(2 * second)
	if got := len(h.exec.OpenOrders(1)); got != 0 {
		t.Fatalf("orders alive after cancel all: %d", got)
	}
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"no symbol", func(c *Config) { c.SymbolID = 0 }, false},
		{"zero quote size", func(c *Config) { c.QuoteSize = 0 }, false},
		{"zero price step", func(c *Config) { c.PriceStep = 0 }, false},
		{"capital usage over 100%", func(c *Config) { c.CapitalUsageBps = 10_001 }, false},
		{"zero reorder interval", func(c *Config) { c.ReorderInterval = 0 }, false},
		{"aggressive without bps", func(c *Config) { c.AggressiveTake = true; c.AggressiveBps = 0 }, false},
	} {
		cfg := baseConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
