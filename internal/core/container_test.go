package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"main/internal/feed"
	"main/internal/mm"
	"main/internal/ops"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/shadow"
)

// stubFeed drives the container from the test body.
type stubFeed struct {
	mu       sync.Mutex
	handlers feed.Handlers
	started  bool
	closed   bool
}

func (f *stubFeed) Start(context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *stubFeed) Subscribe(_ context.Context, _ schema.Symbol, h feed.Handlers) (func(), error) {
	f.mu.Lock()
	f.handlers = h
	f.mu.Unlock()
	return func() {}, nil
}

func (f *stubFeed) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *stubFeed) pushQuote(q schema.Quote) {
	f.mu.Lock()
	h := f.handlers
	f.mu.Unlock()
	if h.OnQuote != nil {
		h.OnQuote(q)
	}
}

// captureSink records everything the bus drains.
type captureSink struct {
	mu     sync.Mutex
	events []schema.Event
}

func (s *captureSink) Write(e schema.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *captureSink) count(kind schema.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func testLoaded() ops.Loaded {
	reg := schema.NewRegistry()
	venueID, _ := reg.AddVenue("paper")
	symbolID, _ := reg.AddSymbol("BTCUSDT", venueID, schema.ScaleSpec{PriceScale: 2, QuantityScale: 5})
	symbol, _ := reg.Symbol(symbolID)

	riskCfg := risk.DefaultConfig()
	riskCfg.Enabled = false

	shadowCfg := shadow.DefaultConfig()
	shadowCfg.Latency = 0
	shadowCfg.MarketLatency = 0

	mmCfg := mm.DefaultConfig()
	mmCfg.SymbolID = symbolID
	mmCfg.Symbol = symbol.Name
	mmCfg.QuoteSize = 1_000_000
	mmCfg.ReorderInterval = 5 * time.Millisecond
	mmCfg.CancelTimeout = time.Minute

	return ops.Loaded{
		Registry:     reg,
		Symbol:       symbol,
		Risk:         riskCfg,
		Shadow:       shadowCfg,
		Strategy:     mmCfg,
		InitialCash:  100_000_000,
		TickInterval: 5 * time.Millisecond,
		Features:     ops.FeatureFlags{EnableStatusReport: true},
	}
}

func TestContainerLifecycle(t *testing.T) {
	src := &stubFeed{}
	sink := &captureSink{}
	c := New(testLoaded(), src, sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("second start succeeded")
	}

	src.pushQuote(schema.Quote{SymbolID: 1, BidPrice: 99_000, BidSize: 1_000_000, AskPrice: 101_000, AskSize: 1_000_000, TsNano: 1})

	deadline := time.After(2 * time.Second)
	for sink.count(schema.EventOrder) == 0 {
		select {
		case <-deadline:
			t.Fatal("no order events drained to sink")
		case <-time.After(5 * time.Millisecond):
		}
	}

	report := c.Report(time.Now().UnixNano())
	if !report.Running || report.Symbol != "BTCUSDT" {
		t.Fatalf("report mismatch: %+v", report)
	}
	if report.Equity <= 0 {
		t.Fatalf("equity missing: %+v", report)
	}

	c.Stop()
	c.Stop() // idempotent

	src.mu.Lock()
	closed := src.closed
	src.mu.Unlock()
	if !closed {
		t.Fatal("feed not closed on stop")
	}
	if got := c.Report(time.Now().UnixNano()); got.Running {
		t.Fatalf("still running after stop: %+v", got)
	}
}

// slowSink simulates a sink that writes far slower than the loop
// publishes, so events pile up in the queue.
type slowSink struct {
	captureSink
	delay time.Duration
}

func (s *slowSink) Write(e schema.Event) error {
	time.Sleep(s.delay)
	return s.captureSink.Write(e)
}

func TestStopDrainsBufferedEvents(t *testing.T) {
	src := &stubFeed{}
	sink := &slowSink{delay: 10 * time.Millisecond}
	c := New(testLoaded(), src, sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// keep moving the market so every tick reorders and publishes
	price := schema.Price(100_000)
	for i := 0; i < 25; i++ {
		src.pushQuote(schema.Quote{
			SymbolID: 1,
			BidPrice: price - 1_000, BidSize: 1_000_000,
			AskPrice: price + 1_000, AskSize: 1_000_000,
			TsNano: int64(i + 1),
		})
		price += 100
		time.Sleep(6 * time.Millisecond)
	}

	c.Stop()

	snap := c.Metrics().Snapshot()
	accepted := uint64(0)
	for _, n := range snap.EventCounts {
		accepted += n
	}
	accepted -= snap.QueueDrops

	if accepted == 0 {
		t.Fatal("no events published")
	}
	if got := uint64(sink.total()); got != accepted {
		t.Fatalf("events lost on stop: drained %d of %d accepted (%d queue drops)",
			got, accepted, snap.QueueDrops)
	}
}

func TestContainerEmitsStatusEvents(t *testing.T) {
	src := &stubFeed{}
	sink := &captureSink{}
	c := New(testLoaded(), src, sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	deadline := time.After(3 * time.Second)
	for sink.count(schema.EventStatus) == 0 {
		select {
		case <-deadline:
			t.Fatal("no status events")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestContainerMetricsCountTicks(t *testing.T) {
	src := &stubFeed{}
	c := New(testLoaded(), src, &captureSink{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	deadline := time.After(2 * time.Second)
	for c.Metrics().Snapshot().Ticks == 0 {
		select {
		case <-deadline:
			t.Fatal("no ticks counted")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
