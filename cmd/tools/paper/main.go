package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/core"
	"main/internal/feed"
	"main/internal/mm"
	"main/internal/ops"
	"main/internal/persist"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/shadow"
)

// paper runs a self-contained session against the synthetic feed, no
// config file required. Useful for smoke-testing strategy knobs.
func main() {
	if err := run(); err != nil {
		logs.Errorf("paper: %v", err)
		os.Exit(1)
	}
}

func run() error {
	symbol := flag.String("symbol", "BTCUSDT", "Symbol name")
	basePrice := flag.Int64("base-price", 100_000, "Synthetic base price (scaled)")
	spread := flag.Int64("spread", 2, "Synthetic half-spread (scaled)")
	stepBps := flag.Int64("step-bps", 5, "Max per-tick mid move in bps")
	feedInterval := flag.Duration("feed-interval", 100*time.Millisecond, "Synthetic tick interval")
	seed := flag.Int64("seed", 0, "Random walk seed (0=clock)")
	cash := flag.Int64("cash", 100_000_000, "Initial cash (scaled)")
	quoteSize := flag.Int64("quote-size", 1_000_000, "Quote notional per side (scaled)")
	duration := flag.Duration("duration", 30*time.Second, "Session length (0=run until signal)")
	journalDir := flag.String("journal-dir", "", "Session journal directory (empty=disabled)")
	dropRate := flag.Float64("drop-rate", 0, "Chaos: quote drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "Chaos: quote duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 0, "Chaos: quote reorder window (<=1 disables)")
	maxDelay := flag.Duration("max-delay", 0, "Chaos: max quote timestamp delay")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	loaded, err := buildLoaded(*symbol, *basePrice, *spread, *stepBps, *feedInterval, *seed, *cash, *quoteSize, *journalDir)
	if err != nil {
		return err
	}

	src, err := buildFeed(loaded, *dropRate, *dupRate, *reorderWindow, *maxDelay)
	if err != nil {
		return err
	}

	var sink persist.Sink = persist.Nop{}
	if loaded.Journal.Dir != "" {
		journal, err := persist.NewJournal(loaded.Journal)
		if err != nil {
			return errors.Wrap(err, "journal sink")
		}
		sink = journal
	}

	container := core.New(loaded, src, sink)
	if err := container.Start(ctx); err != nil {
		return errors.Wrap(err, "start container")
	}

	logs.Infof("paper session started, symbol: %s, base price: %d", *symbol, *basePrice)

	<-ctx.Done()
	container.Stop()

	report := container.Report(time.Now().UnixNano())
	metrics := container.Metrics().Snapshot()
	logs.Infof("paper session done, position: %d, realized pnl: %d, equity: %d",
		report.PositionQty, report.RealizedPnl, report.Equity)
	logs.Infof("orders placed: %d, filled: %d, risk blocks: %d, queue drops: %d",
		metrics.OrdersPlaced, metrics.Fills, metrics.RiskBlocks, metrics.QueueDrops)
	return nil
}

func buildLoaded(symbol string, basePrice, spread, stepBps int64, feedInterval time.Duration, seed, cash, quoteSize int64, journalDir string) (ops.Loaded, error) {
	if basePrice <= 0 {
		return ops.Loaded{}, errors.New("base-price must be positive")
	}
	if cash <= 0 {
		return ops.Loaded{}, errors.New("cash must be positive")
	}

	registry := schema.NewRegistry()
	venueID, err := registry.AddVenue("paper")
	if err != nil {
		return ops.Loaded{}, err
	}
	symbolID, err := registry.AddSymbol(symbol, venueID, schema.ScaleSpec{
		PriceScale:    2,
		QuantityScale: 5,
	})
	if err != nil {
		return ops.Loaded{}, err
	}
	sym, _ := registry.Symbol(symbolID)

	strategy := mm.DefaultConfig()
	strategy.SymbolID = symbolID
	strategy.Symbol = sym.Name
	strategy.QuoteSize = schema.Notional(quoteSize)
	if err := strategy.Validate(); err != nil {
		return ops.Loaded{}, err
	}

	synthetic := feed.DefaultSyntheticConfig()
	synthetic.BasePrice = schema.Price(basePrice)
	synthetic.Spread = schema.Price(spread)
	synthetic.StepBps = schema.Bps(stepBps)
	synthetic.Interval = feedInterval
	synthetic.Seed = seed

	return ops.Loaded{
		Registry:     registry,
		Symbol:       sym,
		Risk:         risk.DefaultConfig(),
		Shadow:       shadow.DefaultConfig(),
		Strategy:     strategy,
		InitialCash:  schema.Notional(cash),
		TickInterval: 100 * time.Millisecond,
		FeedSource:   "synthetic",
		Synthetic:    synthetic,
		Journal:      persist.JournalConfig{Dir: journalDir},
		Features:     ops.FeatureFlags{EnableStatusReport: true, EnableJournal: journalDir != ""},
	}, nil
}

func buildFeed(loaded ops.Loaded, dropRate, dupRate float64, reorderWindow int, maxDelay time.Duration) (feed.Feed, error) {
	src, err := feed.NewSynthetic(loaded.Synthetic)
	if err != nil {
		return nil, errors.Wrap(err, "synthetic feed")
	}
	if dropRate == 0 && dupRate == 0 && reorderWindow <= 1 && maxDelay == 0 {
		return src, nil
	}
	chaotic, err := feed.NewChaos(src, feed.ChaosConfig{
		DropRate:      dropRate,
		DuplicateRate: dupRate,
		ReorderWindow: reorderWindow,
		MaxDelay:      maxDelay,
	})
	if err != nil {
		return nil, errors.Wrap(err, "chaos feed")
	}
	return chaotic, nil
}
