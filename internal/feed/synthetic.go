package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/schema"
)

// SyntheticConfig shapes the random walk. All prices are in the
// symbol's scaled integer units.
type SyntheticConfig struct {
	BasePrice schema.Price
	BaseSize  schema.Quantity
	// Spread is the half-distance between bid and ask.
	Spread schema.Price
	// StepBps bounds the per-tick mid move.
	StepBps schema.Bps
	// Interval between ticks.
	Interval time.Duration
	// TradeEvery emits a synthetic trade print at the touch every N ticks.
	TradeEvery int
	// Seed makes the walk reproducible. Zero seeds from the clock.
	Seed int64
}

// DefaultSyntheticConfig is a calm walk suitable for paper sessions.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		BaseSize:   1,
		Spread:     1,
		StepBps:    5,
		Interval:   100 * time.Millisecond,
		TradeEvery: 4,
	}
}

var _ Feed = (*Synthetic)(nil)

// Synthetic generates a random-walk quote stream with occasional trade
// prints, one goroutine per subscribed symbol.
type Synthetic struct {
	cfg SyntheticConfig

	mu      sync.Mutex
	rng     *rand.Rand
	started bool
}

// NewSynthetic creates a generator. BasePrice must be positive.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.BasePrice <= 0 {
		return nil, errors.New("synthetic feed: base price must be positive")
	}
	if cfg.BaseSize <= 0 {
		cfg.BaseSize = 1
	}
	if cfg.Spread <= 0 {
		cfg.Spread = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Synthetic{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

func (f *Synthetic) Start(context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *Synthetic) Close() {}

// Subscribe starts the walk for one symbol.
func (f *Synthetic) Subscribe(ctx context.Context, symbol schema.Symbol, h Handlers) (func(), error) {
	f.mu.Lock()
	started := f.started
	f.mu.Unlock()
	if !started {
		return nil, errors.New("synthetic feed: not started")
	}

	ctx, cancel := context.WithCancel(ctx)
	go f.run(ctx, symbol, h)
	logs.Infof("synthetic feed: streaming %s", symbol.Name)
	return cancel, nil
}

func (f *Synthetic) run(ctx context.Context, symbol schema.Symbol, h Handlers) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	mid := f.cfg.BasePrice
	ticks := 0
	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			mid = f.step(mid)
			ticks++

			q := schema.Quote{
				SymbolID: symbol.ID,
				BidPrice: mid - f.cfg.Spread,
				BidSize:  f.cfg.BaseSize,
				AskPrice: mid + f.cfg.Spread,
				AskSize:  f.cfg.BaseSize,
				TsNano:   now.UnixNano(),
			}
			if h.OnQuote != nil && q.Valid() {
				h.OnQuote(q)
			}

			if h.OnTrade != nil && f.cfg.TradeEvery > 0 && ticks%f.cfg.TradeEvery == 0 {
				h.OnTrade(f.trade(symbol, q, now))
			}
		}
	}
}

// step moves mid by up to StepBps in either direction, floored above
// the spread so the book stays positive.
func (f *Synthetic) step(mid schema.Price) schema.Price {
	f.mu.Lock()
	r := f.rng.Int63n(2*int64(f.cfg.StepBps)+1) - int64(f.cfg.StepBps)
	f.mu.Unlock()

	move := schema.Price(schema.FractionBps(int64(mid), schema.Bps(r)))
	next := mid + move
	if min := f.cfg.Spread + 1; next < min {
		next = min
	}
	return next
}

// trade prints alternately at the bid and the ask.
func (f *Synthetic) trade(symbol schema.Symbol, q schema.Quote, now time.Time) schema.TradePrint {
	f.mu.Lock()
	sellAggressor := f.rng.Intn(2) == 0
	f.mu.Unlock()

	price := q.AskPrice
	aggressor := schema.OrderSideBuy
	if sellAggressor {
		price = q.BidPrice
		aggressor = schema.OrderSideSell
	}
	return schema.TradePrint{
		SymbolID:  symbol.ID,
		Price:     price,
		Qty:       f.cfg.BaseSize,
		Aggressor: aggressor,
		TsNano:    now.UnixNano(),
	}
}
