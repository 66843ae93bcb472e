package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

// ChaosConfig controls fault injection on a wrapped feed.
type ChaosConfig struct {
	Seed          int64
	DropRate      float64
	DuplicateRate float64
	// ReorderWindow buffers N quotes and releases them in random order.
	ReorderWindow int
	// MaxDelay shifts quote timestamps forward by a random amount.
	MaxDelay time.Duration
}

// Validate ensures the config is within supported ranges.
func (c ChaosConfig) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return errors.New("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return errors.New("duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow < 0 {
		return errors.New("reorderWindow must be >= 0")
	}
	if c.MaxDelay < 0 {
		return errors.New("maxDelay must be >= 0")
	}
	return nil
}

// Chaos wraps a feed and injects drops, duplicates, reordering and
// timestamp delay into its quote stream. Trade prints pass through the
// drop and duplicate rules only, so a burned print stays burned.
type Chaos struct {
	cfg   ChaosConfig
	inner Feed

	mu      sync.Mutex
	rng     *rand.Rand
	pending []schema.Quote
}

var _ Feed = (*Chaos)(nil)

// NewChaos validates the config and wraps the inner feed.
func NewChaos(inner Feed, cfg ChaosConfig) (*Chaos, error) {
	if inner == nil {
		return nil, errors.New("chaos feed: nil inner feed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Chaos{
		cfg:   cfg,
		inner: inner,
		rng:   rand.New(rand.NewSource(seed)),
	}, nil
}

func (c *Chaos) Start(ctx context.Context) error { return c.inner.Start(ctx) }

func (c *Chaos) Close() { c.inner.Close() }

func (c *Chaos) Subscribe(ctx context.Context, symbol schema.Symbol, h Handlers) (func(), error) {
	mangled := Handlers{}
	if h.OnQuote != nil {
		mangled.OnQuote = func(q schema.Quote) {
			for _, out := range c.processQuote(q) {
				h.OnQuote(out)
			}
		}
	}
	if h.OnTrade != nil {
		mangled.OnTrade = func(t schema.TradePrint) {
			c.mu.Lock()
			drop := c.shouldDropLocked()
			dup := !drop && c.shouldDuplicateLocked()
			c.mu.Unlock()
			if drop {
				return
			}
			h.OnTrade(t)
			if dup {
				h.OnTrade(t)
			}
		}
	}
	return c.inner.Subscribe(ctx, symbol, mangled)
}

func (c *Chaos) processQuote(q schema.Quote) []schema.Quote {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shouldDropLocked() {
		return nil
	}
	q = c.delayLocked(q)
	if c.cfg.ReorderWindow <= 1 {
		return c.duplicateLocked(q)
	}
	c.pending = append(c.pending, q)
	if len(c.pending) < c.cfg.ReorderWindow {
		return nil
	}
	idx := c.rng.Intn(len(c.pending))
	out := c.pending[idx]
	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	return c.duplicateLocked(out)
}

func (c *Chaos) shouldDropLocked() bool {
	return c.cfg.DropRate > 0 && c.rng.Float64() < c.cfg.DropRate
}

func (c *Chaos) shouldDuplicateLocked() bool {
	return c.cfg.DuplicateRate > 0 && c.rng.Float64() < c.cfg.DuplicateRate
}

func (c *Chaos) duplicateLocked(q schema.Quote) []schema.Quote {
	out := []schema.Quote{q}
	if c.shouldDuplicateLocked() {
		out = append(out, q)
	}
	return out
}

func (c *Chaos) delayLocked(q schema.Quote) schema.Quote {
	if c.cfg.MaxDelay <= 0 {
		return q
	}
	delay := c.rng.Int63n(c.cfg.MaxDelay.Nanoseconds() + 1)
	q.TsNano += delay
	return q
}
