/*
Core owns one symbol's paper-trading pipeline.

# Module
  - quote book: latest best bid/ask from the feed task
  - shadow engine: simulated exchange, fills against book and prints
  - pnl engine: positions, cash, realized/unrealized
  - risk engine: drawdown/cooldown/guard gate ahead of every placement
  - quoter: two-sided market-making loop
  - bus: bounded event queue draining to the persistence sinks

# Concurrency
A single mutex serializes the strategy state: the tick task and the
feed's trade prints both take it before touching the engines. Quote
updates only write the (internally locked) book, so they stay lock-free
on the strategy path.
*/
package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/feed"
	"main/internal/mm"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/persist"
	"main/internal/pnl"
	"main/internal/quote"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/shadow"
)

const (
	queueCapacity  = 8192
	statusInterval = time.Second
)

// Container wires and runs the paper-trading pipeline for one symbol.
type Container struct {
	mu sync.Mutex

	cfg    ops.Loaded
	book   *quote.Book
	rsk    *risk.Engine
	exec   *shadow.Engine
	pnl    *pnl.Engine
	quoter *mm.Quoter
	queue  *bus.Queue
	mtr    *obs.Metrics
	sink   persist.Sink
	src    feed.Feed

	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
	drainWG     sync.WaitGroup
	running     uint32
}

// New builds the pipeline from resolved config. The sink may be nil.
func New(cfg ops.Loaded, src feed.Feed, sink persist.Sink) *Container {
	if sink == nil {
		sink = persist.Nop{}
	}
	c := &Container{
		cfg:   cfg,
		book:  quote.NewBook(),
		rsk:   risk.NewEngine(cfg.Risk),
		exec:  shadow.NewEngine(cfg.Shadow),
		pnl:   pnl.NewEngine(cfg.InitialCash),
		queue: bus.NewQueue(queueCapacity),
		mtr:   obs.NewMetrics(),
		sink:  sink,
		src:   src,
	}
	c.quoter = mm.NewQuoter(cfg.Strategy, c.book, c.rsk, c.exec, c.pnl, c.publish)
	return c
}

// Metrics exposes the session counters.
func (c *Container) Metrics() *obs.Metrics { return c.mtr }

// Start connects the feed and launches the event drain, the tick loop
// and the status reporter.
func (c *Container) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&c.running, 0, 1) {
		return errors.New("container already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.src.Start(ctx); err != nil {
		cancel()
		return errors.Wrap(err, "start feed")
	}
	unsubscribe, err := c.src.Subscribe(ctx, c.cfg.Symbol, feed.Handlers{
		OnQuote: c.onQuote,
		OnTrade: c.onTrade,
	})
	if err != nil {
		cancel()
		return errors.Wrap(err, "subscribe feed").With("symbol", c.cfg.Symbol.Name)
	}
	c.unsubscribe = unsubscribe

	c.drainWG.Add(1)
	go func() {
		defer c.drainWG.Done()
		c.queue.Run(ctx, c.drain)
	}()

	c.wg.Add(1)
	go c.tickLoop(ctx)

	if c.cfg.Features.EnableStatusReport {
		c.wg.Add(1)
		go c.statusLoop(ctx)
	}

	logs.Infof("container started: %s", c.cfg.Symbol.Name)
	return nil
}

// Stop cancels a running quote set, tears the tasks down and flushes
// the sink. The queue is closed and drained before the context goes
// down so accepted events always reach the sink.
func (c *Container) Stop() {
	if !atomic.CompareAndSwapUint32(&c.running, 1, 2) {
		return
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}

	c.mu.Lock()
	c.quoter.CancelAll(time.Now().UnixNano())
	c.mu.Unlock()

	c.queue.Close()
	c.drainWG.Wait()
	c.cancel()
	c.wg.Wait()
	c.src.Close()
	if err := c.sink.Close(); err != nil {
		logs.Errorf("close sink: %+v", err)
	}
	logs.Infof("container stopped: %s", c.cfg.Symbol.Name)
}

// Report builds the current status payload.
func (c *Container) Report(now int64) schema.StatusEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reportLocked(now)
}

// Unlock clears risk locks on operator request.
func (c *Container) Unlock() {
	c.mu.Lock()
	c.rsk.Unlock()
	c.mu.Unlock()
	logs.Info("risk locks cleared")
}

func (c *Container) reportLocked(now int64) schema.StatusEvent {
	pos := c.pnl.Position(c.cfg.Symbol.ID)
	snap := c.pnl.Equity(now)
	rs := c.rsk.Status(now)
	stats := c.quoter.Stats()
	return schema.StatusEvent{
		Running:       atomic.LoadUint32(&c.running) == 1,
		Symbol:        c.cfg.Symbol.Name,
		PositionQty:   pos.Qty,
		AvgEntryPrice: pos.AvgEntryPrice,
		RealizedPnl:   snap.RealizedPnl,
		Equity:        snap.Equity,
		RiskLocked:    !rs.Allowed,
		RiskReason:    rs.Reason,
		OrdersActive:  stats.OrdersActive,
		OrdersFilled:  stats.OrdersFilled,
	}
}

func (c *Container) onQuote(q schema.Quote) {
	c.book.Update(q)
}

func (c *Container) onTrade(t schema.TradePrint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exec.OnTradePrint(time.Now().UnixNano(), t)
}

// publish pushes an event to the bus without ever blocking the loop.
func (c *Container) publish(e schema.Event) {
	c.mtr.ObserveEvent(e)
	if err := c.queue.TryPublish(e); err != nil {
		c.mtr.IncQueueDrop()
	}
}

func (c *Container) drain(e schema.Event) {
	if e.Kind == schema.EventDiag {
		logs.Info(e.Diag.Text)
	}
	_ = c.sink.Write(e)
}

func (c *Container) tickLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.tick(now.UnixNano())
		}
	}
}

// tick runs one loop iteration. A panicking tick is reported as diag
// and the loop keeps going.
func (c *Container) tick(now int64) {
	start := time.Now()
	c.runTick(now)
	c.mtr.IncTick()
	c.mtr.ObserveTick(time.Since(start))
}

func (c *Container) runTick(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("tick panic: %v\n%s", r, debug.Stack())
			c.publish(schema.NewDiagEvent(now, fmt.Sprintf("tick recovered: %v", r)))
		}
	}()

	c.quoter.Tick(now)
}

func (c *Container) statusLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ts := now.UnixNano()
			c.publish(schema.NewStatusEvent(ts, c.Report(ts)))
		}
	}
}
