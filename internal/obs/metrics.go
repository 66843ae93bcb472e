package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const maxEventKind = int(schema.EventDiag)

// Metrics collects lightweight counters and latency stats for one
// trading session. All methods are safe for concurrent use and nil
// receivers are no-ops so call sites need no guards.
type Metrics struct {
	eventCounts [maxEventKind + 1]uint64

	ticks          uint64
	ordersPlaced   uint64
	ordersCanceled uint64
	ordersRejected uint64
	fills          uint64
	riskBlocks     uint64
	queueDrops     uint64

	tickLatency LatencyStats
	fillLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts    map[schema.EventKind]uint64
	Ticks          uint64
	OrdersPlaced   uint64
	OrdersCanceled uint64
	OrdersRejected uint64
	Fills          uint64
	RiskBlocks     uint64
	QueueDrops     uint64
	TickLatency    LatencySnapshot
	FillLatency    LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts a published event and derives the per-concern
// counters from its payload.
func (m *Metrics) ObserveEvent(e schema.Event) {
	if m == nil {
		return
	}
	idx := int(e.Kind)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}

	switch e.Kind {
	case schema.EventOrder:
		switch e.Order.Status {
		case schema.OrderStatusNew:
			atomic.AddUint64(&m.ordersPlaced, 1)
		case schema.OrderStatusCanceled:
			atomic.AddUint64(&m.ordersCanceled, 1)
		case schema.OrderStatusRejected:
			atomic.AddUint64(&m.ordersRejected, 1)
		}
	case schema.EventTrade:
		atomic.AddUint64(&m.fills, 1)
	case schema.EventRiskBlocked:
		atomic.AddUint64(&m.riskBlocks, 1)
	}
}

// IncTick records one loop iteration.
func (m *Metrics) IncTick() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ticks, 1)
}

// IncQueueDrop records an event lost on a full queue.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// ObserveTick measures one loop iteration's duration.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickLatency.Observe(d)
}

// ObserveFill measures placement-to-fill latency.
func (m *Metrics) ObserveFill(d time.Duration) {
	if m == nil {
		return
	}
	m.fillLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventKind]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventKind(i)] = v
		}
	}
	return Snapshot{
		EventCounts:    eventCounts,
		Ticks:          atomic.LoadUint64(&m.ticks),
		OrdersPlaced:   atomic.LoadUint64(&m.ordersPlaced),
		OrdersCanceled: atomic.LoadUint64(&m.ordersCanceled),
		OrdersRejected: atomic.LoadUint64(&m.ordersRejected),
		Fills:          atomic.LoadUint64(&m.fills),
		RiskBlocks:     atomic.LoadUint64(&m.riskBlocks),
		QueueDrops:     atomic.LoadUint64(&m.queueDrops),
		TickLatency:    m.tickLatency.Snapshot(),
		FillLatency:    m.fillLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
