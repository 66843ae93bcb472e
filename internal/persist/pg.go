package persist

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"main/internal/schema"
)

// OrderEventRow is the persisted order lifecycle record.
type OrderEventRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	TsNano      int64  `gorm:"index"`
	OrderID     uint64 `gorm:"index"`
	Symbol      string `gorm:"size:32;index"`
	Side        string `gorm:"size:8"`
	Type        string `gorm:"size:16"`
	Status      string `gorm:"size:20"`
	Price       int64
	Qty         int64
	ExecutedQty int64
	Reason      string `gorm:"size:128"`
}

func (OrderEventRow) TableName() string { return "order_events" }

// TradeRow is the persisted fill record.
type TradeRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	TsNano      int64  `gorm:"index"`
	OrderID     uint64 `gorm:"index"`
	Symbol      string `gorm:"size:32;index"`
	Side        string `gorm:"size:8"`
	Price       int64
	Qty         int64
	Fee         int64
	Liquidity   string `gorm:"size:8"`
	RealizedPnl int64
}

func (TradeRow) TableName() string { return "trades" }

// PGSinkConfig controls batching of the postgres sink.
type PGSinkConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

func (c PGSinkConfig) withDefaults() PGSinkConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 8192
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	return c
}

// PGSink stores order events and trades in postgres. Status and diag
// events are skipped; they are transient by nature. Inserts run on a
// background task in batches so a slow database never stalls trading.
type PGSink struct {
	db     *gorm.DB
	ch     chan schema.Event
	wg     sync.WaitGroup
	cfg    PGSinkConfig
	closed uint32
}

// NewPGSink migrates the tables and starts the insert loop.
func NewPGSink(db *gorm.DB, cfg PGSinkConfig) (*PGSink, error) {
	if db == nil {
		return nil, errors.New("pg sink: nil db")
	}
	cfg = cfg.withDefaults()
	if err := db.AutoMigrate(&OrderEventRow{}, &TradeRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate sink tables")
	}

	s := &PGSink{
		db:  db,
		ch:  make(chan schema.Event, cfg.QueueSize),
		cfg: cfg,
	}
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

// Write enqueues an event. Full queue drops the event.
func (s *PGSink) Write(e schema.Event) error {
	if e.Kind != schema.EventOrder && e.Kind != schema.EventTrade {
		return nil
	}
	if atomic.LoadUint32(&s.closed) != 0 {
		return errors.New("pg sink closed")
	}
	select {
	case s.ch <- e:
		return nil
	default:
		return errors.New("pg sink queue full")
	}
}

// Close flushes pending batches. Producers must be stopped first.
func (s *PGSink) Close() error {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return nil
	}
	close(s.ch)
	s.wg.Wait()
	return nil
}

func (s *PGSink) loop() {
	defer s.wg.Done()

	var orders []OrderEventRow
	var trades []TradeRow
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(orders) > 0 {
			if err := s.db.Create(&orders).Error; err != nil {
				logs.Errorf("insert order events: %+v", err)
			}
			orders = orders[:0]
		}
		if len(trades) > 0 {
			if err := s.db.Create(&trades).Error; err != nil {
				logs.Errorf("insert trades: %+v", err)
			}
			trades = trades[:0]
		}
	}
	defer flush()

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				return
			}
			switch e.Kind {
			case schema.EventOrder:
				orders = append(orders, orderRow(e))
			case schema.EventTrade:
				trades = append(trades, tradeRow(e))
			}
			if len(orders)+len(trades) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func orderRow(e schema.Event) OrderEventRow {
	o := e.Order
	return OrderEventRow{
		TsNano:      e.TsNano,
		OrderID:     o.OrderID,
		Symbol:      o.Symbol,
		Side:        o.Side.String(),
		Type:        o.Type.String(),
		Status:      o.Status.String(),
		Price:       int64(o.Price),
		Qty:         int64(o.Qty),
		ExecutedQty: int64(o.ExecutedQty),
		Reason:      o.Reason,
	}
}

func tradeRow(e schema.Event) TradeRow {
	t := e.Trade
	return TradeRow{
		TsNano:      e.TsNano,
		OrderID:     t.OrderID,
		Symbol:      t.Symbol,
		Side:        t.Side.String(),
		Price:       int64(t.Price),
		Qty:         int64(t.Qty),
		Fee:         int64(t.Fee),
		Liquidity:   t.Liquidity.String(),
		RealizedPnl: int64(t.RealizedPnl),
	}
}
