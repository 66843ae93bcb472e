package persist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

var (
	ErrJournalFull   = errors.New("journal queue full")
	ErrJournalClosed = errors.New("journal closed")
)

// JournalConfig controls the JSONL journal writer.
type JournalConfig struct {
	Dir string
	// QueueSize bounds the in-flight buffer between the trading path and
	// the disk writer.
	QueueSize int
	// FlushInterval forces a buffered flush even under low traffic.
	FlushInterval time.Duration
}

func (c JournalConfig) withDefaults() JournalConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	return c
}

// Line is the on-disk journal shape: the kind tag plus whichever
// payload the event carries.
type Line struct {
	Kind        string                   `json:"kind"`
	TsNano      int64                    `json:"ts"`
	Order       *schema.OrderEvent       `json:"order,omitempty"`
	Trade       *schema.TradeEvent       `json:"trade,omitempty"`
	RiskBlocked *schema.RiskBlockedEvent `json:"riskBlocked,omitempty"`
	Status      *schema.StatusEvent      `json:"status,omitempty"`
	Diag        *schema.DiagEvent        `json:"diag,omitempty"`
}

// Journal appends events as JSON lines to a per-session file. Writes
// never block the caller: a full queue drops the event with an error
// the caller is free to ignore.
type Journal struct {
	ch     chan schema.Event
	file   *os.File
	wg     sync.WaitGroup
	closed uint32
}

// NewJournal opens a session file under cfg.Dir and starts the writer
// goroutine.
func NewJournal(cfg JournalConfig) (*Journal, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, errors.New("journal dir is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir")
	}

	name := fmt.Sprintf("session-%s.jsonl", time.Now().UTC().Format("20060102-150405"))
	file, err := os.OpenFile(filepath.Join(cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open journal file")
	}

	j := &Journal{
		ch:   make(chan schema.Event, cfg.QueueSize),
		file: file,
	}
	j.wg.Add(1)
	go j.loop(cfg.FlushInterval)
	return j, nil
}

// Write enqueues an event for the background writer.
func (j *Journal) Write(e schema.Event) error {
	if atomic.LoadUint32(&j.closed) != 0 {
		return ErrJournalClosed
	}
	select {
	case j.ch <- e:
		return nil
	default:
		return ErrJournalFull
	}
}

// Close drains the queue, flushes and closes the file.
func (j *Journal) Close() error {
	if !atomic.CompareAndSwapUint32(&j.closed, 0, 1) {
		return nil
	}
	close(j.ch)
	j.wg.Wait()
	return j.file.Close()
}

func (j *Journal) loop(flushInterval time.Duration) {
	defer j.wg.Done()

	w := bufio.NewWriter(j.file)
	defer w.Flush()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	enc := json.NewEncoder(w)
	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				return
			}
			_ = enc.Encode(toLine(e))
		case <-ticker.C:
			_ = w.Flush()
		}
	}
}

func toLine(e schema.Event) Line {
	return Line{
		Kind:        e.Kind.String(),
		TsNano:      e.TsNano,
		Order:       e.Order,
		Trade:       e.Trade,
		RiskBlocked: e.RiskBlocked,
		Status:      e.Status,
		Diag:        e.Diag,
	}
}
