package persist

import (
	"github.com/yanun0323/logs"

	"main/internal/schema"
)

// Sink receives the event stream for durable storage. Writes are
// fire-and-forget from the trading path: implementations buffer
// internally and surface failures through Close.
type Sink interface {
	Write(e schema.Event) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Write(schema.Event) error { return nil }
func (Nop) Close() error             { return nil }

// Multi fans out to several sinks. A failing sink is logged and skipped;
// the others keep receiving.
type Multi struct {
	sinks []Sink
}

// NewMulti wraps the given sinks. Nil entries are ignored.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Write(e schema.Event) error {
	for _, s := range m.sinks {
		if err := s.Write(e); err != nil {
			logs.Errorf("sink write failed: %+v", err)
		}
	}
	return nil
}

func (m *Multi) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
