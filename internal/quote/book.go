package quote

import (
	"sync"

	"main/internal/schema"
)

// Book holds the latest best bid/ask per symbol. The market-data task is
// the only writer; the loop task reads concurrently, so access is guarded.
type Book struct {
	mu      sync.RWMutex
	best    map[schema.SymbolID]schema.Quote
	dropped uint64
}

// NewBook creates an empty quote book.
func NewBook() *Book {
	return &Book{best: make(map[schema.SymbolID]schema.Quote)}
}

// Update stores a quote. Crossed or non-positive quotes are dropped so a
// bad upstream tick never reaches consumers.
func (b *Book) Update(q schema.Quote) bool {
	if !q.Valid() {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		return false
	}
	b.mu.Lock()
	b.best[q.SymbolID] = q
	b.mu.Unlock()
	return true
}

// Best returns the latest quote for a symbol.
func (b *Book) Best(symbolID schema.SymbolID) (schema.Quote, bool) {
	b.mu.RLock()
	q, ok := b.best[symbolID]
	b.mu.RUnlock()
	return q, ok
}

// Dropped returns the number of quotes rejected as crossed or incomplete.
func (b *Book) Dropped() uint64 {
	b.mu.RLock()
	n := b.dropped
	b.mu.RUnlock()
	return n
}
