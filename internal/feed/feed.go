package feed

import (
	"context"

	"main/internal/schema"
)

// Handlers receive normalized market data. Both callbacks run on the
// feed's own task; implementations must not block.
type Handlers struct {
	OnQuote func(q schema.Quote)
	OnTrade func(t schema.TradePrint)
}

// Feed delivers best bid/ask quotes and public trade prints for
// subscribed symbols until closed.
type Feed interface {
	// Start opens the upstream connection.
	Start(ctx context.Context) error
	// Subscribe begins streaming a symbol into the handlers. The returned
	// function stops that stream.
	Subscribe(ctx context.Context, symbol schema.Symbol, h Handlers) (unsubscribe func(), err error)
	// Close shuts the feed down.
	Close()
}
