package quote

import (
	"testing"

	"main/internal/schema"
)

func TestBookUpdate(t *testing.T) {
	testCases := []struct {
		desc     string
		quote    schema.Quote
		accepted bool
	}{
		{
			"valid",
			schema.Quote{SymbolID: 1, BidPrice: 100, AskPrice: 101, TsNano: 1},
			true,
		},
		{
			"equal bid ask",
			schema.Quote{SymbolID: 1, BidPrice: 100, AskPrice: 100, TsNano: 2},
			true,
		},
		{
			"crossed",
			schema.Quote{SymbolID: 1, BidPrice: 102, AskPrice: 101, TsNano: 3},
			false,
		},
		{
			"missing ask",
			schema.Quote{SymbolID: 1, BidPrice: 100, TsNano: 4},
			false,
		},
		{
			"negative bid",
			schema.Quote{SymbolID: 1, BidPrice: -1, AskPrice: 100, TsNano: 5},
			false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			b := NewBook()
			if got := b.Update(tc.quote); got != tc.accepted {
				t.Fatalf("accepted mismatch: got %v want %v", got, tc.accepted)
			}
			_, ok := b.Best(tc.quote.SymbolID)
			if ok != tc.accepted {
				t.Fatalf("stored mismatch: got %v want %v", ok, tc.accepted)
			}
		})
	}
}

func TestBookKeepsLastGoodQuote(t *testing.T) {
	b := NewBook()
	good := schema.Quote{SymbolID: 7, BidPrice: 100, AskPrice: 101, TsNano: 1}
	if !b.Update(good) {
		t.Fatal("good quote rejected")
	}
	if b.Update(schema.Quote{SymbolID: 7, BidPrice: 105, AskPrice: 101, TsNano: 2}) {
		t.Fatal("crossed quote accepted")
	}
	got, ok := b.Best(7)
	if !ok || got != good {
		t.Fatalf("last good quote lost: got %+v", got)
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped count mismatch: got %d want 1", b.Dropped())
	}
}
