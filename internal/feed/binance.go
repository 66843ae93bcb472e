package feed

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/schema"
	"main/pkg/exception"
)

const (
	_binanceBaseWsUrl           = "wss://stream.binance.com:9443/ws"
	_binanceBaseWsUrlMarketOnly = "wss://data-stream.binance.vision/ws"
)

var _ Feed = (*Binance)(nil)

// Binance streams best bid/ask (bookTicker) and public trades over the
// combined websocket endpoint.
type Binance struct {
	wss   *ws.WebSocket
	reqID int64
}

// NewBinance creates a feed against the market-data-only endpoint, which
// needs no credentials.
func NewBinance(ctx context.Context) *Binance {
	return &Binance{
		wss: ws.New(ctx, _binanceBaseWsUrlMarketOnly),
	}
}

func (f *Binance) Start(ctx context.Context) error {
	if err := f.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}
	return nil
}

func (f *Binance) Close() {
	f.wss.Close()
}

type binanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type binanceSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// binanceBookTicker is the individual symbol book ticker stream payload.
type binanceBookTicker struct {
	UpdateID int64           `json:"u"`
	Symbol   string          `json:"s"`
	BidPrice decimal.Decimal `json:"b"`
	BidQty   decimal.Decimal `json:"B"`
	AskPrice decimal.Decimal `json:"a"`
	AskQty   decimal.Decimal `json:"A"`
}

// binanceTrade is the public trade stream payload.
type binanceTrade struct {
	EventType    string          `json:"e"`
	EventTime    int64           `json:"E"`
	Symbol       string          `json:"s"`
	Price        decimal.Decimal `json:"p"`
	Qty          decimal.Decimal `json:"q"`
	TradeTime    int64           `json:"T"`
	IsBuyerMaker bool            `json:"m"`
}

// Subscribe streams bookTicker and trade events for one symbol into the
// handlers until the returned function is called.
func (f *Binance) Subscribe(ctx context.Context, symbol schema.Symbol, h Handlers) (func(), error) {
	market := strings.ToLower(symbol.Name)
	streams := []string{
		fmt.Sprintf("%s@bookTicker", market),
		fmt.Sprintf("%s@trade", market),
	}
	if err := f.subscribeStreams(ctx, streams); err != nil {
		return nil, err
	}
	return f.observe(ctx, symbol, h), nil
}

func (f *Binance) subscribeStreams(ctx context.Context, streams []string) error {
	reqID := atomic.AddInt64(&f.reqID, 1)
	appendIntoRegister := true
	if err := f.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := binanceSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: streams,
				ID:     reqID,
			}
			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp binanceSubscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != reqID {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Wrapf(exception.ErrInResponseError, "subscribe rejected: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait").With("streams", streams)
	}
	return nil
}

func (f *Binance) observe(ctx context.Context, symbol schema.Symbol, h Handlers) (unsubscribe func()) {
	ch, cancel := f.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				f.dispatch(symbol, h, m)
			}
		}
	}()

	return cancel
}

func (f *Binance) dispatch(symbol schema.Symbol, h Handlers, m ws.Message) {
	if trade, ok := ws.ReadMessage[binanceTrade](m); ok && trade.EventType == "trade" {
		if !strings.EqualFold(trade.Symbol, symbol.Name) {
			return
		}
		if h.OnTrade == nil {
			return
		}
		tp, err := normalizeTrade(symbol, trade)
		if err != nil {
			logs.Errorf("drop trade payload: %+v", err)
			return
		}
		h.OnTrade(tp)
		return
	}

	ticker, ok := ws.ReadMessage[binanceBookTicker](m)
	if !ok || ticker.UpdateID == 0 {
		return
	}
	if !strings.EqualFold(ticker.Symbol, symbol.Name) {
		return
	}
	if h.OnQuote == nil {
		return
	}
	q, err := normalizeBookTicker(symbol, ticker)
	if err != nil {
		logs.Errorf("drop bookTicker payload: %+v", err)
		return
	}
	h.OnQuote(q)
}

func normalizeBookTicker(symbol schema.Symbol, t binanceBookTicker) (schema.Quote, error) {
	bid, err := ParsePrice(t.BidPrice.String(), symbol.Scale)
	if err != nil {
		return schema.Quote{}, errors.Wrap(err, "bid price")
	}
	ask, err := ParsePrice(t.AskPrice.String(), symbol.Scale)
	if err != nil {
		return schema.Quote{}, errors.Wrap(err, "ask price")
	}
	bidSize, err := ParseQuantity(t.BidQty.String(), symbol.Scale)
	if err != nil {
		return schema.Quote{}, errors.Wrap(err, "bid qty")
	}
	askSize, err := ParseQuantity(t.AskQty.String(), symbol.Scale)
	if err != nil {
		return schema.Quote{}, errors.Wrap(err, "ask qty")
	}
	return schema.Quote{
		SymbolID: symbol.ID,
		BidPrice: bid,
		BidSize:  bidSize,
		AskPrice: ask,
		AskSize:  askSize,
		TsNano:   time.Now().UnixNano(),
	}, nil
}

func normalizeTrade(symbol schema.Symbol, t binanceTrade) (schema.TradePrint, error) {
	price, err := ParsePrice(t.Price.String(), symbol.Scale)
	if err != nil {
		return schema.TradePrint{}, errors.Wrap(err, "trade price")
	}
	qty, err := ParseQuantity(t.Qty.String(), symbol.Scale)
	if err != nil {
		return schema.TradePrint{}, errors.Wrap(err, "trade qty")
	}
	// buyer-is-maker means the sell side aggressed
	aggressor := schema.OrderSideBuy
	if t.IsBuyerMaker {
		aggressor = schema.OrderSideSell
	}
	return schema.TradePrint{
		SymbolID:  symbol.ID,
		Price:     price,
		Qty:       qty,
		Aggressor: aggressor,
		TsNano:    t.TradeTime * int64(time.Millisecond),
	}, nil
}
