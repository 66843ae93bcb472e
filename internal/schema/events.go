package schema

// EventKind is the variant tag of an Event.
type EventKind uint16

const (
	EventUnknown EventKind = iota
	EventOrder
	EventTrade
	EventRiskBlocked
	EventStatus
	EventDiag
)

func (k EventKind) String() string {
	switch k {
	case EventOrder:
		return "order_event"
	case EventTrade:
		return "trade"
	case EventRiskBlocked:
		return "risk_blocked"
	case EventStatus:
		return "status"
	case EventDiag:
		return "diag"
	default:
		return "unknown"
	}
}

// Event is the tagged union passed through the in-memory bus. Exactly the
// payload matching Kind is set; the rest are nil.
type Event struct {
	Kind   EventKind
	TsNano int64

	Order       *OrderEvent
	Trade       *TradeEvent
	RiskBlocked *RiskBlockedEvent
	Status      *StatusEvent
	Diag        *DiagEvent
}

// OrderEvent records an order lifecycle transition.
type OrderEvent struct {
	OrderID     uint64      `json:"orderId"`
	SymbolID    SymbolID    `json:"symbolId"`
	Symbol      string      `json:"symbol"`
	Side        OrderSide   `json:"side"`
	Type        OrderType   `json:"type"`
	Status      OrderStatus `json:"status"`
	Price       Price       `json:"price"`
	Qty         Quantity    `json:"qty"`
	ExecutedQty Quantity    `json:"executedQty"`
	Reason      string      `json:"reason,omitempty"`
}

// TradeEvent records one of our fills with its realized PnL contribution.
type TradeEvent struct {
	OrderID     uint64    `json:"orderId"`
	SymbolID    SymbolID  `json:"symbolId"`
	Symbol      string    `json:"symbol"`
	Side        OrderSide `json:"side"`
	Price       Price     `json:"price"`
	Qty         Quantity  `json:"qty"`
	Fee         Fee       `json:"fee"`
	Liquidity   Liquidity `json:"liquidity"`
	RealizedPnl Notional  `json:"realizedPnl"`
}

// RiskBlockedEvent records a placement suppressed by the risk gate.
type RiskBlockedEvent struct {
	SymbolID SymbolID  `json:"symbolId"`
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Reason   string    `json:"reason"`
}

// StatusEvent is the periodic strategy report.
type StatusEvent struct {
	Running       bool     `json:"running"`
	Symbol        string   `json:"symbol"`
	PositionQty   Quantity `json:"positionQty"`
	AvgEntryPrice Price    `json:"avgEntryPrice"`
	RealizedPnl   Notional `json:"realizedPnl"`
	Equity        Notional `json:"equity"`
	RiskLocked    bool     `json:"riskLocked"`
	RiskReason    string   `json:"riskReason,omitempty"`
	OrdersActive  int      `json:"ordersActive"`
	OrdersFilled  int      `json:"ordersFilled"`
}

// DiagEvent is a human readable diagnostic line.
type DiagEvent struct {
	Text string `json:"text"`
}

// NewOrderEvent wraps an order payload.
func NewOrderEvent(ts int64, payload OrderEvent) Event {
	return Event{Kind: EventOrder, TsNano: ts, Order: &payload}
}

// NewTradeEvent wraps a trade payload.
func NewTradeEvent(ts int64, payload TradeEvent) Event {
	return Event{Kind: EventTrade, TsNano: ts, Trade: &payload}
}

// NewRiskBlockedEvent wraps a risk-blocked payload.
func NewRiskBlockedEvent(ts int64, payload RiskBlockedEvent) Event {
	return Event{Kind: EventRiskBlocked, TsNano: ts, RiskBlocked: &payload}
}

// NewStatusEvent wraps a status payload.
func NewStatusEvent(ts int64, payload StatusEvent) Event {
	return Event{Kind: EventStatus, TsNano: ts, Status: &payload}
}

// NewDiagEvent wraps a diagnostic line.
func NewDiagEvent(ts int64, text string) Event {
	return Event{Kind: EventDiag, TsNano: ts, Diag: &DiagEvent{Text: text}}
}
