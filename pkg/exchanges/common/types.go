package common

import "strings"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes a textual side; ok is false for anything but BUY/SELL.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	default:
		return "", false
	}
}

// Opposite returns SELL for BUY and BUY for SELL.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the futures order types this service places.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderStatus is the raw futures order status.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// OrderRole tags what an order does for its trade.
type OrderRole int

const (
	RoleEntry OrderRole = iota
	RoleStopLoss
	RoleTakeProfit
)

func (r OrderRole) String() string {
	switch r {
	case RoleEntry:
		return "entry"
	case RoleStopLoss:
		return "stop_loss"
	case RoleTakeProfit:
		return "take_profit"
	default:
		return "unknown"
	}
}

// Closing is true for the SL and TP legs.
func (r OrderRole) Closing() bool {
	return r == RoleStopLoss || r == RoleTakeProfit
}

// OpenOrder mirrors an exchange open order.
type OpenOrder struct {
	Symbol        string    `json:"symbol"`
	OrderID       int64     `json:"orderId"`
	ClientOrderID string    `json:"clientOrderId,omitempty"`
	Side          Side      `json:"side"`
	Type          OrderType `json:"type"`
	Status        string    `json:"status"`
	Price         float64   `json:"price"`
	StopPrice     float64   `json:"stopPrice"`
	OrigQty       float64   `json:"origQty"`
	ExecutedQty   float64   `json:"executedQty"`
	ReduceOnly    bool      `json:"reduceOnly"`
	ClosePosition bool      `json:"closePosition"`
	Time          int64     `json:"time"`
}

// Role derives the order's role from its close/reduce flags and type.
func (o OpenOrder) Role() OrderRole {
	if !o.ClosePosition && !o.ReduceOnly {
		return RoleEntry
	}
	if o.Type == OrderTypeTakeProfitMarket {
		return RoleTakeProfit
	}
	return RoleStopLoss
}

// Position mirrors a non-zero futures position.
type Position struct {
	Symbol           string  `json:"symbol"`
	PositionSide     string  `json:"positionSide"`
	PositionAmt      float64 `json:"positionAmt"`
	EntryPrice       float64 `json:"entryPrice"`
	MarkPrice        float64 `json:"markPrice"`
	UnrealizedProfit float64 `json:"unRealizedProfit"`
	Leverage         int     `json:"leverage"`
	UpdateTime       int64   `json:"updateTime"`
}

// SymbolMetadata holds the per-symbol trading constraints.
type SymbolMetadata struct {
	Symbol   string  `json:"symbol"`
	StepSize float64 `json:"stepSize"`
	MinQty   float64 `json:"minQty"`
	MaxQty   float64 `json:"maxQty"`
	TickSize float64 `json:"tickSize"`
	MinPrice float64 `json:"minPrice"`
	MaxPrice float64 `json:"maxPrice"`
}

// EntryOrder is a stop-triggered market order that opens a position.
// Quantity and StopPrice are already formatted to the symbol's precision.
type EntryOrder struct {
	Symbol    string
	Side      Side
	Quantity  string
	StopPrice string
}

// ClosingOrder is an SL or TP leg. Side is the closing side, i.e. the
// opposite of the position's direction.
type ClosingOrder struct {
	Symbol        string
	Side          Side
	Role          OrderRole
	Quantity      string
	StopPrice     string
	ClosePosition bool
}

// OrderEvent is one order update from the user-data push feed.
type OrderEvent struct {
	Symbol        string      `json:"symbol"`
	OrderID       int64       `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId,omitempty"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	Status        OrderStatus `json:"status"`
	LastQty       float64     `json:"lastQty"`
	CumQty        float64     `json:"cumQty"`
	LastPrice     float64     `json:"lastPrice"`
	ReduceOnly    bool        `json:"reduceOnly"`
	ClosePosition bool        `json:"closePosition"`
	EventTime     int64       `json:"eventTime"`
}

// FilledQty prefers the cumulative fill over the last trade's quantity.
func (e OrderEvent) FilledQty() float64 {
	if e.CumQty > 0 {
		return e.CumQty
	}
	return e.LastQty
}

// PriceTick is one mark-price update for a symbol.
type PriceTick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Time   int64   `json:"time"`
}
