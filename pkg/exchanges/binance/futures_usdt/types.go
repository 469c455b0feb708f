package futures_usdt

import (
	"encoding/json"
	"fmt"
	"strconv"

	"webhook-trader/pkg/exchanges/common"
	"webhook-trader/pkg/precision"
)

// OrderRequest is one POST /fapi/v1/order. Quantity and StopPrice are
// pre-formatted to the symbol's precision.
type OrderRequest struct {
	Symbol        string
	Side          common.Side
	Type          common.OrderType
	Quantity      string
	StopPrice     string
	WorkingType   string // MARK_PRICE or CONTRACT_PRICE
	ClosePosition bool
	ReduceOnly    bool
	PositionSide  string
	ClientID      string
}

type OrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	ClosePosition bool   `json:"closePosition"`
}

type OpenOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	ExecQty       string `json:"executedQty"`
	Status        string `json:"status"`
	PositionSide  string `json:"positionSide"`
	ReduceOnly    bool   `json:"reduceOnly"`
	ClosePosition bool   `json:"closePosition"`
	Time          int64  `json:"time"`
}

// Common converts to the venue-neutral view.
func (o OpenOrder) Common() common.OpenOrder {
	return common.OpenOrder{
		Symbol:        o.Symbol,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Side:          common.Side(o.Side),
		Type:          common.OrderType(o.Type),
		Status:        o.Status,
		Price:         parseFloat(o.Price),
		StopPrice:     parseFloat(o.StopPrice),
		OrigQty:       parseFloat(o.OrigQty),
		ExecutedQty:   parseFloat(o.ExecQty),
		ReduceOnly:    o.ReduceOnly,
		ClosePosition: o.ClosePosition,
		Time:          o.Time,
	}
}

type FuturesAccountInfo struct {
	CanTrade   bool  `json:"canTrade"`
	UpdateTime int64 `json:"updateTime"`
	Assets     []struct {
		Asset            string `json:"asset"`
		WalletBalance    string `json:"walletBalance"`
		AvailableBalance string `json:"availableBalance"`
		UnrealizedProfit string `json:"unrealizedProfit"`
	} `json:"assets"`
}

// AssetBalance returns the wallet balance of one asset, or false when the
// account holds none of it.
func (a *FuturesAccountInfo) AssetBalance(asset string) (float64, bool) {
	for _, as := range a.Assets {
		if as.Asset == asset {
			return parseFloat(as.WalletBalance), true
		}
	}
	return 0, false
}

type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	UpdateTime       int64  `json:"updateTime"`
}

// Common converts to the venue-neutral view.
func (p PositionRisk) Common() common.Position {
	lev, _ := strconv.Atoi(p.Leverage)
	return common.Position{
		Symbol:           p.Symbol,
		PositionSide:     p.PositionSide,
		PositionAmt:      parseFloat(p.PositionAmt),
		EntryPrice:       parseFloat(p.EntryPrice),
		MarkPrice:        parseFloat(p.MarkPrice),
		UnrealizedProfit: parseFloat(p.UnRealizedProfit),
		Leverage:         lev,
		UpdateTime:       p.UpdateTime,
	}
}

type ExchangeInfo struct {
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

type SymbolInfo struct {
	Symbol       string             `json:"symbol"`
	Status       string             `json:"status"`
	ContractType string             `json:"contractType"`
	MarginAsset  string             `json:"marginAsset"`
	Filters      []precision.Filter `json:"filters"`
}

// Symbol finds a symbol's entry.
func (e *ExchangeInfo) Symbol(symbol string) (SymbolInfo, bool) {
	for _, s := range e.Symbols {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return SymbolInfo{}, false
}

// Metadata derives the trading constraints from the filters.
func (s SymbolInfo) Metadata() common.SymbolMetadata {
	return precision.Metadata(s.Symbol, s.Filters)
}

// UserDataEvent is the envelope of every user-data stream message.
type UserDataEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

const EventOrderTradeUpdate = "ORDER_TRADE_UPDATE"

type orderTradeUpdate struct {
	EventTime int64 `json:"E"`
	Order     struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		Type          string `json:"o"`
		OrigType      string `json:"ot"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		LastQty       string `json:"l"`
		CumQty        string `json:"z"`
		LastPrice     string `json:"L"`
		StopPrice     string `json:"sp"`
		ReduceOnly    bool   `json:"R"`
		ClosePosition bool   `json:"cp"`
	} `json:"o"`
}

// ParseOrderTradeUpdate decodes an ORDER_TRADE_UPDATE message. ok is false
// for any other event type.
func ParseOrderTradeUpdate(msg []byte) (common.OrderEvent, bool, error) {
	var env UserDataEvent
	if err := json.Unmarshal(msg, &env); err != nil {
		return common.OrderEvent{}, false, fmt.Errorf("decode user data event: %w", err)
	}
	if env.EventType != EventOrderTradeUpdate {
		return common.OrderEvent{}, false, nil
	}
	var raw orderTradeUpdate
	if err := json.Unmarshal(msg, &raw); err != nil {
		return common.OrderEvent{}, false, fmt.Errorf("decode order update: %w", err)
	}
	o := raw.Order
	typ := o.Type
	// Triggered stops report MARKET in "o"; "ot" keeps the placed type.
	if o.OrigType != "" {
		typ = o.OrigType
	}
	return common.OrderEvent{
		Symbol:        o.Symbol,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Side:          common.Side(o.Side),
		Type:          common.OrderType(typ),
		Status:        common.OrderStatus(o.Status),
		LastQty:       parseFloat(o.LastQty),
		CumQty:        parseFloat(o.CumQty),
		LastPrice:     parseFloat(o.LastPrice),
		ReduceOnly:    o.ReduceOnly,
		ClosePosition: o.ClosePosition,
		EventTime:     raw.EventTime,
	}, true, nil
}
