package gateway

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"webhook-trader/pkg/cache"
	exchange "webhook-trader/pkg/exchanges/common"
	"webhook-trader/pkg/precision"
)

// MarketSource supplies symbol filters and live prices to the paper venue.
// *Binance satisfies it using only public endpoints.
type MarketSource interface {
	GetSymbolMetadata(ctx context.Context, symbol string) (exchange.SymbolMetadata, error)
	SubscribePriceTicks(symbol string, fn func(exchange.PriceTick)) error
	UnsubscribePriceTicks(symbol string)
}

// PaperConfig seeds the simulated account.
type PaperConfig struct {
	Asset          string
	InitialBalance float64
}

// Paper is an in-memory futures venue for dry runs. Stop entries and closing
// legs trigger against injected or streamed prices and report through the
// same callbacks as the live adapter.
type Paper struct {
	cfg    PaperConfig
	source MarketSource

	mu        sync.Mutex
	balance   float64
	nextID    int64
	orders    map[int64]*exchange.OpenOrder
	positions map[string]*exchange.Position
	leverage  map[string]int
	prices    *cache.Prices
	watchers  map[string]func(exchange.PriceTick)
	handlers  []func(exchange.OrderEvent)
}

// NewPaper creates the simulated venue. source may be nil, in which case
// every symbol gets default filters and prices only arrive via InjectPrice.
func NewPaper(cfg PaperConfig, source MarketSource) *Paper {
	if cfg.Asset == "" {
		cfg.Asset = "USDT"
	}
	return &Paper{
		cfg:       cfg,
		source:    source,
		balance:   cfg.InitialBalance,
		orders:    make(map[int64]*exchange.OpenOrder),
		positions: make(map[string]*exchange.Position),
		leverage:  make(map[string]int),
		prices:    cache.NewPrices(),
		watchers:  make(map[string]func(exchange.PriceTick)),
	}
}

func (p *Paper) GetBalance(_ context.Context, asset string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if asset != p.cfg.Asset {
		return 0, nil
	}
	return p.balance, nil
}

func (p *Paper) GetOpenOrders(_ context.Context) ([]exchange.OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]exchange.OpenOrder, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (p *Paper) GetPositions(_ context.Context) ([]exchange.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]exchange.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		if pos.PositionAmt != 0 {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (p *Paper) GetSymbolMetadata(ctx context.Context, symbol string) (exchange.SymbolMetadata, error) {
	if p.source != nil {
		return p.source.GetSymbolMetadata(ctx, symbol)
	}
	return precision.Metadata(symbol, nil), nil
}

func (p *Paper) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("paper: invalid leverage %d", leverage)
	}
	p.mu.Lock()
	p.leverage[symbol] = leverage
	p.mu.Unlock()
	return nil
}

func (p *Paper) PlaceEntryOrder(_ context.Context, o exchange.EntryOrder) (int64, error) {
	qty, err := strconv.ParseFloat(o.Quantity, 64)
	if err != nil || qty <= 0 {
		return 0, fmt.Errorf("paper: invalid quantity %q", o.Quantity)
	}
	stop, err := strconv.ParseFloat(o.StopPrice, 64)
	if err != nil || stop <= 0 {
		return 0, fmt.Errorf("paper: invalid stop price %q", o.StopPrice)
	}
	return p.add(exchange.OpenOrder{
		Symbol:    o.Symbol,
		Side:      o.Side,
		Type:      exchange.OrderTypeStopMarket,
		StopPrice: stop,
		OrigQty:   qty,
	}), nil
}

func (p *Paper) PlaceClosingOrder(_ context.Context, o exchange.ClosingOrder) (int64, error) {
	stop, err := strconv.ParseFloat(o.StopPrice, 64)
	if err != nil || stop <= 0 {
		return 0, fmt.Errorf("paper: invalid stop price %q", o.StopPrice)
	}
	qty, _ := strconv.ParseFloat(o.Quantity, 64)
	typ := exchange.OrderTypeStopMarket
	if o.Role == exchange.RoleTakeProfit {
		typ = exchange.OrderTypeTakeProfitMarket
	}
	return p.add(exchange.OpenOrder{
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          typ,
		StopPrice:     stop,
		OrigQty:       qty,
		ClosePosition: o.ClosePosition,
		ReduceOnly:    !o.ClosePosition,
	}), nil
}

func (p *Paper) add(o exchange.OpenOrder) int64 {
	p.mu.Lock()
	p.nextID++
	o.OrderID = p.nextID
	o.ClientOrderID = uuid.NewString()
	o.Status = string(exchange.StatusNew)
	o.Time = time.Now().UnixMilli()
	p.orders[o.OrderID] = &o
	handlers := p.handlersLocked()
	p.mu.Unlock()

	log.Printf("📝 DRY-RUN: %s %s %s stop=%v qty=%v id=%d", o.Type, o.Side, o.Symbol, o.StopPrice, o.OrigQty, o.OrderID)
	emit(handlers, eventFor(o, exchange.StatusNew, 0, 0))
	return o.OrderID
}

func (p *Paper) CancelOrder(_ context.Context, symbol string, orderID int64) error {
	p.mu.Lock()
	o, ok := p.orders[orderID]
	if !ok || o.Symbol != symbol {
		p.mu.Unlock()
		return fmt.Errorf("paper cancel %s/%d: %w", symbol, orderID, exchange.ErrOrderNotFound)
	}
	delete(p.orders, orderID)
	handlers := p.handlersLocked()
	p.mu.Unlock()

	emit(handlers, eventFor(*o, exchange.StatusCanceled, 0, 0))
	return nil
}

func (p *Paper) SubscribeOrderEvents(fn func(exchange.OrderEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, fn)
}

// SubscribePriceTicks registers fn for symbol and, with a market source,
// starts streaming its live price. Subscribing twice is a no-op.
func (p *Paper) SubscribePriceTicks(symbol string, fn func(exchange.PriceTick)) error {
	p.mu.Lock()
	if _, ok := p.watchers[symbol]; ok {
		p.mu.Unlock()
		return nil
	}
	p.watchers[symbol] = fn
	p.mu.Unlock()

	if p.source != nil {
		return p.source.SubscribePriceTicks(symbol, func(t exchange.PriceTick) {
			p.InjectPrice(t.Symbol, t.Price)
		})
	}
	return nil
}

func (p *Paper) UnsubscribePriceTicks(symbol string) {
	p.mu.Lock()
	_, ok := p.watchers[symbol]
	delete(p.watchers, symbol)
	p.prices.Delete(symbol)
	p.mu.Unlock()
	if ok && p.source != nil {
		p.source.UnsubscribePriceTicks(symbol)
	}
}

// LastPrice returns the latest injected or streamed price of a watched symbol.
func (p *Paper) LastPrice(symbol string) (float64, bool) {
	return p.prices.Get(symbol)
}

// Prices returns the cache of watched symbols' last prices.
func (p *Paper) Prices() *cache.Prices {
	return p.prices
}

// InjectPrice moves the simulated market: triggered orders fill first, then
// the tick is passed to the symbol's watcher, if any.
func (p *Paper) InjectPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	watcher, watched := p.watchers[symbol]
	if watched {
		p.prices.Set(symbol, price, time.Time{})
	}

	ids := make([]int64, 0)
	for id, o := range p.orders {
		if o.Symbol == symbol && triggered(*o, price) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var fills []exchange.OrderEvent
	for _, id := range ids {
		o, ok := p.orders[id]
		if !ok {
			continue
		}
		delete(p.orders, id)
		qty := p.fillLocked(*o, price)
		if qty == 0 {
			// closing leg with nothing to close
			fills = append(fills, eventFor(*o, exchange.StatusExpired, 0, 0))
			continue
		}
		fills = append(fills, eventFor(*o, exchange.StatusFilled, qty, price))
	}
	handlers := p.handlersLocked()
	p.mu.Unlock()

	for _, ev := range fills {
		emit(handlers, ev)
	}
	if watched {
		watcher(exchange.PriceTick{Symbol: symbol, Price: price, Time: time.Now().UnixMilli()})
	}
}

// fillLocked applies a fill to the position and balance and returns the
// filled quantity.
func (p *Paper) fillLocked(o exchange.OpenOrder, price float64) float64 {
	pos := p.positions[o.Symbol]
	if pos == nil {
		pos = &exchange.Position{Symbol: o.Symbol, PositionSide: "BOTH"}
		p.positions[o.Symbol] = pos
	}
	pos.Leverage = p.leverage[o.Symbol]
	pos.MarkPrice = price
	pos.UpdateTime = time.Now().UnixMilli()

	qty := o.OrigQty
	if o.ClosePosition {
		qty = math.Abs(pos.PositionAmt)
	}
	if o.ReduceOnly && qty > math.Abs(pos.PositionAmt) {
		qty = math.Abs(pos.PositionAmt)
	}
	if qty == 0 {
		if pos.PositionAmt == 0 {
			delete(p.positions, o.Symbol)
		}
		return 0
	}

	signed := qty
	if o.Side == exchange.SideSell {
		signed = -qty
	}

	closing := pos.PositionAmt != 0 && (pos.PositionAmt > 0) != (signed > 0)
	if closing {
		pnl := (price - pos.EntryPrice) * -signed
		p.balance += pnl
		pos.PositionAmt += signed
		if pos.PositionAmt == 0 {
			delete(p.positions, o.Symbol)
		}
		log.Printf("💰 DRY-RUN: %s closed %v @ %v pnl=%.4f balance=%.4f", o.Symbol, qty, price, pnl, p.balance)
		return qty
	}

	notional := math.Abs(pos.PositionAmt)*pos.EntryPrice + qty*price
	pos.PositionAmt += signed
	pos.EntryPrice = notional / math.Abs(pos.PositionAmt)
	log.Printf("💰 DRY-RUN: %s opened %v @ %v amt=%v", o.Symbol, qty, price, pos.PositionAmt)
	return qty
}

func (p *Paper) handlersLocked() []func(exchange.OrderEvent) {
	return append([]func(exchange.OrderEvent){}, p.handlers...)
}

// triggered reports whether a stop-style order fires at price. STOP_MARKET
// buys and TAKE_PROFIT_MARKET sells fire at or above the stop; the mirror
// pair fires at or below it.
func triggered(o exchange.OpenOrder, price float64) bool {
	up := (o.Type == exchange.OrderTypeStopMarket) == (o.Side == exchange.SideBuy)
	if up {
		return price >= o.StopPrice
	}
	return price <= o.StopPrice
}

func eventFor(o exchange.OpenOrder, status exchange.OrderStatus, qty, price float64) exchange.OrderEvent {
	return exchange.OrderEvent{
		Symbol:        o.Symbol,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Side:          o.Side,
		Type:          o.Type,
		Status:        status,
		LastQty:       qty,
		CumQty:        qty,
		LastPrice:     price,
		ReduceOnly:    o.ReduceOnly,
		ClosePosition: o.ClosePosition,
		EventTime:     time.Now().UnixMilli(),
	}
}

func emit(handlers []func(exchange.OrderEvent), ev exchange.OrderEvent) {
	for _, h := range handlers {
		h(ev)
	}
}
