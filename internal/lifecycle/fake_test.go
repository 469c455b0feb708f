package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"webhook-trader/internal/store"
	exchange "webhook-trader/pkg/exchanges/common"
)

// fakeGateway is an in-memory Gateway that records every mutating call.
type fakeGateway struct {
	mu        sync.Mutex
	balance   float64
	meta      map[string]exchange.SymbolMetadata
	orders    []exchange.OpenOrder
	positions []exchange.Position
	nextID    int64

	calls     []string
	entries   []exchange.EntryOrder
	closing   []exchange.ClosingOrder
	cancelled []int64
	leverage  map[string]int
	watched   map[string]bool

	openOrdersErr error
	placeErr      error
	onEvent       func(exchange.OrderEvent)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		balance: 10000,
		meta: map[string]exchange.SymbolMetadata{
			"BTCUSDT": {Symbol: "BTCUSDT", StepSize: 0.001, MinQty: 0.001, MaxQty: 1000, TickSize: 0.1, MinPrice: 0.1, MaxPrice: 1000000},
			"ETHUSDT": {Symbol: "ETHUSDT", StepSize: 0.001, MinQty: 0.001, MaxQty: 10000, TickSize: 0.01, MinPrice: 0.01, MaxPrice: 1000000},
		},
		nextID:   1000,
		leverage: make(map[string]int),
		watched:  make(map[string]bool),
	}
}

func (f *fakeGateway) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeGateway) GetBalance(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeGateway) GetOpenOrders(context.Context) ([]exchange.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openOrdersErr != nil {
		return nil, f.openOrdersErr
	}
	return append([]exchange.OpenOrder(nil), f.orders...), nil
}

func (f *fakeGateway) GetPositions(context.Context) ([]exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.Position(nil), f.positions...), nil
}

func (f *fakeGateway) GetSymbolMetadata(_ context.Context, symbol string) (exchange.SymbolMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	md, ok := f.meta[symbol]
	if !ok {
		return exchange.SymbolMetadata{}, fmt.Errorf("%s: %w", symbol, exchange.ErrSymbolUnknown)
	}
	return md, nil
}

func (f *fakeGateway) PlaceEntryOrder(_ context.Context, o exchange.EntryOrder) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("entry " + o.Symbol)
	if f.placeErr != nil {
		return 0, f.placeErr
	}
	f.nextID++
	stop, _ := strconv.ParseFloat(o.StopPrice, 64)
	qty, _ := strconv.ParseFloat(o.Quantity, 64)
	f.entries = append(f.entries, o)
	f.orders = append(f.orders, exchange.OpenOrder{
		Symbol: o.Symbol, OrderID: f.nextID, Side: o.Side, Type: exchange.OrderTypeStopMarket,
		Status: "NEW", StopPrice: stop, OrigQty: qty,
	})
	return f.nextID, nil
}

func (f *fakeGateway) PlaceClosingOrder(_ context.Context, o exchange.ClosingOrder) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("closing " + o.Role.String())
	if f.placeErr != nil {
		return 0, f.placeErr
	}
	f.nextID++
	typ := exchange.OrderTypeStopMarket
	if o.Role == exchange.RoleTakeProfit {
		typ = exchange.OrderTypeTakeProfitMarket
	}
	stop, _ := strconv.ParseFloat(o.StopPrice, 64)
	f.closing = append(f.closing, o)
	f.orders = append(f.orders, exchange.OpenOrder{
		Symbol: o.Symbol, OrderID: f.nextID, Side: o.Side, Type: typ,
		Status: "NEW", StopPrice: stop, ClosePosition: o.ClosePosition,
	})
	return f.nextID, nil
}

func (f *fakeGateway) CancelOrder(_ context.Context, symbol string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("cancel %d", orderID))
	for i, o := range f.orders {
		if o.Symbol == symbol && o.OrderID == orderID {
			f.orders = append(f.orders[:i], f.orders[i+1:]...)
			f.cancelled = append(f.cancelled, orderID)
			return nil
		}
	}
	return fmt.Errorf("cancel %d: %w", orderID, exchange.ErrOrderNotFound)
}

func (f *fakeGateway) SetLeverage(_ context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("leverage " + symbol)
	f.leverage[symbol] = leverage
	return nil
}

func (f *fakeGateway) SubscribeOrderEvents(fn func(exchange.OrderEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEvent = fn
}

func (f *fakeGateway) SubscribePriceTicks(symbol string, _ func(exchange.PriceTick)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched[symbol] = true
	return nil
}

func (f *fakeGateway) UnsubscribePriceTicks(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.watched, symbol)
}

// fill removes an order from the book and returns the FILLED event for it.
func (f *fakeGateway) fill(orderID int64, qty, price float64) exchange.OrderEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, o := range f.orders {
		if o.OrderID != orderID {
			continue
		}
		f.orders = append(f.orders[:i], f.orders[i+1:]...)
		if o.Role() == exchange.RoleEntry {
			amt := qty
			if o.Side == exchange.SideSell {
				amt = -qty
			}
			f.positions = append(f.positions, exchange.Position{Symbol: o.Symbol, PositionAmt: amt, EntryPrice: price})
		} else {
			f.positions = nil
		}
		return exchange.OrderEvent{
			Symbol: o.Symbol, OrderID: o.OrderID, Side: o.Side, Type: o.Type, Status: exchange.StatusFilled,
			LastQty: qty, CumQty: qty, LastPrice: price, ReduceOnly: o.ReduceOnly, ClosePosition: o.ClosePosition,
		}
	}
	panic(fmt.Sprintf("fill: no order %d", orderID))
}

func (f *fakeGateway) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeGateway) cancelledIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.cancelled...)
}

func (f *fakeGateway) isWatched(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watched[symbol]
}

// flakyStore fails every Set while failing is true.
type flakyStore struct {
	store.Store
	mu      sync.Mutex
	failing bool
	sets    int
}

var errStoreDown = errors.New("store down")

func (s *flakyStore) Set(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	s.sets++
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return errStoreDown
	}
	return s.Store.Set(ctx, key, value)
}

// ctxStore fails writes on a done context, as a database driver would.
type ctxStore struct {
	store.Store
}

func (s ctxStore) Set(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.Set(ctx, key, value)
}
