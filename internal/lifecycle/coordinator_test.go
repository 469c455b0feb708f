package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"webhook-trader/internal/events"
	"webhook-trader/internal/store"
	exchange "webhook-trader/pkg/exchanges/common"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCoordinator(t *testing.T, st store.Store, cfg Config) (*Coordinator, *fakeGateway) {
	t.Helper()
	gw := newFakeGateway()
	if st == nil {
		st = store.NewMemory()
	}
	cfg.PersistBackoff = time.Millisecond
	c := New(gw, st, cfg, WithClock(func() time.Time { return testNow }))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c, gw
}

func buySignal() Signal {
	return Signal{Symbol: "btcusdt", Direction: "buy", Low: 100, High: 110}
}

func storedCorrelations(t *testing.T, st store.Store) []RequestedOrder {
	t.Helper()
	var list []RequestedOrder
	if _, err := st.Get(context.Background(), CorrelationKey, &list); err != nil {
		t.Fatalf("load correlations: %v", err)
	}
	return list
}

func TestProcessSignalSizesAndPlacesEntry(t *testing.T) {
	st := store.NewMemory()
	c, gw := newTestCoordinator(t, st, Config{MaxPositionPercentage: 2})

	p, err := c.ProcessSignal(context.Background(), buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	if p.Quantity != "20.000" {
		t.Fatalf("quantity = %s, want 20.000", p.Quantity)
	}
	if p.StopPrice != "110.0" {
		t.Fatalf("stop price = %s, want 110.0", p.StopPrice)
	}
	if p.Leverage != 1 || gw.leverage["BTCUSDT"] != 1 {
		t.Fatalf("leverage = %d (gateway %d), want 1", p.Leverage, gw.leverage["BTCUSDT"])
	}
	if len(gw.entries) != 1 || gw.entries[0].Side != exchange.SideBuy {
		t.Fatalf("entries = %+v", gw.entries)
	}

	calls := gw.callLog()
	if len(calls) != 2 || calls[0] != "leverage BTCUSDT" || calls[1] != "entry BTCUSDT" {
		t.Fatalf("calls = %v, want leverage before entry", calls)
	}

	corrs := storedCorrelations(t, st)
	if len(corrs) != 1 {
		t.Fatalf("correlations = %d, want 1", len(corrs))
	}
	r := corrs[0]
	if r.OrderID != p.OrderID || r.Symbol != "BTCUSDT" || r.Direction != exchange.SideBuy ||
		r.Low != 100 || r.High != 110 || !r.RequestTime.Equal(testNow) {
		t.Fatalf("correlation = %+v", r)
	}

	snap := c.Snapshot()
	if len(snap.OpenOrders) != 1 || len(snap.RequestedOrders) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !gw.isWatched("BTCUSDT") {
		t.Fatal("BTCUSDT should be watched after placement")
	}
}

func TestProcessSignalSellUsesLowEdge(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{})

	p, err := c.ProcessSignal(context.Background(), Signal{Symbol: "ETHUSDT", Direction: exchange.SideSell, Low: 2000, High: 2100})
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	if p.StopPrice != "2000.00" {
		t.Fatalf("stop price = %s, want 2000.00", p.StopPrice)
	}
	if p.Quantity != "2.000" {
		t.Fatalf("quantity = %s, want 2.000", p.Quantity)
	}
	if gw.entries[0].Side != exchange.SideSell {
		t.Fatalf("side = %s", gw.entries[0].Side)
	}
}

func TestProcessSignalRejections(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		setup  func(*fakeGateway)
		sig    Signal
		want   error
		reason string
	}{
		{
			name:   "invalid band",
			sig:    Signal{Symbol: "BTCUSDT", Direction: exchange.SideBuy, Low: 110, High: 100},
			want:   ErrInvalidSignal,
			reason: "invalid_signal",
		},
		{
			name:   "bad direction",
			sig:    Signal{Symbol: "BTCUSDT", Direction: "HOLD", Low: 100, High: 110},
			want:   ErrInvalidSignal,
			reason: "invalid_signal",
		},
		{
			name:   "unknown symbol",
			sig:    Signal{Symbol: "NOPEUSDT", Direction: exchange.SideBuy, Low: 100, High: 110},
			want:   ErrSymbolUnknown,
			reason: "symbol_unknown",
		},
		{
			name:   "no balance",
			setup:  func(gw *fakeGateway) { gw.balance = 0 },
			sig:    buySignal(),
			want:   ErrInsufficientBalance,
			reason: "insufficient_balance",
		},
		{
			name:   "quantity above max",
			setup:  func(gw *fakeGateway) { gw.balance = 1e9 },
			sig:    buySignal(),
			want:   ErrQuantityOutOfRange,
			reason: "quantity_out_of_range",
		},
		{
			name:   "quantity rounds to zero",
			setup:  func(gw *fakeGateway) { gw.balance = 0.01 },
			sig:    buySignal(),
			want:   ErrQuantityOutOfRange,
			reason: "quantity_out_of_range",
		},
		{
			name:   "price above max",
			sig:    Signal{Symbol: "BTCUSDT", Direction: exchange.SideBuy, Low: 1999990, High: 2000000},
			setup:  func(gw *fakeGateway) { gw.balance = 100 },
			want:   ErrPriceOutOfRange,
			reason: "price_out_of_range",
		},
		{
			name:   "leverage exceeded",
			cfg:    Config{MaxLeverage: 2},
			sig:    Signal{Symbol: "BTCUSDT", Direction: exchange.SideBuy, Low: 100, High: 101},
			want:   ErrLeverageExceeded,
			reason: "leverage_exceeded",
		},
		{
			name:   "gateway down",
			setup:  func(gw *fakeGateway) { gw.placeErr = errors.New("connection reset") },
			sig:    buySignal(),
			want:   ErrGatewayUnavailable,
			reason: "gateway_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, gw := newTestCoordinator(t, nil, tt.cfg)
			if tt.setup != nil {
				tt.setup(gw)
			}
			_, err := c.ProcessSignal(context.Background(), tt.sig)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got := Reason(err); got != tt.reason {
				t.Fatalf("Reason = %q, want %q", got, tt.reason)
			}
			if len(gw.entries) != 0 {
				t.Fatalf("no entry should be placed, got %+v", gw.entries)
			}
			if len(c.Snapshot().RequestedOrders) != 0 {
				t.Fatal("rejected signal left a correlation")
			}
		})
	}
}

func TestLeverageCheckedBeforeAnyExchangeMutation(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{MaxLeverage: 2})
	_, err := c.ProcessSignal(context.Background(), Signal{Symbol: "BTCUSDT", Direction: exchange.SideBuy, Low: 100, High: 101})
	if !errors.Is(err, ErrLeverageExceeded) {
		t.Fatalf("err = %v", err)
	}
	if calls := gw.callLog(); len(calls) != 0 {
		t.Fatalf("calls = %v, want none", calls)
	}
}

func TestDuplicateSymbolRejected(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{})
	ctx := context.Background()

	if _, err := c.ProcessSignal(ctx, buySignal()); err != nil {
		t.Fatalf("first signal: %v", err)
	}
	_, err := c.ProcessSignal(ctx, Signal{Symbol: "BTCUSDT", Direction: exchange.SideSell, Low: 90, High: 95})
	if !errors.Is(err, ErrDuplicateSymbol) {
		t.Fatalf("err = %v, want ErrDuplicateSymbol", err)
	}
	if len(gw.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(gw.entries))
	}
}

func TestDuplicateRejectedWhilePositionOpen(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{})
	gw.positions = []exchange.Position{{Symbol: "BTCUSDT", PositionAmt: 1}}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	_, err := c.ProcessSignal(context.Background(), buySignal())
	if !errors.Is(err, ErrDuplicateSymbol) {
		t.Fatalf("err = %v, want ErrDuplicateSymbol", err)
	}
}

func TestConcurrentSignalsSameSymbolPlaceOneEntry(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.ProcessSignal(context.Background(), buySignal()); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !errors.Is(err, ErrDuplicateSymbol) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 || len(gw.entries) != 1 {
		t.Fatalf("accepted=%d entries=%d, want 1 and 1", accepted, len(gw.entries))
	}
}

func TestCorrelationPersistFailureRollsBack(t *testing.T) {
	st := &flakyStore{Store: store.NewMemory(), failing: true}
	c, gw := newTestCoordinator(t, st, Config{PersistAttempts: 3})

	_, err := c.ProcessSignal(context.Background(), buySignal())
	if !errors.Is(err, ErrCorrelationLost) {
		t.Fatalf("err = %v, want ErrCorrelationLost", err)
	}
	if Reason(err) != "correlation_lost" {
		t.Fatalf("Reason = %q", Reason(err))
	}
	if st.sets != 3 {
		t.Fatalf("store writes = %d, want 3 attempts", st.sets)
	}
	if ids := gw.cancelledIDs(); len(ids) != 1 || ids[0] != 1001 {
		t.Fatalf("cancelled = %v, want the rolled-back entry", ids)
	}
	if len(c.Snapshot().OpenOrders) != 0 {
		t.Fatal("rolled-back entry still open")
	}
}

func TestPriceTickInvalidatesEntry(t *testing.T) {
	st := store.NewMemory()
	c, gw := newTestCoordinator(t, st, Config{})
	ctx := context.Background()

	p, err := c.ProcessSignal(ctx, buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}

	c.handlePriceTick(ctx, exchange.PriceTick{Symbol: "BTCUSDT", Price: 105})
	if ids := gw.cancelledIDs(); len(ids) != 0 {
		t.Fatalf("price inside band cancelled %v", ids)
	}

	c.handlePriceTick(ctx, exchange.PriceTick{Symbol: "BTCUSDT", Price: 95})
	c.handlePriceTick(ctx, exchange.PriceTick{Symbol: "BTCUSDT", Price: 94})

	ids := gw.cancelledIDs()
	if len(ids) != 1 || ids[0] != p.OrderID {
		t.Fatalf("cancelled = %v, want [%d]", ids, p.OrderID)
	}
	if corrs := storedCorrelations(t, st); len(corrs) != 0 {
		t.Fatalf("correlations = %+v, want none", corrs)
	}
	if gw.isWatched("BTCUSDT") {
		t.Fatal("BTCUSDT still watched after invalidation")
	}
}

func TestPriceTickInvalidatesSellAboveHigh(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{})
	ctx := context.Background()

	p, err := c.ProcessSignal(ctx, Signal{Symbol: "BTCUSDT", Direction: exchange.SideSell, Low: 100, High: 110})
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	c.handlePriceTick(ctx, exchange.PriceTick{Symbol: "BTCUSDT", Price: 95})
	if len(gw.cancelledIDs()) != 0 {
		t.Fatal("SELL entry cancelled by a price below the band")
	}
	c.handlePriceTick(ctx, exchange.PriceTick{Symbol: "BTCUSDT", Price: 111})
	if ids := gw.cancelledIDs(); len(ids) != 1 || ids[0] != p.OrderID {
		t.Fatalf("cancelled = %v", ids)
	}
}

func TestInvalidationAfterUnseenFillKeepsCorrelation(t *testing.T) {
	st := store.NewMemory()
	c, gw := newTestCoordinator(t, st, Config{})
	ctx := context.Background()

	p, err := c.ProcessSignal(ctx, buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	// the entry fills on the exchange; the snapshot still lists it as open
	filled := gw.fill(p.OrderID, 20, 110)

	c.handlePriceTick(ctx, exchange.PriceTick{Symbol: "BTCUSDT", Price: 95})
	if ids := gw.cancelledIDs(); len(ids) != 0 {
		t.Fatalf("cancelled = %v, want none", ids)
	}
	if corrs := storedCorrelations(t, st); len(corrs) != 1 {
		t.Fatalf("correlations = %+v, want the filled entry's record", corrs)
	}

	c.handleOrderEvent(ctx, filled)
	if len(gw.closing) != 2 {
		t.Fatalf("closing orders = %+v, want TP and SL", gw.closing)
	}
	if gw.closing[0].Quantity != "20.000" || gw.closing[1].StopPrice != "100.0" {
		t.Fatalf("closing = %+v", gw.closing)
	}
}

func TestInvalidationProtectsPartialFill(t *testing.T) {
	st := store.NewMemory()
	c, gw := newTestCoordinator(t, st, Config{})
	ctx := context.Background()

	p, err := c.ProcessSignal(ctx, buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	gw.mu.Lock()
	gw.orders[0].ExecutedQty = 5
	gw.positions = []exchange.Position{{Symbol: "BTCUSDT", PositionAmt: 5, EntryPrice: 110}}
	gw.mu.Unlock()
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	c.handlePriceTick(ctx, exchange.PriceTick{Symbol: "BTCUSDT", Price: 95})
	if ids := gw.cancelledIDs(); len(ids) != 1 || ids[0] != p.OrderID {
		t.Fatalf("cancelled = %v, want [%d]", ids, p.OrderID)
	}
	if len(gw.closing) != 2 || gw.closing[0].Quantity != "5.000" {
		t.Fatalf("closing = %+v, want a pair for the filled 5", gw.closing)
	}
	if corrs := storedCorrelations(t, st); len(corrs) != 1 {
		t.Fatalf("correlations = %+v, want it kept for the open position", corrs)
	}
}

func TestCancelledEventWithPartialFillProtects(t *testing.T) {
	st := store.NewMemory()
	c, gw := newTestCoordinator(t, st, Config{})
	ctx := context.Background()

	p, err := c.ProcessSignal(ctx, buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	gw.mu.Lock()
	gw.orders = nil
	gw.positions = []exchange.Position{{Symbol: "BTCUSDT", PositionAmt: 3, EntryPrice: 110}}
	gw.mu.Unlock()

	c.handleOrderEvent(ctx, exchange.OrderEvent{
		Symbol: "BTCUSDT", OrderID: p.OrderID, Type: exchange.OrderTypeStopMarket,
		Status: exchange.StatusCanceled, CumQty: 3,
	})
	if len(gw.closing) != 2 || gw.closing[1].Quantity != "3.000" {
		t.Fatalf("closing = %+v", gw.closing)
	}
	if corrs := storedCorrelations(t, st); len(corrs) != 1 {
		t.Fatalf("correlations = %+v, want 1", corrs)
	}
}

func TestFillAfterReprotectPlacesOnePair(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{})
	ctx := context.Background()

	p, err := c.ProcessSignal(ctx, buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	filled := gw.fill(p.OrderID, 20, 110)
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := c.Reprotect(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("Reprotect: %v", err)
	}

	// the delayed push event for the same fill
	c.handleOrderEvent(ctx, filled)
	if len(gw.closing) != 2 {
		t.Fatalf("closing legs placed = %d, want 2", len(gw.closing))
	}
}

func TestCorrelationSavedAfterRequestCancelled(t *testing.T) {
	st := ctxStore{Store: store.NewMemory()}
	c, gw := newTestCoordinator(t, st, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := c.ProcessSignal(ctx, buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	if ids := gw.cancelledIDs(); len(ids) != 0 {
		t.Fatalf("entry rolled back: %v", ids)
	}
	corrs := storedCorrelations(t, st)
	if len(corrs) != 1 || corrs[0].OrderID != p.OrderID {
		t.Fatalf("correlations = %+v", corrs)
	}
}

func TestEntryFillPlacesProtection(t *testing.T) {
	st := store.NewMemory()
	c, gw := newTestCoordinator(t, st, Config{})
	ctx := context.Background()

	p, err := c.ProcessSignal(ctx, buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	c.handleOrderEvent(ctx, gw.fill(p.OrderID, 20, 110))

	if len(gw.closing) != 2 {
		t.Fatalf("closing orders = %+v, want 2", gw.closing)
	}
	tp, sl := gw.closing[0], gw.closing[1]
	if tp.Role != exchange.RoleTakeProfit || tp.StopPrice != "130.0" {
		t.Fatalf("take profit = %+v", tp)
	}
	if sl.Role != exchange.RoleStopLoss || sl.StopPrice != "100.0" {
		t.Fatalf("stop loss = %+v", sl)
	}
	for _, o := range gw.closing {
		if o.Side != exchange.SideSell || !o.ClosePosition || o.Quantity != "20.000" {
			t.Fatalf("closing leg = %+v", o)
		}
	}

	snap := c.Snapshot()
	if len(snap.OpenOrders) != 2 || len(snap.ActivePositions) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.RequestedOrders) != 1 {
		t.Fatal("correlation should survive until the position closes")
	}
}

func TestTakeProfitFillCancelsStopLoss(t *testing.T) {
	st := store.NewMemory()
	c, gw := newTestCoordinator(t, st, Config{})
	ctx := context.Background()

	p, err := c.ProcessSignal(ctx, buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	c.handleOrderEvent(ctx, gw.fill(p.OrderID, 20, 110))

	var tpID, slID int64
	for _, o := range c.Snapshot().OpenOrders {
		switch o.Role() {
		case exchange.RoleTakeProfit:
			tpID = o.OrderID
		case exchange.RoleStopLoss:
			slID = o.OrderID
		}
	}
	if tpID == 0 || slID == 0 {
		t.Fatalf("protection legs missing: tp=%d sl=%d", tpID, slID)
	}

	c.handleOrderEvent(ctx, gw.fill(tpID, 20, 130))

	ids := gw.cancelledIDs()
	if len(ids) != 1 || ids[0] != slID {
		t.Fatalf("cancelled = %v, want [%d]", ids, slID)
	}
	if corrs := storedCorrelations(t, st); len(corrs) != 0 {
		t.Fatalf("correlations = %+v, want none", corrs)
	}
	snap := c.Snapshot()
	if len(snap.OpenOrders) != 0 || len(snap.ActivePositions) != 0 {
		t.Fatalf("snapshot = %+v, want empty", snap)
	}
	if gw.isWatched("BTCUSDT") {
		t.Fatal("BTCUSDT still watched after close")
	}
}

func TestFillWithoutCorrelationLeavesPositionAlone(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{})
	gw.orders = []exchange.OpenOrder{{Symbol: "BTCUSDT", OrderID: 77, Side: exchange.SideBuy, Type: exchange.OrderTypeStopMarket}}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	c.handleOrderEvent(context.Background(), gw.fill(77, 1, 100))
	if len(gw.closing) != 0 {
		t.Fatalf("closing orders placed for an unknown entry: %+v", gw.closing)
	}
}

func TestCancelledEntryEventDropsCorrelation(t *testing.T) {
	st := store.NewMemory()
	c, gw := newTestCoordinator(t, st, Config{})
	ctx := context.Background()

	p, err := c.ProcessSignal(ctx, buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	gw.mu.Lock()
	gw.orders = nil
	gw.mu.Unlock()

	c.handleOrderEvent(ctx, exchange.OrderEvent{
		Symbol: "BTCUSDT", OrderID: p.OrderID, Type: exchange.OrderTypeStopMarket, Status: exchange.StatusCanceled,
	})
	if corrs := storedCorrelations(t, st); len(corrs) != 0 {
		t.Fatalf("correlations = %+v, want none", corrs)
	}
}

func TestCancel(t *testing.T) {
	st := store.NewMemory()
	c, gw := newTestCoordinator(t, st, Config{})
	ctx := context.Background()

	err := c.Cancel(ctx, "BTCUSDT", 999)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
	if calls := gw.callLog(); len(calls) != 0 {
		t.Fatalf("unknown order reached the gateway: %v", calls)
	}

	p, err := c.ProcessSignal(ctx, buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	if err := c.Cancel(ctx, "BTCUSDT", p.OrderID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if corrs := storedCorrelations(t, st); len(corrs) != 0 {
		t.Fatalf("correlations = %+v, want none", corrs)
	}
	if len(c.Snapshot().OpenOrders) != 0 {
		t.Fatal("order still in snapshot")
	}

	// a new trade on the symbol is allowed once the old one is gone
	if _, err := c.ProcessSignal(ctx, buySignal()); err != nil {
		t.Fatalf("ProcessSignal after cancel: %v", err)
	}
}

func TestRefreshPrunesOrphanedCorrelations(t *testing.T) {
	st := store.NewMemory()
	old := RequestedOrder{OrderID: 1, Symbol: "ETHUSDT", Direction: exchange.SideBuy, Low: 1, High: 2, RequestTime: testNow.Add(-10 * time.Minute)}
	fresh := RequestedOrder{OrderID: 2, Symbol: "SOLUSDT", Direction: exchange.SideBuy, Low: 1, High: 2, RequestTime: testNow.Add(-30 * time.Second)}
	live := RequestedOrder{OrderID: 3, Symbol: "BTCUSDT", Direction: exchange.SideBuy, Low: 1, High: 2, RequestTime: testNow.Add(-time.Hour)}
	if err := st.Set(context.Background(), CorrelationKey, []RequestedOrder{old, fresh, live}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	bus := events.NewBus()
	pruned, unsub := bus.Subscribe(4, events.EventCorrelationPruned)
	defer unsub()

	gw := newFakeGateway()
	gw.positions = []exchange.Position{{Symbol: "BTCUSDT", PositionAmt: 1}}
	c := New(gw, st, Config{}, WithClock(func() time.Time { return testNow }), WithBus(bus))
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	corrs := storedCorrelations(t, st)
	if len(corrs) != 2 || corrs[0].OrderID != 2 || corrs[1].OrderID != 3 {
		t.Fatalf("stored = %+v, want orders 2 and 3", corrs)
	}
	if got := c.Snapshot().RequestedOrders; len(got) != 2 {
		t.Fatalf("snapshot correlations = %+v", got)
	}
	select {
	case msg := <-pruned:
		if r, ok := msg.Payload.(RequestedOrder); !ok || r.OrderID != 1 {
			t.Fatalf("pruned payload = %+v", msg.Payload)
		}
	default:
		t.Fatal("no prune event")
	}
}

func TestStaleRefreshDiscarded(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{})

	c.mu.Lock()
	c.installedSeq = c.seq.Load() + 10
	c.mu.Unlock()

	gw.orders = []exchange.OpenOrder{{Symbol: "BTCUSDT", OrderID: 5}}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(c.Snapshot().OpenOrders) != 0 {
		t.Fatal("stale refresh replaced a newer snapshot")
	}
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{})
	if _, err := c.ProcessSignal(context.Background(), buySignal()); err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	gw.mu.Lock()
	gw.openOrdersErr = errors.New("timeout")
	gw.mu.Unlock()

	err := c.Refresh(context.Background())
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
	if len(c.Snapshot().OpenOrders) != 1 {
		t.Fatal("failed refresh dropped the snapshot")
	}
}

func TestRunDispatchesQueuedWork(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	p, err := c.ProcessSignal(ctx, buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.OnPriceTick(exchange.PriceTick{Symbol: "BTCUSDT", Price: 90})

	deadline := time.Now().Add(2 * time.Second)
	for len(gw.cancelledIDs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("price tick was not dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ids := gw.cancelledIDs(); ids[0] != p.OrderID {
		t.Fatalf("cancelled = %v", ids)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestStartSubscribesOrderFeed(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{})
	if gw.onEvent == nil {
		t.Fatal("order events not subscribed")
	}
	gw.onEvent(exchange.OrderEvent{Symbol: "BTCUSDT", OrderID: 1})
	if n := c.orderEvents.len(); n != 1 {
		t.Fatalf("queued events = %d, want 1", n)
	}
}

func TestSignalEventsPublished(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(4, events.EventSignalAccepted, events.EventSignalRejected)
	defer unsub()

	gw := newFakeGateway()
	c := New(gw, store.NewMemory(), Config{}, WithBus(bus))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx := context.Background()
	c.ProcessSignal(ctx, buySignal())
	c.ProcessSignal(ctx, buySignal())

	first, second := <-ch, <-ch
	if first.Event != events.EventSignalAccepted || second.Event != events.EventSignalRejected {
		t.Fatalf("events = %s, %s", first.Event, second.Event)
	}
}

func TestPositionSize(t *testing.T) {
	tests := []struct {
		balance, pct, low, high, step float64
		want                          float64
	}{
		{10000, 2, 100, 110, 0.001, 20},
		{1000, 1, 0.3, 0.6, 0.001, 33.333},
		{500, 2, 25000, 26000, 0.001, 0.01},
		{100, 2, 100, 100, 0.001, 0},
	}
	for _, tt := range tests {
		if got := positionSize(tt.balance, tt.pct, tt.low, tt.high, tt.step); got != tt.want {
			t.Errorf("positionSize(%v, %v, %v, %v, %v) = %v, want %v", tt.balance, tt.pct, tt.low, tt.high, tt.step, got, tt.want)
		}
	}
}

func TestRequiredLeverage(t *testing.T) {
	tests := []struct {
		qty, high, balance float64
		want               int
	}{
		{20, 110, 10000, 1},
		{200, 101, 10000, 3},
		{1, 100, 100, 1},
		{1.5, 100, 100, 2},
	}
	for _, tt := range tests {
		if got := requiredLeverage(tt.qty, tt.high, tt.balance); got != tt.want {
			t.Errorf("requiredLeverage(%v, %v, %v) = %d, want %d", tt.qty, tt.high, tt.balance, got, tt.want)
		}
	}
}

func TestProtectionPrices(t *testing.T) {
	buy := RequestedOrder{Direction: exchange.SideBuy, Low: 100, High: 110}
	if tp, sl := protectionPrices(buy, 0.1); tp != 130 || sl != 100 {
		t.Fatalf("buy tp=%v sl=%v, want 130 and 100", tp, sl)
	}
	sell := RequestedOrder{Direction: exchange.SideSell, Low: 100, High: 110}
	if tp, sl := protectionPrices(sell, 0.1); tp != 80 || sl != 110 {
		t.Fatalf("sell tp=%v sl=%v, want 80 and 110", tp, sl)
	}
}

func TestReprotectRestoresMissingLegs(t *testing.T) {
	c, gw := newTestCoordinator(t, nil, Config{})
	ctx := context.Background()

	p, err := c.ProcessSignal(ctx, buySignal())
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	// the fill happens but its push event never arrives
	gw.fill(p.OrderID, 20, 110)
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := c.Reprotect(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("Reprotect: %v", err)
	}
	if len(gw.closing) != 2 || gw.closing[0].StopPrice != "130.0" || gw.closing[1].StopPrice != "100.0" {
		t.Fatalf("closing = %+v", gw.closing)
	}

	// already protected: nothing more is placed
	if err := c.Reprotect(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("second Reprotect: %v", err)
	}
	if len(gw.closing) != 2 {
		t.Fatalf("closing = %d, want 2", len(gw.closing))
	}

	if err := c.Reprotect(ctx, "ETHUSDT"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("Reprotect without position = %v", err)
	}
}
