// Package lifecycle turns trading signals into managed futures orders: a stop
// entry per signal, cancellation when price invalidates the band before the
// entry triggers, and a stop-loss/take-profit pair once it fills.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"webhook-trader/internal/events"
	"webhook-trader/internal/store"
	exchange "webhook-trader/pkg/exchanges/common"
)

// Config holds the risk limits and housekeeping knobs.
type Config struct {
	Asset                 string        // margin asset, e.g. USDT
	MaxPositionPercentage float64       // percent of balance risked across the band
	MaxLeverage           int           // signals needing more are rejected
	CorrelationGrace      time.Duration // orphaned correlations younger than this survive pruning
	PersistAttempts       int
	PersistBackoff        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Asset == "" {
		c.Asset = "USDT"
	}
	if c.MaxPositionPercentage <= 0 {
		c.MaxPositionPercentage = 2
	}
	if c.MaxLeverage <= 0 {
		c.MaxLeverage = 20
	}
	if c.CorrelationGrace <= 0 {
		c.CorrelationGrace = 2 * time.Minute
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = 3
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = 200 * time.Millisecond
	}
	return c
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithBus publishes lifecycle events on bus.
func WithBus(bus *events.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithObserver reports counters to obs.
func WithObserver(obs Observer) Option {
	return func(c *Coordinator) { c.obs = obs }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator owns the snapshot and serializes all work for a symbol on that
// symbol's lane.
type Coordinator struct {
	gw    Gateway
	store store.Store
	cfg   Config
	bus   *events.Bus
	obs   Observer
	now   func() time.Time

	lanes       *lanes
	orderEvents *queue[exchange.OrderEvent]
	priceTicks  *queue[exchange.PriceTick]

	mu           sync.RWMutex
	snap         Snapshot
	installedSeq uint64
	seq          atomic.Uint64

	corrMu sync.Mutex // guards read-modify-write of the correlation list

	watchMu sync.Mutex
	watched map[string]struct{}
}

// New builds a coordinator. Call Start, then Run.
func New(gw Gateway, st store.Store, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		gw:          gw,
		store:       st,
		cfg:         cfg.withDefaults(),
		obs:         nopObserver{},
		now:         time.Now,
		lanes:       newLanes(),
		orderEvents: newQueue[exchange.OrderEvent](),
		priceTicks:  newQueue[exchange.PriceTick](),
		watched:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start hooks the order-update feed and builds the first snapshot.
func (c *Coordinator) Start(ctx context.Context) error {
	c.gw.SubscribeOrderEvents(c.OnOrderEvent)
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}
	snap := c.Snapshot()
	log.Printf("✓ Lifecycle coordinator ready: %d open orders, %d positions, %d pending correlations",
		len(snap.OpenOrders), len(snap.ActivePositions), len(snap.RequestedOrders))
	return nil
}

// Run dispatches queued order events and price ticks onto symbol lanes until
// ctx is done, then waits for in-flight lane work.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.lanes.wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.orderEvents.ready:
			for _, ev := range c.orderEvents.drain() {
				ev := ev
				c.lanes.submit(ev.Symbol, func() { c.handleOrderEvent(ctx, ev) })
			}
		case <-c.priceTicks.ready:
			for _, t := range c.priceTicks.drain() {
				t := t
				c.lanes.submit(t.Symbol, func() { c.handlePriceTick(ctx, t) })
			}
		}
	}
}

// OnOrderEvent queues an order update. It never blocks the feed.
func (c *Coordinator) OnOrderEvent(ev exchange.OrderEvent) {
	c.orderEvents.push(ev)
}

// OnPriceTick queues a price update. It never blocks the feed.
func (c *Coordinator) OnPriceTick(t exchange.PriceTick) {
	c.priceTicks.push(t)
}

// Snapshot returns a copy of the current view.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.clone()
}

// Refresh re-reads open orders, positions and correlations in parallel and
// replaces the snapshot wholesale. A refresh that started before the
// installed one is discarded.
func (c *Coordinator) Refresh(ctx context.Context) error {
	seq := c.seq.Add(1)

	var (
		orders    []exchange.OpenOrder
		positions []exchange.Position
		corrs     []RequestedOrder
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orders, err = c.gw.GetOpenOrders(gctx)
		return gatewayErr("get open orders", err)
	})
	g.Go(func() error {
		var err error
		positions, err = c.gw.GetPositions(gctx)
		return gatewayErr("get positions", err)
	})
	g.Go(func() error {
		var err error
		corrs, err = c.loadCorrelations(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		c.obs.RefreshFailed()
		return fmt.Errorf("refresh snapshot: %w", err)
	}

	corrs = c.pruneCorrelations(ctx, corrs, orders, positions)

	c.mu.Lock()
	if seq < c.installedSeq {
		c.mu.Unlock()
		return nil
	}
	c.installedSeq = seq
	c.snap = Snapshot{
		OpenOrders:      orders,
		ActivePositions: positions,
		RequestedOrders: corrs,
		RefreshedAt:     c.now(),
	}
	c.mu.Unlock()

	watched := c.syncWatch()
	c.obs.SnapshotSize(len(orders), len(positions), len(corrs), watched)
	c.bus.Publish(events.EventSnapshotRefreshed, map[string]int{
		"openOrders":      len(orders),
		"activePositions": len(positions),
		"requestedOrders": len(corrs),
	})
	return nil
}

// refreshLogged refreshes and logs failure; the next refresh corrects the view.
func (c *Coordinator) refreshLogged(ctx context.Context, why string) {
	if err := c.Refresh(ctx); err != nil {
		log.Printf("⚠️  [lifecycle] refresh after %s failed: %v", why, err)
	}
}

// syncWatch subscribes symbols present in the installed snapshot and drops
// the rest. It reads the snapshot under watchMu so the last caller always
// applies the newest view.
func (c *Coordinator) syncWatch() int {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	want := c.Snapshot().Symbols()
	for sym := range want {
		if _, ok := c.watched[sym]; ok {
			continue
		}
		if err := c.gw.SubscribePriceTicks(sym, c.OnPriceTick); err != nil {
			log.Printf("⚠️  [lifecycle] watch %s: %v", sym, err)
			continue
		}
		c.watched[sym] = struct{}{}
	}
	for sym := range c.watched {
		if _, ok := want[sym]; ok {
			continue
		}
		c.gw.UnsubscribePriceTicks(sym)
		delete(c.watched, sym)
	}
	return len(c.watched)
}

// Cancel cancels an order known to the snapshot. Cancelling an entry also
// drops its correlation.
func (c *Coordinator) Cancel(ctx context.Context, symbol string, orderID int64) error {
	return c.lanes.do(symbol, func() error {
		o, ok := c.Snapshot().Order(symbol, orderID)
		if !ok {
			return fmt.Errorf("cancel %s/%d: %w", symbol, orderID, ErrOrderNotFound)
		}
		if err := c.gw.CancelOrder(ctx, symbol, orderID); err != nil {
			c.refreshLogged(ctx, "failed cancel")
			return gatewayErr(fmt.Sprintf("cancel %s/%d", symbol, orderID), err)
		}
		c.obs.OrderCancelled("manual")
		c.bus.Publish(events.EventOrderCancelled, map[string]any{
			"symbol": symbol, "orderId": orderID, "reason": "manual", "role": o.Role().String(),
		})
		log.Printf("🗑️  [lifecycle] cancelled %s order %d (%s)", symbol, orderID, o.Role())

		if o.Role() == exchange.RoleEntry {
			if corr, ok, err := c.findCorrelation(ctx, orderID); err != nil {
				log.Printf("⚠️  [lifecycle] correlation of cancelled entry %d: %v", orderID, err)
			} else if ok {
				c.settleCancelledEntry(ctx, corr, o.ExecutedQty)
			}
		}
		c.refreshLogged(ctx, "cancel")
		return nil
	})
}
