package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"webhook-trader/internal/events"
	exchange "webhook-trader/pkg/exchanges/common"
)

// CorrelationKey is the store key of the correlation list.
const CorrelationKey = "requestedOrders"

func (c *Coordinator) loadCorrelations(ctx context.Context) ([]RequestedOrder, error) {
	var list []RequestedOrder
	if _, err := c.store.Get(ctx, CorrelationKey, &list); err != nil {
		return nil, fmt.Errorf("load correlations: %w", err)
	}
	return list, nil
}

// mutateCorrelations applies fn to the stored list and saves the result when
// fn reports a change.
func (c *Coordinator) mutateCorrelations(ctx context.Context, fn func([]RequestedOrder) ([]RequestedOrder, bool)) error {
	c.corrMu.Lock()
	defer c.corrMu.Unlock()
	list, err := c.loadCorrelations(ctx)
	if err != nil {
		return err
	}
	next, changed := fn(list)
	if !changed {
		return nil
	}
	if next == nil {
		next = []RequestedOrder{}
	}
	if err := c.store.Set(ctx, CorrelationKey, next); err != nil {
		return fmt.Errorf("save correlations: %w", err)
	}
	return nil
}

// persistCorrelation appends rec, retrying with linear backoff.
func (c *Coordinator) persistCorrelation(ctx context.Context, rec RequestedOrder) error {
	var err error
	for attempt := 1; attempt <= c.cfg.PersistAttempts; attempt++ {
		err = c.mutateCorrelations(ctx, func(list []RequestedOrder) ([]RequestedOrder, bool) {
			for _, r := range list {
				if r.OrderID == rec.OrderID {
					return list, false
				}
			}
			return append(list, rec), true
		})
		if err == nil {
			return nil
		}
		log.Printf("⚠️  [lifecycle] persist correlation %d attempt %d/%d: %v", rec.OrderID, attempt, c.cfg.PersistAttempts, err)
		if attempt < c.cfg.PersistAttempts {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(c.cfg.PersistBackoff * time.Duration(attempt)):
			}
		}
	}
	return err
}

func (c *Coordinator) findCorrelation(ctx context.Context, orderID int64) (RequestedOrder, bool, error) {
	if r, ok := c.Snapshot().Correlation(orderID); ok {
		return r, true, nil
	}
	list, err := c.loadCorrelations(ctx)
	if err != nil {
		return RequestedOrder{}, false, err
	}
	for _, r := range list {
		if r.OrderID == orderID {
			return r, true, nil
		}
	}
	return RequestedOrder{}, false, nil
}

func (c *Coordinator) removeCorrelation(ctx context.Context, orderID int64) error {
	return c.mutateCorrelations(ctx, func(list []RequestedOrder) ([]RequestedOrder, bool) {
		out := list[:0:0]
		for _, r := range list {
			if r.OrderID != orderID {
				out = append(out, r)
			}
		}
		return out, len(out) != len(list)
	})
}

// dropSymbol removes every correlation of a symbol once its trade is over.
func (c *Coordinator) dropSymbol(ctx context.Context, symbol string) error {
	return c.mutateCorrelations(ctx, func(list []RequestedOrder) ([]RequestedOrder, bool) {
		out := list[:0:0]
		for _, r := range list {
			if r.Symbol != symbol {
				out = append(out, r)
			}
		}
		return out, len(out) != len(list)
	})
}

// pruneCorrelations deletes records older than the grace period whose symbol
// has neither an open order nor a position. It returns the surviving list.
func (c *Coordinator) pruneCorrelations(ctx context.Context, corrs []RequestedOrder, orders []exchange.OpenOrder, positions []exchange.Position) []RequestedOrder {
	live := make(map[string]struct{})
	for _, o := range orders {
		live[o.Symbol] = struct{}{}
	}
	for _, p := range positions {
		live[p.Symbol] = struct{}{}
	}
	cutoff := c.now().Add(-c.cfg.CorrelationGrace)
	stale := func(r RequestedOrder) bool {
		_, ok := live[r.Symbol]
		return !ok && r.RequestTime.Before(cutoff)
	}

	var doomed []RequestedOrder
	for _, r := range corrs {
		if stale(r) {
			doomed = append(doomed, r)
		}
	}
	if len(doomed) == 0 {
		return corrs
	}

	err := c.mutateCorrelations(ctx, func(list []RequestedOrder) ([]RequestedOrder, bool) {
		out := list[:0:0]
		for _, r := range list {
			if !stale(r) {
				out = append(out, r)
			}
		}
		return out, len(out) != len(list)
	})
	if err != nil {
		log.Printf("⚠️  [lifecycle] prune correlations: %v", err)
		return corrs
	}

	kept := corrs[:0:0]
	for _, r := range corrs {
		if !stale(r) {
			kept = append(kept, r)
		}
	}
	for _, r := range doomed {
		log.Printf("🧹 [lifecycle] pruned orphaned correlation %s/%d from %s", r.Symbol, r.OrderID, r.RequestTime.Format(time.RFC3339))
		c.bus.Publish(events.EventCorrelationPruned, r)
	}
	return kept
}
