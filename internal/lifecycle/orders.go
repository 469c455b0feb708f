package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"webhook-trader/internal/events"
	exchange "webhook-trader/pkg/exchanges/common"
	"webhook-trader/pkg/precision"
)

// handleOrderEvent runs on the event symbol's lane. Failures are logged and
// swallowed; the snapshot is refreshed whatever happens.
func (c *Coordinator) handleOrderEvent(ctx context.Context, ev exchange.OrderEvent) {
	defer c.refreshLogged(ctx, "order event")
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [lifecycle] order event %s/%d panicked: %v", ev.Symbol, ev.OrderID, r)
		}
	}()

	c.obs.OrderEvent(ev.Status)
	c.bus.Publish(events.EventOrderUpdate, ev)

	role := c.resolveRole(ctx, ev)
	switch ev.Status {
	case exchange.StatusFilled:
		if role.Closing() {
			c.onClosingFilled(ctx, ev, role)
			return
		}
		corr, ok, err := c.findCorrelation(ctx, ev.OrderID)
		if err != nil {
			log.Printf("❌ [lifecycle] entry %s/%d filled but correlation lookup failed: %v", ev.Symbol, ev.OrderID, err)
			return
		}
		if !ok {
			log.Printf("⚠️  [lifecycle] filled order %s/%d has no correlation; leaving it unmanaged", ev.Symbol, ev.OrderID)
			return
		}
		if err := c.protectFill(ctx, corr, ev.FilledQty()); err != nil {
			log.Printf("🚨 [lifecycle] %s position from order %d is unprotected: %v", ev.Symbol, ev.OrderID, err)
		}

	case exchange.StatusCanceled, exchange.StatusExpired, exchange.StatusRejected:
		if role != exchange.RoleEntry {
			return
		}
		if filled := ev.FilledQty(); filled > 0 {
			corr, ok, err := c.findCorrelation(ctx, ev.OrderID)
			if err == nil && ok {
				c.settleCancelledEntry(ctx, corr, filled)
				return
			}
		}
		if err := c.removeCorrelation(ctx, ev.OrderID); err != nil {
			log.Printf("⚠️  [lifecycle] drop correlation %d after %s: %v", ev.OrderID, ev.Status, err)
		}
	}
}

// settleCancelledEntry finishes an entry that will not fill further. A
// partial fill keeps its correlation and gets protected; otherwise the
// correlation is dropped.
func (c *Coordinator) settleCancelledEntry(ctx context.Context, corr RequestedOrder, filled float64) {
	if filled > 0 {
		log.Printf("🩹 [lifecycle] %s entry %d cancelled after filling %v; protecting the filled part", corr.Symbol, corr.OrderID, filled)
		if err := c.protectFill(ctx, corr, filled); err != nil {
			log.Printf("🚨 [lifecycle] %s partial position from order %d is unprotected: %v", corr.Symbol, corr.OrderID, err)
		}
		return
	}
	if err := c.removeCorrelation(ctx, corr.OrderID); err != nil {
		log.Printf("⚠️  [lifecycle] drop correlation %d: %v", corr.OrderID, err)
	}
}

// hasClosingLegs reports whether symbol already carries an SL or TP. The
// exchange is asked first; the snapshot is the fallback.
func (c *Coordinator) hasClosingLegs(ctx context.Context, symbol string) bool {
	orders, err := c.gw.GetOpenOrders(ctx)
	if err != nil {
		log.Printf("⚠️  [lifecycle] live open orders unavailable, using snapshot: %v", err)
		orders = c.Snapshot().OpenOrders
	}
	for _, o := range orders {
		if o.Symbol == symbol && o.Role().Closing() {
			return true
		}
	}
	return false
}

// protectFill places SL/TP for corr unless the symbol is already protected,
// so a fill event and reconciliation never both place a pair.
func (c *Coordinator) protectFill(ctx context.Context, corr RequestedOrder, qty float64) error {
	if c.hasClosingLegs(ctx, corr.Symbol) {
		log.Printf("🛡️  [lifecycle] %s already protected; order %d needs no new SL/TP", corr.Symbol, corr.OrderID)
		return nil
	}
	return c.placeSLTPOrders(ctx, corr, qty)
}

// resolveRole prefers the snapshot's order, then the correlation list, then
// the flags carried by the event itself.
func (c *Coordinator) resolveRole(ctx context.Context, ev exchange.OrderEvent) exchange.OrderRole {
	if o, ok := c.Snapshot().Order(ev.Symbol, ev.OrderID); ok {
		return o.Role()
	}
	if _, ok, err := c.findCorrelation(ctx, ev.OrderID); err == nil && ok {
		return exchange.RoleEntry
	}
	return exchange.OpenOrder{Type: ev.Type, ReduceOnly: ev.ReduceOnly, ClosePosition: ev.ClosePosition}.Role()
}

// onClosingFilled tears down the surviving sibling leg and forgets the trade.
func (c *Coordinator) onClosingFilled(ctx context.Context, ev exchange.OrderEvent, role exchange.OrderRole) {
	log.Printf("🏁 [lifecycle] %s %s leg %d filled; position closed", ev.Symbol, role, ev.OrderID)

	orders, err := c.gw.GetOpenOrders(ctx)
	if err != nil {
		log.Printf("⚠️  [lifecycle] live open orders unavailable, using snapshot: %v", err)
		orders = c.Snapshot().OpenOrders
	}
	for _, o := range orders {
		if o.Symbol != ev.Symbol || o.OrderID == ev.OrderID || !o.Role().Closing() {
			continue
		}
		err := c.gw.CancelOrder(ctx, o.Symbol, o.OrderID)
		switch {
		case err == nil:
			c.obs.OrderCancelled("sibling")
			c.bus.Publish(events.EventOrderCancelled, map[string]any{
				"symbol": o.Symbol, "orderId": o.OrderID, "reason": "sibling", "role": o.Role().String(),
			})
			log.Printf("🗑️  [lifecycle] cancelled sibling %s leg %d", o.Role(), o.OrderID)
		case errors.Is(err, ErrOrderNotFound):
		default:
			log.Printf("❌ [lifecycle] cancel sibling %s/%d: %v", o.Symbol, o.OrderID, err)
		}
	}

	if err := c.dropSymbol(ctx, ev.Symbol); err != nil {
		log.Printf("⚠️  [lifecycle] drop %s correlations: %v", ev.Symbol, err)
	}
	c.bus.Publish(events.EventPositionClosed, map[string]any{
		"symbol": ev.Symbol, "orderId": ev.OrderID, "role": role.String(), "price": ev.LastPrice,
	})
}

// placeSLTPOrders places the take-profit at twice the band width beyond the
// far edge and the stop-loss at the near edge, take-profit first. Both close
// the whole position.
func (c *Coordinator) placeSLTPOrders(ctx context.Context, corr RequestedOrder, qty float64) error {
	md, err := c.gw.GetSymbolMetadata(ctx, corr.Symbol)
	if err != nil {
		return gatewayErr("symbol metadata", err)
	}

	tp, sl := protectionPrices(corr, md.TickSize)
	side := corr.Direction.Opposite()
	qtyStr := precision.FormatToPrecision(qty, md.StepSize)

	legs := []exchange.ClosingOrder{
		{Symbol: corr.Symbol, Side: side, Role: exchange.RoleTakeProfit, Quantity: qtyStr, StopPrice: precision.FormatToPrecision(tp, md.TickSize), ClosePosition: true},
		{Symbol: corr.Symbol, Side: side, Role: exchange.RoleStopLoss, Quantity: qtyStr, StopPrice: precision.FormatToPrecision(sl, md.TickSize), ClosePosition: true},
	}
	ids := make([]int64, 0, len(legs))
	for _, leg := range legs {
		id, err := c.gw.PlaceClosingOrder(ctx, leg)
		if err != nil {
			return gatewayErr(fmt.Sprintf("place %s at %s", leg.Role, leg.StopPrice), err)
		}
		c.obs.OrderPlaced(leg.Role)
		ids = append(ids, id)
	}

	log.Printf("🛡️  [lifecycle] %s protected: TP %s (#%d) SL %s (#%d) qty=%s",
		corr.Symbol, legs[0].StopPrice, ids[0], legs[1].StopPrice, ids[1], qtyStr)
	c.bus.Publish(events.EventProtectionPlaced, map[string]any{
		"symbol": corr.Symbol, "entryOrderId": corr.OrderID, "quantity": qtyStr,
		"takeProfit": legs[0].StopPrice, "takeProfitId": ids[0],
		"stopLoss": legs[1].StopPrice, "stopLossId": ids[1],
	})
	return nil
}

// protectionPrices returns the take-profit and stop-loss for a band, each
// rounded to tick.
func protectionPrices(corr RequestedOrder, tick float64) (tp, sl float64) {
	low := decimal.NewFromFloat(corr.Low)
	high := decimal.NewFromFloat(corr.High)
	ext := high.Sub(low).Mul(decimal.NewFromInt(2))

	var tpD, slD decimal.Decimal
	if corr.Direction == exchange.SideBuy {
		tpD, slD = high.Add(ext), low
	} else {
		tpD, slD = low.Sub(ext), high
	}
	tpF, _ := tpD.Float64()
	slF, _ := slD.Float64()
	return precision.RoundToPrecision(tpF, tick), precision.RoundToPrecision(slF, tick)
}

// handlePriceTick cancels pending entries whose band the price has crossed
// on the wrong side.
func (c *Coordinator) handlePriceTick(ctx context.Context, t exchange.PriceTick) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [lifecycle] price tick %s panicked: %v", t.Symbol, r)
		}
	}()
	c.obs.PriceTick(t.Symbol)
	c.bus.Publish(events.EventPriceTick, t)

	snap := c.Snapshot()
	changed := false
	for _, o := range snap.OpenOrders {
		if o.Symbol != t.Symbol || o.Role() != exchange.RoleEntry {
			continue
		}
		corr, ok := snap.Correlation(o.OrderID)
		if !ok || !corr.Invalidated(t.Price) {
			continue
		}

		err := c.gw.CancelOrder(ctx, o.Symbol, o.OrderID)
		switch {
		case errors.Is(err, ErrOrderNotFound):
			// filled or cancelled already; its own event settles the correlation
			log.Printf("ℹ️  [lifecycle] %s entry %d already closed when price %v crossed the band", o.Symbol, o.OrderID, t.Price)
			changed = true
			continue
		case err != nil:
			log.Printf("❌ [lifecycle] invalidate %s/%d at %v: %v", o.Symbol, o.OrderID, t.Price, err)
			continue
		}
		changed = true
		c.obs.OrderCancelled("invalidated")
		log.Printf("✂️  [lifecycle] %s entry %d cancelled: price %v crossed band [%v, %v]", o.Symbol, o.OrderID, t.Price, corr.Low, corr.High)
		c.bus.Publish(events.EventOrderCancelled, map[string]any{
			"symbol": o.Symbol, "orderId": o.OrderID, "reason": "invalidated", "price": t.Price,
		})
		c.settleCancelledEntry(ctx, corr, o.ExecutedQty)
	}
	if changed {
		c.refreshLogged(ctx, "invalidation")
	}
}

// Reprotect places the SL/TP pair for an open position that has no closing
// legs, using the correlation of the entry that opened it. It recovers from
// fill events lost while the user stream was down.
func (c *Coordinator) Reprotect(ctx context.Context, symbol string) error {
	return c.lanes.do(symbol, func() error {
		snap := c.Snapshot()
		var pos *exchange.Position
		for i := range snap.ActivePositions {
			if snap.ActivePositions[i].Symbol == symbol {
				pos = &snap.ActivePositions[i]
				break
			}
		}
		if pos == nil {
			return fmt.Errorf("%s has no open position: %w", symbol, ErrOrderNotFound)
		}
		if c.hasClosingLegs(ctx, symbol) {
			return nil
		}

		var corr *RequestedOrder
		for i := range snap.RequestedOrders {
			if snap.RequestedOrders[i].Symbol == symbol {
				corr = &snap.RequestedOrders[i]
				break
			}
		}
		if corr == nil {
			return fmt.Errorf("%s position has no correlation to derive protection from: %w", symbol, ErrCorrelationLost)
		}

		qty := pos.PositionAmt
		if qty < 0 {
			qty = -qty
		}
		log.Printf("🩹 [lifecycle] re-protecting %s position %v from order %d", symbol, pos.PositionAmt, corr.OrderID)
		err := c.placeSLTPOrders(ctx, *corr, qty)
		c.refreshLogged(ctx, "reprotect")
		return err
	})
}
