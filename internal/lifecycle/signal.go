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

// ProcessSignal sizes and places the entry order for a signal. It rejects a
// signal for a symbol that already has an open order, a position or a
// pending correlation.
func (c *Coordinator) ProcessSignal(ctx context.Context, sig Signal) (Placement, error) {
	sig = sig.Normalize()
	var placement Placement
	err := sig.Validate()
	if err == nil {
		err = c.lanes.do(sig.Symbol, func() error {
			var perr error
			placement, perr = c.processSignal(ctx, sig)
			return perr
		})
	}

	c.obs.SignalProcessed(Reason(err))
	if err != nil {
		log.Printf("❌ [lifecycle] signal %s %s [%v, %v] rejected: %v", sig.Symbol, sig.Direction, sig.Low, sig.High, err)
		c.bus.Publish(events.EventSignalRejected, map[string]any{
			"signal": sig, "reason": Reason(err), "error": err.Error(),
		})
		return Placement{}, err
	}
	log.Printf("✅ [lifecycle] signal %s %s accepted: order %d qty=%s stop=%s leverage=%dx",
		sig.Symbol, sig.Direction, placement.OrderID, placement.Quantity, placement.StopPrice, placement.Leverage)
	c.bus.Publish(events.EventSignalAccepted, placement)
	return placement, nil
}

func (c *Coordinator) processSignal(ctx context.Context, sig Signal) (Placement, error) {
	if c.Snapshot().HasSymbol(sig.Symbol) {
		return Placement{}, fmt.Errorf("%s: %w", sig.Symbol, ErrDuplicateSymbol)
	}
	// the snapshot may lag a failed refresh; correlations are authoritative
	corrs, err := c.loadCorrelations(ctx)
	if err != nil {
		return Placement{}, err
	}
	for _, r := range corrs {
		if r.Symbol == sig.Symbol {
			return Placement{}, fmt.Errorf("%s: %w", sig.Symbol, ErrDuplicateSymbol)
		}
	}

	md, err := c.gw.GetSymbolMetadata(ctx, sig.Symbol)
	if err != nil {
		return Placement{}, gatewayErr("symbol metadata", err)
	}

	balance, err := c.gw.GetBalance(ctx, c.cfg.Asset)
	if err != nil {
		return Placement{}, gatewayErr("balance", err)
	}
	if balance <= 0 {
		return Placement{}, fmt.Errorf("%s balance %v: %w", c.cfg.Asset, balance, ErrInsufficientBalance)
	}

	qty := positionSize(balance, c.cfg.MaxPositionPercentage, sig.Low, sig.High, md.StepSize)
	if qty <= 0 || !precision.ValidateRange(qty, md.MinQty, md.MaxQty) {
		return Placement{}, fmt.Errorf("quantity %v not in [%v, %v]: %w", qty, md.MinQty, md.MaxQty, ErrQuantityOutOfRange)
	}

	edge := sig.Low
	if sig.Direction == exchange.SideBuy {
		edge = sig.High
	}
	stop := precision.RoundToPrecision(edge, md.TickSize)
	if stop <= 0 || !precision.ValidateRange(stop, md.MinPrice, md.MaxPrice) {
		return Placement{}, fmt.Errorf("stop price %v not in [%v, %v]: %w", stop, md.MinPrice, md.MaxPrice, ErrPriceOutOfRange)
	}

	leverage := requiredLeverage(qty, sig.High, balance)
	if leverage > c.cfg.MaxLeverage {
		return Placement{}, fmt.Errorf("leverage %d > %d: %w", leverage, c.cfg.MaxLeverage, ErrLeverageExceeded)
	}

	// leverage must be in place before the entry or it may be under-margined
	if err := c.gw.SetLeverage(ctx, sig.Symbol, leverage); err != nil {
		return Placement{}, gatewayErr("set leverage", err)
	}

	entry := exchange.EntryOrder{
		Symbol:    sig.Symbol,
		Side:      sig.Direction,
		Quantity:  precision.FormatToPrecision(qty, md.StepSize),
		StopPrice: precision.FormatToPrecision(stop, md.TickSize),
	}
	orderID, err := c.gw.PlaceEntryOrder(ctx, entry)
	if err != nil {
		return Placement{}, gatewayErr("place entry", err)
	}
	c.obs.OrderPlaced(exchange.RoleEntry)

	rec := RequestedOrder{
		OrderID:     orderID,
		Symbol:      sig.Symbol,
		Direction:   sig.Direction,
		Low:         sig.Low,
		High:        sig.High,
		RequestTime: c.now(),
	}
	// the order exists now; a dropped request must not undo it
	ctx = context.WithoutCancel(ctx)
	if err := c.persistCorrelation(ctx, rec); err != nil {
		log.Printf("🚨 [lifecycle] entry %s/%d placed but its correlation was not saved: %v; rolling back", sig.Symbol, orderID, err)
		if cerr := c.gw.CancelOrder(ctx, sig.Symbol, orderID); cerr != nil && !errors.Is(cerr, ErrOrderNotFound) {
			log.Printf("🚨 [lifecycle] roll-back cancel of %s/%d failed, order is uncorrelated: %v", sig.Symbol, orderID, cerr)
		} else {
			c.obs.OrderCancelled("rollback")
		}
		c.bus.Publish(events.EventCorrelationDropped, rec)
		c.refreshLogged(ctx, "roll-back")
		return Placement{}, fmt.Errorf("order %d: %w: %w", orderID, ErrCorrelationLost, err)
	}

	c.refreshLogged(ctx, "signal")
	return Placement{
		OrderID:   orderID,
		Symbol:    sig.Symbol,
		Side:      sig.Direction,
		Quantity:  entry.Quantity,
		StopPrice: entry.StopPrice,
		Leverage:  leverage,
	}, nil
}

// positionSize risks pct% of balance across the band width, floored to step.
func positionSize(balance, pct, low, high, step float64) float64 {
	width := decimal.NewFromFloat(high).Sub(decimal.NewFromFloat(low))
	if !width.IsPositive() {
		return 0
	}
	raw := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100)).
		Div(width)
	f, _ := raw.Float64()
	return precision.RoundToPrecision(f, step)
}

// requiredLeverage is ceil(qty*high/balance), at least 1.
func requiredLeverage(qty, high, balance float64) int {
	lev := decimal.NewFromFloat(qty).
		Mul(decimal.NewFromFloat(high)).
		Div(decimal.NewFromFloat(balance)).
		Ceil().
		IntPart()
	if lev < 1 {
		return 1
	}
	return int(lev)
}
