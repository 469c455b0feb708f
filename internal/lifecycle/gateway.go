package lifecycle

import (
	"context"

	exchange "webhook-trader/pkg/exchanges/common"
)

// Gateway is the exchange as the coordinator sees it. Implementations live in
// internal/gateway.
type Gateway interface {
	GetBalance(ctx context.Context, asset string) (float64, error)
	GetOpenOrders(ctx context.Context) ([]exchange.OpenOrder, error)
	GetPositions(ctx context.Context) ([]exchange.Position, error)
	// GetSymbolMetadata fails with exchange.ErrSymbolUnknown for unlisted symbols.
	GetSymbolMetadata(ctx context.Context, symbol string) (exchange.SymbolMetadata, error)
	PlaceEntryOrder(ctx context.Context, o exchange.EntryOrder) (int64, error)
	PlaceClosingOrder(ctx context.Context, o exchange.ClosingOrder) (int64, error)
	// CancelOrder fails with exchange.ErrOrderNotFound when the order is gone.
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	SubscribeOrderEvents(fn func(exchange.OrderEvent))
	SubscribePriceTicks(symbol string, fn func(exchange.PriceTick)) error
	UnsubscribePriceTicks(symbol string)
}

// Observer receives lifecycle counters; internal/monitor implements it with
// prometheus.
type Observer interface {
	SignalProcessed(reason string)
	OrderPlaced(role exchange.OrderRole)
	OrderCancelled(reason string)
	OrderEvent(status exchange.OrderStatus)
	PriceTick(symbol string)
	RefreshFailed()
	SnapshotSize(openOrders, positions, correlations, watched int)
}

type nopObserver struct{}

func (nopObserver) SignalProcessed(string)          {}
func (nopObserver) OrderPlaced(exchange.OrderRole)  {}
func (nopObserver) OrderCancelled(string)           {}
func (nopObserver) OrderEvent(exchange.OrderStatus) {}
func (nopObserver) PriceTick(string)                {}
func (nopObserver) RefreshFailed()                  {}
func (nopObserver) SnapshotSize(int, int, int, int) {}
