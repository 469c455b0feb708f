package lifecycle

import (
	"errors"
	"fmt"

	exchange "webhook-trader/pkg/exchanges/common"
)

var (
	ErrSymbolUnknown       = exchange.ErrSymbolUnknown
	ErrOrderNotFound       = exchange.ErrOrderNotFound
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrQuantityOutOfRange  = errors.New("quantity out of range")
	ErrPriceOutOfRange     = errors.New("price out of range")
	ErrLeverageExceeded    = errors.New("leverage exceeds maximum")
	ErrDuplicateSymbol     = errors.New("symbol already has an active trade")
	ErrGatewayUnavailable  = errors.New("exchange gateway unavailable")
	ErrInvalidSignal       = errors.New("invalid signal")
	ErrCorrelationLost     = errors.New("correlation record could not be persisted")
)

// gatewayErr tags a gateway failure with ErrGatewayUnavailable unless it
// already carries a more specific kind.
func gatewayErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrSymbolUnknown) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrGatewayUnavailable, err)
}

// Reason maps an error to a short machine-readable kind for API responses
// and the audit trail.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSignal):
		return "invalid_signal"
	case errors.Is(err, ErrDuplicateSymbol):
		return "duplicate_symbol"
	case errors.Is(err, ErrSymbolUnknown):
		return "symbol_unknown"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrQuantityOutOfRange):
		return "quantity_out_of_range"
	case errors.Is(err, ErrPriceOutOfRange):
		return "price_out_of_range"
	case errors.Is(err, ErrLeverageExceeded):
		return "leverage_exceeded"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrCorrelationLost):
		return "correlation_lost"
	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_unavailable"
	default:
		return "internal"
	}
}
