package common

import "errors"

var (
	// ErrOrderNotFound means the venue no longer knows the order (already
	// filled, cancelled or never placed).
	ErrOrderNotFound = errors.New("order not found")
	// ErrSymbolUnknown means the venue does not list the symbol.
	ErrSymbolUnknown = errors.New("symbol unknown")
)
