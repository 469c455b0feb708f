package precision

import (
	"strconv"

	exchange "webhook-trader/pkg/exchanges/common"
)

// MaxSafeInteger is the upper bound used when an exchange omits a max filter.
const MaxSafeInteger = float64(1<<53 - 1)

const (
	defaultStepSize = 0.001
	defaultTickSize = 0.01
)

// Filter mirrors one entry of a symbol's "filters" array in exchange info.
// Numeric fields stay strings, as delivered by the exchange.
type Filter struct {
	FilterType string `json:"filterType"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
	MinPrice   string `json:"minPrice,omitempty"`
	MaxPrice   string `json:"maxPrice,omitempty"`
	TickSize   string `json:"tickSize,omitempty"`
	Notional   string `json:"notional,omitempty"`
}

const (
	FilterLotSize     = "LOT_SIZE"
	FilterPrice       = "PRICE_FILTER"
	FilterMinNotional = "MIN_NOTIONAL"
)

func find(filters []Filter, kind string) (Filter, bool) {
	for _, f := range filters {
		if f.FilterType == kind {
			return f, true
		}
	}
	return Filter{}, false
}

func parseOr(raw string, def float64) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// QuantityStepSize returns the LOT_SIZE step, defaulting to 0.001.
func QuantityStepSize(filters []Filter) float64 {
	if f, ok := find(filters, FilterLotSize); ok {
		return parseOr(f.StepSize, defaultStepSize)
	}
	return defaultStepSize
}

// PriceTickSize returns the PRICE_FILTER tick, defaulting to 0.01.
func PriceTickSize(filters []Filter) float64 {
	if f, ok := find(filters, FilterPrice); ok {
		return parseOr(f.TickSize, defaultTickSize)
	}
	return defaultTickSize
}

func MinQuantity(filters []Filter) float64 {
	if f, ok := find(filters, FilterLotSize); ok {
		return parseOr(f.MinQty, 0)
	}
	return 0
}

func MaxQuantity(filters []Filter) float64 {
	if f, ok := find(filters, FilterLotSize); ok {
		return parseOr(f.MaxQty, MaxSafeInteger)
	}
	return MaxSafeInteger
}

func MinPrice(filters []Filter) float64 {
	if f, ok := find(filters, FilterPrice); ok {
		return parseOr(f.MinPrice, 0)
	}
	return 0
}

// MaxPrice returns the PRICE_FILTER max. Binance reports "0" for futures
// symbols without an upper bound, which is treated as unbounded.
func MaxPrice(filters []Filter) float64 {
	if f, ok := find(filters, FilterPrice); ok {
		if v := parseOr(f.MaxPrice, MaxSafeInteger); v > 0 {
			return v
		}
	}
	return MaxSafeInteger
}

// Metadata collapses a symbol's filters into the constraints the coordinator uses.
func Metadata(symbol string, filters []Filter) exchange.SymbolMetadata {
	return exchange.SymbolMetadata{
		Symbol:   symbol,
		StepSize: QuantityStepSize(filters),
		MinQty:   MinQuantity(filters),
		MaxQty:   MaxQuantity(filters),
		TickSize: PriceTickSize(filters),
		MinPrice: MinPrice(filters),
		MaxPrice: MaxPrice(filters),
	}
}
