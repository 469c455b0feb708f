package lifecycle

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	exchange "webhook-trader/pkg/exchanges/common"
)

// Signal asks for one trade: enter Direction once price leaves the band.
type Signal struct {
	Symbol    string        `json:"symbol"`
	Direction exchange.Side `json:"direction"`
	Low       float64       `json:"low"`
	High      float64       `json:"high"`
}

// Normalize upper-cases the symbol and direction.
func (s Signal) Normalize() Signal {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	if side, ok := exchange.ParseSide(string(s.Direction)); ok {
		s.Direction = side
	}
	return s
}

// Validate checks the signal shape; it does not touch the exchange.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidSignal)
	}
	if s.Direction != exchange.SideBuy && s.Direction != exchange.SideSell {
		return fmt.Errorf("%w: direction %q", ErrInvalidSignal, s.Direction)
	}
	if math.IsNaN(s.Low) || math.IsNaN(s.High) || s.Low <= 0 || s.High <= s.Low {
		return fmt.Errorf("%w: band [%v, %v]", ErrInvalidSignal, s.Low, s.High)
	}
	return nil
}

// RequestedOrder links an entry order to the band of the signal that placed it.
type RequestedOrder struct {
	OrderID     int64         `json:"orderId"`
	Symbol      string        `json:"symbol"`
	Direction   exchange.Side `json:"direction"`
	Low         float64       `json:"low"`
	High        float64       `json:"high"`
	RequestTime time.Time     `json:"requestTime"`
}

// Invalidated reports whether price has crossed the band edge opposite to
// the entry: below Low for a BUY, above High for a SELL.
func (r RequestedOrder) Invalidated(price float64) bool {
	if r.Direction == exchange.SideBuy {
		return price < r.Low
	}
	return price > r.High
}

// Placement describes an accepted signal.
type Placement struct {
	OrderID   int64         `json:"orderId"`
	Symbol    string        `json:"symbol"`
	Side      exchange.Side `json:"side"`
	Quantity  string        `json:"quantity"`
	StopPrice string        `json:"stopPrice"`
	Leverage  int           `json:"leverage"`
}

// Snapshot is the coordinator's view of the account.
type Snapshot struct {
	OpenOrders      []exchange.OpenOrder `json:"openOrders"`
	ActivePositions []exchange.Position  `json:"activePositions"`
	RequestedOrders []RequestedOrder     `json:"requestedOrders"`
	RefreshedAt     time.Time            `json:"refreshedAt"`
}

func (s Snapshot) clone() Snapshot {
	return Snapshot{
		OpenOrders:      slices.Clone(s.OpenOrders),
		ActivePositions: slices.Clone(s.ActivePositions),
		RequestedOrders: slices.Clone(s.RequestedOrders),
		RefreshedAt:     s.RefreshedAt,
	}
}

// HasSymbol reports whether any order, position or correlation references symbol.
func (s Snapshot) HasSymbol(symbol string) bool {
	for _, o := range s.OpenOrders {
		if o.Symbol == symbol {
			return true
		}
	}
	for _, p := range s.ActivePositions {
		if p.Symbol == symbol {
			return true
		}
	}
	for _, r := range s.RequestedOrders {
		if r.Symbol == symbol {
			return true
		}
	}
	return false
}

// Order finds an open order by symbol and ID.
func (s Snapshot) Order(symbol string, orderID int64) (exchange.OpenOrder, bool) {
	for _, o := range s.OpenOrders {
		if o.OrderID == orderID && o.Symbol == symbol {
			return o, true
		}
	}
	return exchange.OpenOrder{}, false
}

// Correlation finds a correlation record by order ID.
func (s Snapshot) Correlation(orderID int64) (RequestedOrder, bool) {
	for _, r := range s.RequestedOrders {
		if r.OrderID == orderID {
			return r, true
		}
	}
	return RequestedOrder{}, false
}

// Symbols returns every symbol referenced by the snapshot.
func (s Snapshot) Symbols() map[string]struct{} {
	out := make(map[string]struct{})
	for _, o := range s.OpenOrders {
		out[o.Symbol] = struct{}{}
	}
	for _, p := range s.ActivePositions {
		out[p.Symbol] = struct{}{}
	}
	for _, r := range s.RequestedOrders {
		out[r.Symbol] = struct{}{}
	}
	return out
}
