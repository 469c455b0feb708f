package api

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"webhook-trader/internal/lifecycle"
	"webhook-trader/pkg/db"
	exchange "webhook-trader/pkg/exchanges/common"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"success": false,
		"code":    code,
		"error":   msg,
	})
}

// statusFor maps a lifecycle error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidSignal):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrDuplicateSymbol):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrSymbolUnknown),
		errors.Is(err, lifecycle.ErrInsufficientBalance),
		errors.Is(err, lifecycle.ErrQuantityOutOfRange),
		errors.Is(err, lifecycle.ErrPriceOutOfRange),
		errors.Is(err, lifecycle.ErrLeverageExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lifecycle.ErrGatewayUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondLifecycleError(c *gin.Context, message string, err error) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"code":    strings.ToUpper(lifecycle.Reason(err)),
		"message": message,
		"error":   err.Error(),
	})
}

// decodeBody parses a JSON object regardless of Content-Type; TradingView
// alerts arrive as text/plain.
func decodeBody(c *gin.Context) (map[string]any, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return body, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err == nil {
			return f, true
		}
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// parseSignal reads {symbol, type|direction, low, high}.
func parseSignal(body map[string]any) (lifecycle.Signal, error) {
	dir := asString(body["type"])
	if dir == "" {
		dir = asString(body["direction"])
	}
	low, okLow := asFloat(body["low"])
	high, okHigh := asFloat(body["high"])
	if !okLow || !okHigh {
		return lifecycle.Signal{}, fmt.Errorf("%w: low and high must be numbers", lifecycle.ErrInvalidSignal)
	}
	return lifecycle.Signal{
		Symbol:    asString(body["symbol"]),
		Direction: exchange.Side(dir),
		Low:       low,
		High:      high,
	}, nil
}

func (s *Server) passphraseOK(body map[string]any) bool {
	if s.Passphrase == "" {
		return true
	}
	got := asString(body["passphrase"])
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.Passphrase)) == 1
}

// tradingView handles POST /webhook/tradingview.
func (s *Server) tradingView(c *gin.Context) {
	body, err := decodeBody(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if !s.passphraseOK(body) {
		respondError(c, http.StatusUnauthorized, "INVALID_PASSPHRASE", "invalid passphrase")
		return
	}

	sig, err := parseSignal(body)
	if err == nil {
		log.Printf("📨 TradingView signal: %s %s [%v, %v]", sig.Symbol, sig.Direction, sig.Low, sig.High)
		var p lifecycle.Placement
		p, err = s.Coord.ProcessSignal(c.Request.Context(), sig)
		s.audit(sig.Normalize(), p, err)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"message": "Signal processed successfully",
				"order":   p,
			})
			return
		}
	}
	respondLifecycleError(c, "Failed to process signal", err)
}

func (s *Server) audit(sig lifecycle.Signal, p lifecycle.Placement, err error) {
	rec := db.SignalRecord{
		Symbol:    sig.Symbol,
		Direction: string(sig.Direction),
		Low:       sig.Low,
		High:      sig.High,
		Result:    "accepted",
		OrderID:   p.OrderID,
		Quantity:  p.Quantity,
		Leverage:  p.Leverage,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		rec.Result = "rejected"
		rec.Reason = lifecycle.Reason(err)
	}
	s.Audit.Record(rec)
}

// fakePrice handles POST /webhook/fakeprice {symbol, price}.
func (s *Server) fakePrice(c *gin.Context) {
	body, err := decodeBody(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	symbol := strings.ToUpper(asString(body["symbol"]))
	price, ok := asFloat(body["price"])
	if symbol == "" || !ok || price <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "symbol and a positive price are required")
		return
	}

	// the paper venue forwards the tick to the coordinator after matching
	if s.Prices != nil {
		s.Prices.InjectPrice(symbol, price)
	} else {
		s.Coord.OnPriceTick(exchange.PriceTick{Symbol: symbol, Price: price, Time: time.Now().UnixMilli()})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "symbol": symbol, "price": price})
}

// cancelOrder handles DELETE /webhook/cancelOrder/:orderId {symbol}.
func (s *Server) cancelOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("orderId"), 10, 64)
	if err != nil || orderID <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ORDER_ID", "orderId must be a positive integer")
		return
	}
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Symbol) == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "symbol is required")
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))

	if err := s.Coord.Cancel(c.Request.Context(), symbol, orderID); err != nil {
		respondLifecycleError(c, "Failed to stop order", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Order stopped successfully"})
}

// info handles GET /webhook/info.
func (s *Server) info(c *gin.Context) {
	snap := s.Coord.Snapshot()
	data := gin.H{
		"openOrders":      gin.H{"count": len(snap.OpenOrders), "orders": nonNil(snap.OpenOrders)},
		"activePositions": gin.H{"count": len(snap.ActivePositions), "positions": nonNil(snap.ActivePositions)},
		"requestedOrders": gin.H{"count": len(snap.RequestedOrders), "orders": nonNil(snap.RequestedOrders)},
		"refreshedAt":     snap.RefreshedAt,
	}
	if s.Meta.Prices != nil {
		data["prices"] = s.Meta.Prices()
	}
	if s.Audit != nil {
		recent, err := s.Audit.Recent(c.Request.Context(), strings.ToUpper(c.Query("symbol")), 20)
		if err != nil {
			log.Printf("⚠️  [api] recent signals: %v", err)
		}
		data["recentSignals"] = nonNil(recent)
		data["audit"] = s.Audit.Metrics()
	}
	if s.Metrics != nil {
		data["metrics"] = s.Metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
