package futures_usdt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"webhook-trader/pkg/exchanges/common"
)

// Binance error codes that carry meaning for callers.
const (
	codeUnknownOrder = -2011
	codeNoSuchOrder  = -2013
)

// APIError is a non-2xx response from the REST API.
type APIError struct {
	Method string
	Path   string
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance usdt futures %s %s status %d: code=%d msg=%s", e.Method, e.Path, e.Status, e.Code, e.Msg)
}

// Unwrap maps unknown-order codes onto the shared sentinel.
func (e *APIError) Unwrap() error {
	if e.Code == codeUnknownOrder || e.Code == codeNoSuchOrder {
		return common.ErrOrderNotFound
	}
	return nil
}

func decodeAPIError(method, path string, status int, body []byte) error {
	apiErr := &APIError{Method: method, Path: path, Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Msg == "" {
		apiErr.Msg = string(body)
	}
	return apiErr
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
