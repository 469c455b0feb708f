package gateway

import "time"

const (
	baseDelay       = 1 * time.Second
	defaultMaxDelay = 60 * time.Second
)

// CalculateBackoff returns baseDelay * 2^retryCount, capped at maxDelay
// (60s when maxDelay <= 0).
func CalculateBackoff(retryCount int, maxDelay time.Duration) time.Duration {
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	if retryCount < 0 {
		return baseDelay
	}
	// 2^30 seconds is far beyond any sane cap; avoid shift overflow.
	if retryCount > 30 {
		return maxDelay
	}
	backoff := baseDelay * time.Duration(1<<retryCount)
	if backoff > maxDelay {
		return maxDelay
	}
	return backoff
}
