package gateway

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retry int
		max   time.Duration
		want  time.Duration
	}{
		{-1, 0, time.Second},
		{0, 0, time.Second},
		{1, 0, 2 * time.Second},
		{5, 0, 32 * time.Second},
		{6, 0, 60 * time.Second},
		{100, 0, 60 * time.Second},
		{3, 5 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(tt.retry, tt.max); got != tt.want {
			t.Fatalf("CalculateBackoff(%d, %v)=%v, expected %v", tt.retry, tt.max, got, tt.want)
		}
	}
}
