package common

import (
	"testing"
	"time"
)

func TestRateLimiterPausesNearLimit(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute)

	rl.UpdateFromHeader("50")
	if d := rl.Pause(); d != 0 {
		t.Fatalf("Pause=%v at 50%%, expected 0", d)
	}

	rl.UpdateFromHeader("95")
	if d := rl.Pause(); d <= 0 || d > time.Minute {
		t.Fatalf("Pause=%v at 95%%, expected within the window", d)
	}

	used, limit, _ := rl.Usage()
	if used != 95 || limit != 100 {
		t.Fatalf("Usage=%d/%d, expected 95/100", used, limit)
	}
}

func TestRateLimiterIgnoresBadHeader(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute)
	rl.UpdateFromHeader("")
	rl.UpdateFromHeader("abc")
	if used, _, _ := rl.Usage(); used != 0 {
		t.Fatalf("used=%d, expected 0", used)
	}
}

func TestOpenOrderRole(t *testing.T) {
	tests := []struct {
		order OpenOrder
		want  OrderRole
	}{
		{OpenOrder{Type: OrderTypeStopMarket}, RoleEntry},
		{OpenOrder{Type: OrderTypeStopMarket, ClosePosition: true}, RoleStopLoss},
		{OpenOrder{Type: OrderTypeTakeProfitMarket, ClosePosition: true}, RoleTakeProfit},
		{OpenOrder{Type: OrderTypeTakeProfitMarket, ReduceOnly: true}, RoleTakeProfit},
	}
	for _, tt := range tests {
		if got := tt.order.Role(); got != tt.want {
			t.Fatalf("Role(%+v)=%v, expected %v", tt.order, got, tt.want)
		}
	}
}

func TestParseSide(t *testing.T) {
	if s, ok := ParseSide(" buy "); !ok || s != SideBuy {
		t.Fatalf("ParseSide(buy)=%v,%v", s, ok)
	}
	if _, ok := ParseSide("HOLD"); ok {
		t.Fatalf("ParseSide(HOLD) should fail")
	}
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatalf("Opposite is wrong")
	}
}
