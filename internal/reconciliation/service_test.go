package reconciliation

import (
	"context"
	"errors"
	"testing"

	"webhook-trader/internal/lifecycle"
	exchange "webhook-trader/pkg/exchanges/common"
)

type fakeCoordinator struct {
	snap        lifecycle.Snapshot
	refreshErr  error
	reprotected []string
	reprotect   func(symbol string) error
}

func (f *fakeCoordinator) Refresh(context.Context) error { return f.refreshErr }
func (f *fakeCoordinator) Snapshot() lifecycle.Snapshot  { return f.snap }
func (f *fakeCoordinator) Reprotect(_ context.Context, symbol string) error {
	f.reprotected = append(f.reprotected, symbol)
	if f.reprotect != nil {
		return f.reprotect(symbol)
	}
	return nil
}

func snapshotWithGaps() lifecycle.Snapshot {
	return lifecycle.Snapshot{
		OpenOrders: []exchange.OpenOrder{
			{Symbol: "BTCUSDT", OrderID: 1, Type: exchange.OrderTypeTakeProfitMarket, ClosePosition: true},
			{Symbol: "BTCUSDT", OrderID: 2, Type: exchange.OrderTypeStopMarket, ClosePosition: true},
			{Symbol: "SOLUSDT", OrderID: 3, Type: exchange.OrderTypeStopMarket},
			{Symbol: "XRPUSDT", OrderID: 4, Type: exchange.OrderTypeStopMarket},
		},
		ActivePositions: []exchange.Position{
			{Symbol: "BTCUSDT", PositionAmt: 1},
			{Symbol: "ETHUSDT", PositionAmt: -2},
		},
		RequestedOrders: []lifecycle.RequestedOrder{
			{OrderID: 3, Symbol: "SOLUSDT"},
		},
	}
}

func TestReconcileReprotectsUnprotectedPositions(t *testing.T) {
	coord := &fakeCoordinator{snap: snapshotWithGaps()}
	svc := NewService(coord, 0)

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(coord.reprotected) != 1 || coord.reprotected[0] != "ETHUSDT" {
		t.Fatalf("reprotected = %v, want [ETHUSDT]", coord.reprotected)
	}
	if report.Reprotected != 1 || len(report.Unprotected) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Uncorrelated) != 1 || report.Uncorrelated[0] != 4 {
		t.Fatalf("uncorrelated = %v, want [4]", report.Uncorrelated)
	}
	if !report.HasIssues {
		t.Fatal("report should flag issues")
	}
}

func TestReconcileReportsWhenProtectionFails(t *testing.T) {
	coord := &fakeCoordinator{
		snap:      snapshotWithGaps(),
		reprotect: func(string) error { return lifecycle.ErrCorrelationLost },
	}
	svc := NewService(coord, 0)

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(report.Unprotected) != 1 || report.Unprotected[0] != "ETHUSDT" || report.Reprotected != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestReconcileWithoutAutoProtect(t *testing.T) {
	coord := &fakeCoordinator{snap: snapshotWithGaps()}
	svc := NewService(coord, 0)
	svc.SetAutoProtect(false)

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(coord.reprotected) != 0 {
		t.Fatalf("reprotected = %v, want none", coord.reprotected)
	}
	if len(report.Unprotected) != 1 {
		t.Fatalf("unprotected = %v", report.Unprotected)
	}
}

func TestReconcileRefreshFailure(t *testing.T) {
	coord := &fakeCoordinator{refreshErr: errors.New("timeout")}
	if _, err := NewService(coord, 0).Reconcile(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
}

func TestReconcileCleanSnapshot(t *testing.T) {
	coord := &fakeCoordinator{}
	report, err := NewService(coord, 0).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.HasIssues {
		t.Fatalf("report = %+v", report)
	}
}
