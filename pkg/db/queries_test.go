package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestKVUpsert(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if _, found, err := d.GetValue(ctx, "requestedOrders"); err != nil || found {
		t.Fatalf("expected missing key, found=%v err=%v", found, err)
	}
	if err := d.SetValue(ctx, "requestedOrders", `[1]`); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := d.SetValue(ctx, "requestedOrders", `[1,2]`); err != nil {
		t.Fatalf("SetValue overwrite: %v", err)
	}
	v, found, err := d.GetValue(ctx, "requestedOrders")
	if err != nil || !found || v != `[1,2]` {
		t.Fatalf("GetValue=%q found=%v err=%v", v, found, err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	d := newTestDB(t)
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("second ApplyMigrations: %v", err)
	}
	ok, err := columnExists(d.DB, "signals", "leverage")
	if err != nil || !ok {
		t.Fatalf("leverage column missing: ok=%v err=%v", ok, err)
	}
}

func TestSignalsAuditTrail(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	records := []SignalRecord{
		{ID: "a", Symbol: "BTCUSDT", Direction: "BUY", Low: 100, High: 110, Result: "accepted", OrderID: 7, Quantity: "20.000", Leverage: 2, CreatedAt: base},
		{ID: "b", Symbol: "BTCUSDT", Direction: "SELL", Low: 100, High: 110, Result: "rejected", Reason: "duplicate symbol", CreatedAt: base.Add(time.Second)},
		{ID: "c", Symbol: "ETHUSDT", Direction: "BUY", Low: 1, High: 2, Result: "accepted", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		if err := d.RecordSignal(ctx, r); err != nil {
			t.Fatalf("RecordSignal(%s): %v", r.ID, err)
		}
	}

	btc, err := d.ListSignals(ctx, "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(btc) != 2 || btc[0].ID != "b" || btc[1].ID != "a" {
		t.Fatalf("unexpected order %+v", btc)
	}
	if btc[1].Quantity != "20.000" || btc[1].Leverage != 2 || btc[1].OrderID != 7 {
		t.Fatalf("fields not round-tripped: %+v", btc[1])
	}

	all, err := d.ListSignals(ctx, "", 2)
	if err != nil || len(all) != 2 || all[0].ID != "c" {
		t.Fatalf("ListSignals all=%+v err=%v", all, err)
	}
}
