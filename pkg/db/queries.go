package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SignalRecord is one row of the signal audit trail.
type SignalRecord struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction string    `json:"direction"`
	Low       float64   `json:"low"`
	High      float64   `json:"high"`
	Result    string    `json:"result"` // accepted | rejected
	Reason    string    `json:"reason,omitempty"`
	OrderID   int64     `json:"orderId,omitempty"`
	Quantity  string    `json:"quantity,omitempty"`
	Leverage  int       `json:"leverage,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// GetValue reads a kv entry; found is false when the key is absent.
func (d *Database) GetValue(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := d.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get kv %s: %w", key, err)
	}
	return v, true, nil
}

// SetValue upserts a kv entry.
func (d *Database) SetValue(ctx context.Context, key, value string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

const insertSignal = `
	INSERT INTO signals (id, symbol, direction, low, high, result, reason, order_id, quantity, leverage, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// SignalInsert returns the statement and arguments that store r, for callers
// that batch writes.
func SignalInsert(r SignalRecord) (string, []any) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return insertSignal, []any{r.ID, r.Symbol, r.Direction, r.Low, r.High, r.Result, r.Reason, r.OrderID, r.Quantity, r.Leverage, r.CreatedAt}
}

// RecordSignal stores one audit row.
func (d *Database) RecordSignal(ctx context.Context, r SignalRecord) error {
	q, args := SignalInsert(r)
	if _, err := d.DB.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("record signal: %w", err)
	}
	return nil
}

// ListSignals returns the newest audit rows first; symbol optional.
func (d *Database) ListSignals(ctx context.Context, symbol string, limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, symbol, direction, low, high, result, COALESCE(reason, ''), COALESCE(order_id, 0),
		       COALESCE(quantity, ''), COALESCE(leverage, 0), created_at
		FROM signals`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var r SignalRecord
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Direction, &r.Low, &r.High, &r.Result, &r.Reason, &r.OrderID, &r.Quantity, &r.Leverage, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
