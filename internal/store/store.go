// Package store persists small JSON documents by key. The lifecycle
// coordinator keeps its signal correlations here so they survive restarts.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"webhook-trader/pkg/db"
)

// Store is a key -> JSON document map.
type Store interface {
	// Get decodes the value at key into dst; found is false when absent.
	Get(ctx context.Context, key string, dst any) (found bool, err error)
	// Set replaces the value at key.
	Set(ctx context.Context, key string, value any) error
}

// SQLite keeps documents in the kv table.
type SQLite struct {
	db *db.Database
}

func NewSQLite(database *db.Database) *SQLite {
	return &SQLite{db: database}
}

func (s *SQLite) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, found, err := s.db.GetValue(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.SetValue(ctx, key, string(raw))
}

// Memory is a process-local Store. Values are stored encoded so callers
// never share memory with it.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}
