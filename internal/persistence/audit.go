package persistence

import (
	"context"

	"github.com/google/uuid"

	"webhook-trader/pkg/db"
)

// SignalAudit records every processed signal through a BatchWriter.
type SignalAudit struct {
	database *db.Database
	writer   *BatchWriter
}

func NewSignalAudit(database *db.Database, writer *BatchWriter) *SignalAudit {
	return &SignalAudit{database: database, writer: writer}
}

// Record queues one audit row; an empty ID gets a fresh UUID.
func (a *SignalAudit) Record(r db.SignalRecord) {
	if a == nil {
		return
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	q, args := db.SignalInsert(r)
	a.writer.Write(q, args...)
}

// Recent flushes pending rows and returns the newest ones.
func (a *SignalAudit) Recent(ctx context.Context, symbol string, limit int) ([]db.SignalRecord, error) {
	if err := a.writer.Flush(ctx); err != nil {
		return nil, err
	}
	return a.database.ListSignals(ctx, symbol, limit)
}

// Metrics exposes the writer counters.
func (a *SignalAudit) Metrics() BatchWriterMetrics {
	return a.writer.Metrics()
}
