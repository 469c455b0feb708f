package reconciliation

import (
	"context"
	"log"
	"sync"
	"time"

	"webhook-trader/internal/lifecycle"
)

// Coordinator is the part of the lifecycle coordinator reconciliation needs.
type Coordinator interface {
	Refresh(ctx context.Context) error
	Snapshot() lifecycle.Snapshot
	Reprotect(ctx context.Context, symbol string) error
}

// Service periodically re-reads the exchange and repairs what push events
// missed.
type Service struct {
	coord       Coordinator
	interval    time.Duration
	autoProtect bool
	mu          sync.Mutex
}

// ReconciliationReport contains reconciliation results
type ReconciliationReport struct {
	Timestamp    time.Time
	Unprotected  []string // symbols with a position and no closing leg
	Uncorrelated []int64  // entry orders without a correlation record
	Reprotected  int
	HasIssues    bool
}

// NewService creates a new reconciliation service
func NewService(coord Coordinator, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		coord:       coord,
		interval:    interval,
		autoProtect: true,
	}
}

// SetAutoProtect enables or disables placing missing SL/TP legs.
func (s *Service) SetAutoProtect(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoProtect = enabled
	log.Printf("📊 Reconciliation auto-protect: %v", enabled)
}

// Start begins periodic reconciliation
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report, err := s.Reconcile(ctx)
				if err != nil {
					log.Printf("❌ Reconciliation error: %v", err)
					continue
				}
				s.handleReport(report)

			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("✓ Reconciliation service started (interval: %v, auto-protect: %v)", s.interval, s.autoProtect)
}

// Reconcile refreshes the snapshot and checks every position for protection.
func (s *Service) Reconcile(ctx context.Context) (*ReconciliationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.coord.Refresh(ctx); err != nil {
		return nil, err
	}
	snap := s.coord.Snapshot()

	report := &ReconciliationReport{Timestamp: time.Now()}

	protected := make(map[string]bool)
	for _, o := range snap.OpenOrders {
		if o.Role().Closing() {
			protected[o.Symbol] = true
			continue
		}
		if _, ok := snap.Correlation(o.OrderID); !ok {
			report.Uncorrelated = append(report.Uncorrelated, o.OrderID)
		}
	}

	for _, p := range snap.ActivePositions {
		if protected[p.Symbol] {
			continue
		}
		if s.autoProtect {
			err := s.coord.Reprotect(ctx, p.Symbol)
			if err == nil {
				report.Reprotected++
				continue
			}
			log.Printf("⚠️  Reconciliation could not protect %s: %v", p.Symbol, err)
		}
		report.Unprotected = append(report.Unprotected, p.Symbol)
	}

	report.HasIssues = len(report.Unprotected) > 0 || len(report.Uncorrelated) > 0 || report.Reprotected > 0
	return report, nil
}

func (s *Service) handleReport(report *ReconciliationReport) {
	if !report.HasIssues {
		return
	}
	if report.Reprotected > 0 {
		log.Printf("🩹 Reconciliation re-protected %d position(s)", report.Reprotected)
	}
	for _, sym := range report.Unprotected {
		log.Printf("🚨 Reconciliation: %s position has no stop-loss or take-profit", sym)
	}
	for _, id := range report.Uncorrelated {
		log.Printf("⚠️  Reconciliation: entry order %d has no correlation and will not be protected on fill", id)
	}
}
