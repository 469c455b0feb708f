package monitor

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	exchange "webhook-trader/pkg/exchanges/common"
)

// Metrics reports lifecycle activity to prometheus and keeps a few totals
// for the info endpoint.
type Metrics struct {
	signals         *prometheus.CounterVec
	ordersPlaced    *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	orderEvents     *prometheus.CounterVec
	priceTicks      *prometheus.CounterVec
	refreshErrors   prometheus.Counter

	openOrders          prometheus.Gauge
	activePositions     prometheus.Gauge
	pendingCorrelations prometheus.Gauge
	watchedSymbols      prometheus.Gauge

	accepted atomic.Uint64
	rejected atomic.Uint64
	ticks    atomic.Uint64
	events   atomic.Uint64
	started  time.Time
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "signals_total", Help: "Signals processed, by result"},
			[]string{"result"},
		),
		ordersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "orders_placed_total", Help: "Orders placed, by role"},
			[]string{"role"},
		),
		ordersCancelled: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "orders_cancelled_total", Help: "Orders cancelled, by reason"},
			[]string{"reason"},
		),
		orderEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "order_events_total", Help: "Order updates received, by status"},
			[]string{"status"},
		),
		priceTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "price_ticks_total", Help: "Price ticks handled"},
			[]string{"symbol"},
		),
		refreshErrors: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "snapshot_refresh_errors_total", Help: "Failed snapshot refreshes"},
		),
		openOrders:          prometheus.NewGauge(prometheus.GaugeOpts{Name: "open_orders", Help: "Open orders in the snapshot"}),
		activePositions:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "active_positions", Help: "Non-zero positions in the snapshot"}),
		pendingCorrelations: prometheus.NewGauge(prometheus.GaugeOpts{Name: "pending_correlations", Help: "Stored signal correlations"}),
		watchedSymbols:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "watched_symbols", Help: "Symbols with a price subscription"}),
		started:             time.Now(),
	}
	reg.MustRegister(
		m.signals, m.ordersPlaced, m.ordersCancelled, m.orderEvents, m.priceTicks, m.refreshErrors,
		m.openOrders, m.activePositions, m.pendingCorrelations, m.watchedSymbols,
	)
	return m
}

// SignalProcessed counts a signal; an empty reason means accepted.
func (m *Metrics) SignalProcessed(reason string) {
	if reason == "" {
		m.accepted.Add(1)
		m.signals.WithLabelValues("accepted").Inc()
		return
	}
	m.rejected.Add(1)
	m.signals.WithLabelValues(reason).Inc()
}

func (m *Metrics) OrderPlaced(role exchange.OrderRole) {
	m.ordersPlaced.WithLabelValues(role.String()).Inc()
}

func (m *Metrics) OrderCancelled(reason string) {
	m.ordersCancelled.WithLabelValues(reason).Inc()
}

func (m *Metrics) OrderEvent(status exchange.OrderStatus) {
	m.events.Add(1)
	m.orderEvents.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) PriceTick(symbol string) {
	m.ticks.Add(1)
	m.priceTicks.WithLabelValues(symbol).Inc()
}

func (m *Metrics) RefreshFailed() {
	m.refreshErrors.Inc()
}

func (m *Metrics) SnapshotSize(openOrders, positions, correlations, watched int) {
	m.openOrders.Set(float64(openOrders))
	m.activePositions.Set(float64(positions))
	m.pendingCorrelations.Set(float64(correlations))
	m.watchedSymbols.Set(float64(watched))
}

// MetricsSnapshot is a point-in-time summary for the info endpoint.
type MetricsSnapshot struct {
	SignalsAccepted uint64    `json:"signals_accepted"`
	SignalsRejected uint64    `json:"signals_rejected"`
	OrderEvents     uint64    `json:"order_events"`
	PriceTicks      uint64    `json:"price_ticks"`
	GoroutineCount  int       `json:"goroutine_count"`
	HeapAlloc       uint64    `json:"heap_alloc_bytes"`
	Uptime          string    `json:"uptime"`
	Timestamp       time.Time `json:"timestamp"`
}

// GetSnapshot returns the current totals and runtime stats.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		SignalsAccepted: m.accepted.Load(),
		SignalsRejected: m.rejected.Load(),
		OrderEvents:     m.events.Load(),
		PriceTicks:      m.ticks.Load(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Uptime:          time.Since(m.started).Round(time.Second).String(),
		Timestamp:       time.Now(),
	}
}
