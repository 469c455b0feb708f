package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webhook-trader/internal/events"
	"webhook-trader/internal/lifecycle"
	"webhook-trader/internal/monitor"
	"webhook-trader/internal/persistence"
	"webhook-trader/pkg/cache"
	exchange "webhook-trader/pkg/exchanges/common"
)

// Lifecycle is the part of the coordinator the HTTP layer drives.
type Lifecycle interface {
	ProcessSignal(ctx context.Context, sig lifecycle.Signal) (lifecycle.Placement, error)
	Cancel(ctx context.Context, symbol string, orderID int64) error
	Snapshot() lifecycle.Snapshot
	OnPriceTick(t exchange.PriceTick)
}

// PriceInjector moves a simulated market. The paper venue implements it.
type PriceInjector interface {
	InjectPrice(symbol string, price float64)
}

// Server wires HTTP endpoints around the lifecycle coordinator.
type Server struct {
	Router     *gin.Engine
	Bus        *events.Bus
	Coord      Lifecycle
	Prices     PriceInjector
	Audit      *persistence.SignalAudit
	Metrics    *monitor.Metrics
	Passphrase string
	JWTSecret  string
	Meta       SystemMeta
}

// SystemMeta describes runtime status exposed by /health.
type SystemMeta struct {
	DryRun  bool
	Venue   string
	Version string
	Healthy func() bool // exchange feeds connected
	Prices  func() map[string]cache.Quote
}

// Deps are the collaborators of a Server. Coord is required.
type Deps struct {
	Bus        *events.Bus
	Coord      Lifecycle
	Prices     PriceInjector
	Audit      *persistence.SignalAudit
	Metrics    *monitor.Metrics
	Passphrase string
	JWTSecret  string
	Meta       SystemMeta
}

func NewServer(d Deps) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())        // Panic recovery (first)
	r.Use(RequestIDMiddleware()) // Request ID tracking
	r.Use(RequestLogger())       // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(newIPLimiters(20, 50, 5*time.Minute)))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware()) // CORS (last before routes)

	s := &Server{
		Router:     r,
		Bus:        d.Bus,
		Coord:      d.Coord,
		Prices:     d.Prices,
		Audit:      d.Audit,
		Metrics:    d.Metrics,
		Passphrase: d.Passphrase,
		JWTSecret:  d.JWTSecret,
		Meta:       d.Meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.Router.GET("/ws", s.websocket)

	webhook := s.Router.Group("/webhook")
	{
		// TradingView cannot send headers; it authenticates with the passphrase.
		webhook.POST("/tradingview", s.tradingView)

		admin := webhook.Group("")
		admin.Use(AdminAuthMiddleware(s.JWTSecret))
		{
			admin.POST("/fakeprice", s.fakePrice)
			admin.DELETE("/cancelOrder/:orderId", s.cancelOrder)
			admin.GET("/info", s.info)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if s.Meta.Healthy != nil && !s.Meta.Healthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status,
		"dry_run":     s.Meta.DryRun,
		"venue":       s.Meta.Venue,
		"version":     s.Meta.Version,
		"refreshedAt": s.Coord.Snapshot().RefreshedAt,
	})
}

// Handler exposes the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
