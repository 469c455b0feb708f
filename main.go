package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"webhook-trader/internal/api"
	"webhook-trader/internal/events"
	"webhook-trader/internal/gateway"
	"webhook-trader/internal/lifecycle"
	"webhook-trader/internal/monitor"
	"webhook-trader/internal/persistence"
	"webhook-trader/internal/reconciliation"
	"webhook-trader/internal/store"
	"webhook-trader/pkg/config"
	"webhook-trader/pkg/db"
)

func main() {
	issueToken := flag.String("issue-admin-token", "", "print an admin JWT for the given subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of an issued admin token")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	if *issueToken != "" {
		if cfg.AdminJWTSecret == "" {
			log.Fatal("❌ ADMIN_JWT_SECRET is not set")
		}
		token, err := api.IssueAdminToken(*issueToken, cfg.AdminJWTSecret, *tokenTTL)
		if err != nil {
			log.Fatalf("❌ Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	log.Printf("🚀 Starting webhook-trader %s (port %s, dry-run %v)", buildVersion, cfg.Port, cfg.DryRun)
	log.Printf("💾 Using database: %s", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer database.Close()
	if err := database.Ping(ctx); err != nil {
		log.Fatalf("❌ Database unreachable: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("❌ Failed to apply migrations: %v", err)
	}

	writer := persistence.NewBatchWriter(database.DB, 50, time.Second)
	audit := persistence.NewSignalAudit(database, writer)

	bus := events.NewBus()
	metrics := monitor.NewMetrics(prometheus.DefaultRegisterer)
	alerts := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{}}
	alerts.Start(ctx)

	venue := gateway.Build(gateway.Config{
		DryRun:         cfg.DryRun,
		InitialBalance: cfg.DryRunInitialBalance,
		Asset:          cfg.TradingAsset,
		APIKey:         cfg.BinanceAPIKey,
		APISecret:      cfg.BinanceAPISecret,
		Testnet:        cfg.BinanceTestnet,
		BaseURL:        cfg.BinanceBaseURL,
		WSBaseURL:      cfg.BinanceWSBaseURL,
		MaxBackoff:     cfg.FeedReconnectMax,
	})
	venue.Start(ctx)

	coord := lifecycle.New(venue.Gateway(), store.NewSQLite(database), lifecycle.Config{
		Asset:                 cfg.TradingAsset,
		MaxPositionPercentage: cfg.MaxPositionPercentage,
		MaxLeverage:           cfg.MaxLeverage,
		CorrelationGrace:      cfg.CorrelationGrace,
	}, lifecycle.WithBus(bus), lifecycle.WithObserver(metrics))
	if err := coord.Start(ctx); err != nil {
		log.Fatalf("❌ Failed to start lifecycle coordinator: %v", err)
	}
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("❌ Lifecycle coordinator stopped: %v", err)
		}
	}()

	reconciliation.NewService(coord, cfg.ReconcileInterval).Start(ctx)

	deps := api.Deps{
		Bus:        bus,
		Coord:      coord,
		Audit:      audit,
		Metrics:    metrics,
		Passphrase: cfg.WebhookPassphrase,
		JWTSecret:  cfg.AdminJWTSecret,
		Meta: api.SystemMeta{
			DryRun:  cfg.DryRun,
			Venue:   venue.Name,
			Version: buildVersion,
			Healthy: venue.Healthy,
			Prices:  venue.Prices().All,
		},
	}
	if venue.Paper != nil {
		deps.Prices = venue.Paper
	}
	server := api.NewServer(deps)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("🌐 API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ API server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("🛑 Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  HTTP shutdown: %v", err)
	}
	cancel()
	<-runDone
	venue.Stop(shutdownCtx)
	if err := writer.Close(); err != nil {
		log.Printf("⚠️  Flushing audit writer: %v", err)
	}
}
