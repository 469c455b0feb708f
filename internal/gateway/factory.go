package gateway

import (
	"context"
	"log"
	"time"

	"webhook-trader/internal/lifecycle"
	"webhook-trader/pkg/cache"
	futures "webhook-trader/pkg/exchanges/binance/futures_usdt"
	market "webhook-trader/pkg/market/binance"
)

// Config selects and configures the venue.
type Config struct {
	DryRun         bool
	InitialBalance float64
	Asset          string

	APIKey     string
	APISecret  string
	Testnet    bool
	BaseURL    string
	WSBaseURL  string
	MaxBackoff time.Duration
}

// Venue is what the coordinator trades on, plus its lifecycle hooks. In dry
// runs Paper is set and Live only supplies public market data.
type Venue struct {
	Name  string
	Live  *Binance
	Paper *Paper

	initialBalance float64
}

// Gateway returns the implementation orders go to.
func (v *Venue) Gateway() lifecycle.Gateway {
	if v.Paper != nil {
		return v.Paper
	}
	return v.Live
}

// Build creates the venue for cfg.
func Build(cfg Config) *Venue {
	client := futures.NewClient(futures.Config{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Testnet:   cfg.Testnet,
		BaseURL:   cfg.BaseURL,
	})
	streams := market.NewStreamClient(cfg.Testnet, cfg.WSBaseURL)
	live := NewBinance(client, streams, BinanceConfig{MaxBackoff: cfg.MaxBackoff})

	name := "binance-usdtfut"
	if cfg.Testnet {
		name += "-testnet"
	}
	v := &Venue{Name: name, Live: live}
	if cfg.DryRun {
		v.Name = "paper(" + name + ")"
		v.initialBalance = cfg.InitialBalance
		v.Paper = NewPaper(PaperConfig{Asset: cfg.Asset, InitialBalance: cfg.InitialBalance}, live)
	}
	return v
}

// Start brings the venue's feeds up. Dry runs never touch private endpoints.
func (v *Venue) Start(ctx context.Context) {
	if v.Paper != nil {
		v.Live.StartPublic(ctx)
		log.Printf("✓ DRY-RUN venue %s ready (balance %.2f)", v.Name, v.initialBalance)
		return
	}
	v.Live.Start(ctx)
}

// Stop closes the venue's feeds.
func (v *Venue) Stop(ctx context.Context) {
	v.Live.Stop(ctx)
}

// Prices returns the last-price cache of the symbols orders are watched on.
func (v *Venue) Prices() *cache.Prices {
	if v.Paper != nil {
		return v.Paper.Prices()
	}
	return v.Live.Prices()
}

// Healthy reports whether the private feed is connected; the paper venue is
// always healthy.
func (v *Venue) Healthy() bool {
	if v.Paper != nil {
		return true
	}
	return v.Live.Healthy()
}
