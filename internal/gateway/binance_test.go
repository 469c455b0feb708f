package gateway

import (
	"testing"
	"time"

	futures "webhook-trader/pkg/exchanges/binance/futures_usdt"
	exchange "webhook-trader/pkg/exchanges/common"
	market "webhook-trader/pkg/market/binance"
)

func TestBinanceIgnoresTicksAfterUnsubscribe(t *testing.T) {
	b := NewBinance(
		futures.NewClient(futures.Config{}),
		market.NewStreamClient(false, "ws://127.0.0.1:1"),
		BinanceConfig{MaxBackoff: 10 * time.Millisecond},
	)
	ticks := make(chan exchange.PriceTick, 4)
	watch := func() *feed[market.MarkPrice] {
		if err := b.SubscribePriceTicks("BTCUSDT", func(pt exchange.PriceTick) { ticks <- pt }); err != nil {
			t.Fatalf("SubscribePriceTicks: %v", err)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.priceFeeds["BTCUSDT"]
	}

	old := watch()
	old.handle(market.MarkPrice{Symbol: "BTCUSDT", Price: 100, Time: 1700000000000})
	if p, ok := b.Prices().Get("BTCUSDT"); !ok || p != 100 {
		t.Fatalf("cached price = %v, %v", p, ok)
	}
	if len(ticks) != 1 {
		t.Fatalf("ticks = %d, want 1", len(ticks))
	}

	b.UnsubscribePriceTicks("BTCUSDT")
	old.handle(market.MarkPrice{Symbol: "BTCUSDT", Price: 101})
	if _, ok := b.Prices().Get("BTCUSDT"); ok {
		t.Fatal("late tick re-cached an unwatched symbol")
	}

	// a stale feed must not write into its replacement's slot
	current := watch()
	defer b.UnsubscribePriceTicks("BTCUSDT")
	old.handle(market.MarkPrice{Symbol: "BTCUSDT", Price: 102})
	if _, ok := b.Prices().Get("BTCUSDT"); ok {
		t.Fatal("stale feed cached a price")
	}
	current.handle(market.MarkPrice{Symbol: "BTCUSDT", Price: 103})
	if p, _ := b.Prices().Get("BTCUSDT"); p != 103 {
		t.Fatalf("price = %v, want 103", p)
	}
	if len(ticks) != 2 {
		t.Fatalf("ticks = %d, want 2", len(ticks))
	}
}
