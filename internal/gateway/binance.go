package gateway

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"webhook-trader/pkg/cache"
	futures "webhook-trader/pkg/exchanges/binance/futures_usdt"
	exchange "webhook-trader/pkg/exchanges/common"
	market "webhook-trader/pkg/market/binance"
)

const (
	listenKeyKeepAlive = 30 * time.Minute
	exchangeInfoTTL    = time.Hour
)

// BinanceConfig tunes the live adapter.
type BinanceConfig struct {
	MaxBackoff time.Duration // reconnect cap for every feed
	KeepAlive  time.Duration // listen key keep-alive interval
}

// Binance adapts the USDT-M futures REST client and websocket streams to the
// lifecycle coordinator.
type Binance struct {
	client  *futures.Client
	streams *market.StreamClient
	cfg     BinanceConfig

	mu            sync.Mutex
	ctx           context.Context
	orderHandlers []func(exchange.OrderEvent)
	userFeed      *feed[[]byte]
	priceFeeds    map[string]*feed[market.MarkPrice]
	prices        *cache.Prices

	infoMu    sync.Mutex
	info      *futures.ExchangeInfo
	infoFetch time.Time
}

// NewBinance creates the live adapter; Start must run before subscriptions
// deliver anything.
func NewBinance(client *futures.Client, streams *market.StreamClient, cfg BinanceConfig) *Binance {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = listenKeyKeepAlive
	}
	return &Binance{
		client:     client,
		streams:    streams,
		cfg:        cfg,
		ctx:        context.Background(),
		priceFeeds: make(map[string]*feed[market.MarkPrice]),
		prices:     cache.NewPrices(),
	}
}

// StartPublic binds the feeds to ctx without touching private endpoints; used
// when the adapter only serves as a market source for the paper venue.
func (b *Binance) StartPublic(ctx context.Context) {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
}

// Start syncs the signing clock, opens the user-data feed and keeps its
// listen key alive until ctx is done.
func (b *Binance) Start(ctx context.Context) {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	b.client.StartTimeSync(ctx)

	uf := startFeed(ctx, "userData", b.connectUserData, b.handleUserData, b.cfg.MaxBackoff)
	b.mu.Lock()
	b.userFeed = uf
	b.mu.Unlock()

	go b.keepAlive(ctx)
	log.Printf("✓ Binance gateway started (user stream + keepalive every %v)", b.cfg.KeepAlive)
}

// Stop closes every feed and invalidates the listen key.
func (b *Binance) Stop(ctx context.Context) {
	b.mu.Lock()
	feeds := make([]*feed[market.MarkPrice], 0, len(b.priceFeeds))
	for sym, f := range b.priceFeeds {
		feeds = append(feeds, f)
		delete(b.priceFeeds, sym)
	}
	uf := b.userFeed
	b.userFeed = nil
	b.mu.Unlock()

	for _, f := range feeds {
		f.stop()
	}
	if uf != nil {
		uf.stop()
		if err := b.client.CloseListenKey(ctx); err != nil {
			log.Printf("⚠️  close listen key: %v", err)
		}
	}
}

func (b *Binance) connectUserData(ctx context.Context) (<-chan []byte, func(), error) {
	key, err := b.client.CreateListenKey(ctx)
	if err != nil {
		return nil, nil, err
	}
	return b.streams.SubscribeUserData(ctx, key)
}

func (b *Binance) handleUserData(msg []byte) {
	ev, ok, err := futures.ParseOrderTradeUpdate(msg)
	if err != nil {
		log.Printf("⚠️  user stream: %v", err)
		return
	}
	if !ok {
		return
	}
	b.mu.Lock()
	handlers := append([]func(exchange.OrderEvent){}, b.orderHandlers...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (b *Binance) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.client.KeepAliveListenKey(ctx); err != nil {
				log.Printf("⚠️  listen key keepalive: %v", err)
			}
		}
	}
}

// GetBalance returns the wallet balance of asset; zero when the account holds none.
func (b *Binance) GetBalance(ctx context.Context, asset string) (float64, error) {
	info, err := b.client.GetAccountInfo(ctx)
	if err != nil {
		return 0, err
	}
	bal, _ := info.AssetBalance(asset)
	return bal, nil
}

func (b *Binance) GetOpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	raw, err := b.client.GetOpenOrders(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]exchange.OpenOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, o.Common())
	}
	return out, nil
}

// GetPositions returns only positions with a non-zero amount.
func (b *Binance) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	raw, err := b.client.GetPositions(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Position, 0)
	for _, p := range raw {
		pos := p.Common()
		if pos.PositionAmt != 0 {
			out = append(out, pos)
		}
	}
	return out, nil
}

// GetSymbolMetadata reads filters from exchange info, cached for an hour.
func (b *Binance) GetSymbolMetadata(ctx context.Context, symbol string) (exchange.SymbolMetadata, error) {
	info, err := b.exchangeInfo(ctx)
	if err != nil {
		return exchange.SymbolMetadata{}, err
	}
	sym, ok := info.Symbol(symbol)
	if !ok {
		return exchange.SymbolMetadata{}, fmt.Errorf("%w: %s", exchange.ErrSymbolUnknown, symbol)
	}
	return sym.Metadata(), nil
}

func (b *Binance) exchangeInfo(ctx context.Context) (*futures.ExchangeInfo, error) {
	b.infoMu.Lock()
	defer b.infoMu.Unlock()
	if b.info != nil && time.Since(b.infoFetch) < exchangeInfoTTL {
		return b.info, nil
	}
	info, err := b.client.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	b.info = info
	b.infoFetch = time.Now()
	return info, nil
}

// PlaceEntryOrder submits a STOP_MARKET entry triggered on mark price.
func (b *Binance) PlaceEntryOrder(ctx context.Context, o exchange.EntryOrder) (int64, error) {
	resp, err := b.client.SubmitOrder(ctx, futures.OrderRequest{
		Symbol:      o.Symbol,
		Side:        o.Side,
		Type:        exchange.OrderTypeStopMarket,
		Quantity:    o.Quantity,
		StopPrice:   o.StopPrice,
		WorkingType: "MARK_PRICE",
	})
	if err != nil {
		return 0, err
	}
	return resp.OrderID, nil
}

// PlaceClosingOrder submits a TAKE_PROFIT_MARKET or STOP_MARKET leg. With
// ClosePosition the venue closes whatever is open and ignores quantity.
func (b *Binance) PlaceClosingOrder(ctx context.Context, o exchange.ClosingOrder) (int64, error) {
	typ := exchange.OrderTypeStopMarket
	if o.Role == exchange.RoleTakeProfit {
		typ = exchange.OrderTypeTakeProfitMarket
	}
	resp, err := b.client.SubmitOrder(ctx, futures.OrderRequest{
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          typ,
		Quantity:      o.Quantity,
		StopPrice:     o.StopPrice,
		WorkingType:   "MARK_PRICE",
		ClosePosition: o.ClosePosition,
		ReduceOnly:    !o.ClosePosition,
	})
	if err != nil {
		return 0, err
	}
	return resp.OrderID, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return b.client.CancelOrder(ctx, symbol, orderID)
}

func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return b.client.SetLeverage(ctx, symbol, leverage)
}

// SubscribeOrderEvents registers fn for every ORDER_TRADE_UPDATE.
func (b *Binance) SubscribeOrderEvents(fn func(exchange.OrderEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderHandlers = append(b.orderHandlers, fn)
}

// SubscribePriceTicks opens a supervised mark-price feed for symbol.
// Subscribing an already watched symbol is a no-op.
func (b *Binance) SubscribePriceTicks(symbol string, fn func(exchange.PriceTick)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.priceFeeds[symbol]; ok {
		return nil
	}
	connect := func(ctx context.Context) (<-chan market.MarkPrice, func(), error) {
		return b.streams.SubscribeMarkPrice(ctx, symbol)
	}
	var self *feed[market.MarkPrice]
	handle := func(mp market.MarkPrice) {
		b.mu.Lock()
		live := self != nil && b.priceFeeds[symbol] == self
		if live {
			b.cacheMarkPrice(symbol, mp)
		}
		b.mu.Unlock()
		if live {
			fn(exchange.PriceTick{Symbol: mp.Symbol, Price: mp.Price, Time: mp.Time})
		}
	}
	self = startFeed(b.ctx, "markPrice:"+symbol, connect, handle, b.cfg.MaxBackoff)
	b.priceFeeds[symbol] = self
	log.Printf("👀 watching %s mark price", symbol)
	return nil
}

// cacheMarkPrice records mp; b.mu must be held so an unsubscribe cannot
// interleave.
func (b *Binance) cacheMarkPrice(symbol string, mp market.MarkPrice) {
	var at time.Time
	if mp.Time > 0 {
		at = time.UnixMilli(mp.Time)
	}
	b.prices.Set(symbol, mp.Price, at)
}

// UnsubscribePriceTicks stops the symbol's feed and forgets its last price.
func (b *Binance) UnsubscribePriceTicks(symbol string) {
	b.mu.Lock()
	f, ok := b.priceFeeds[symbol]
	delete(b.priceFeeds, symbol)
	b.prices.Delete(symbol)
	b.mu.Unlock()
	if ok {
		go f.stop()
		log.Printf("🙈 stopped watching %s", symbol)
	}
}

// Prices returns the mark-price cache of watched symbols.
func (b *Binance) Prices() *cache.Prices {
	return b.prices
}

// Healthy reports whether the user-data feed is connected.
func (b *Binance) Healthy() bool {
	b.mu.Lock()
	uf := b.userFeed
	b.mu.Unlock()
	return uf != nil && uf.Connected()
}
