package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Prices holds the last mark price of every watched symbol. Feeds write from
// their own goroutines, so the map is sharded to keep writers apart.
type Prices struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

// Quote is one cached price and when the exchange reported it.
type Quote struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// NewPrices creates an empty cache.
func NewPrices() *Prices {
	c := &Prices{}
	for i := range c.shards {
		c.shards[i] = &priceShard{items: make(map[string]Quote)}
	}
	return c
}

func (c *Prices) shard(symbol string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Set records price for symbol. A zero at means now.
func (c *Prices) Set(symbol string, price float64, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	s := c.shard(symbol)
	s.mu.Lock()
	s.items[symbol] = Quote{Price: price, At: at}
	s.mu.Unlock()
}

// Get returns the last price of symbol.
func (c *Prices) Get(symbol string) (float64, bool) {
	q, ok := c.Quote(symbol)
	return q.Price, ok
}

// Quote returns the last price of symbol with its timestamp.
func (c *Prices) Quote(symbol string) (Quote, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	q, ok := s.items[symbol]
	s.mu.RUnlock()
	return q, ok
}

// Delete forgets symbol.
func (c *Prices) Delete(symbol string) {
	s := c.shard(symbol)
	s.mu.Lock()
	delete(s.items, symbol)
	s.mu.Unlock()
}

// Len returns the number of cached symbols.
func (c *Prices) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// All copies every cached quote (for /webhook/info).
func (c *Prices) All() map[string]Quote {
	out := make(map[string]Quote)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, q := range s.items {
			out[sym] = q
		}
		s.mu.RUnlock()
	}
	return out
}
