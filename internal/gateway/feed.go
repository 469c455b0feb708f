package gateway

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// connectFunc opens one stream session. The returned channel closes when the
// session ends; stop tears it down early.
type connectFunc[T any] func(ctx context.Context) (<-chan T, func(), error)

// feed supervises a stream: it reconnects with exponential backoff for as
// long as its context lives. The retry counter resets after every successful
// connect.
type feed[T any] struct {
	name      string
	connect   connectFunc[T]
	handle    func(T)
	maxDelay  time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
	sessions  atomic.Int64
}

func startFeed[T any](parent context.Context, name string, connect connectFunc[T], handle func(T), maxDelay time.Duration) *feed[T] {
	ctx, cancel := context.WithCancel(parent)
	f := &feed[T]{
		name:     name,
		connect:  connect,
		handle:   handle,
		maxDelay: maxDelay,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go f.run(ctx)
	return f
}

func (f *feed[T]) run(ctx context.Context) {
	defer close(f.done)
	retry := 0
	for {
		if ctx.Err() != nil {
			return
		}

		ch, stop, err := f.connect(ctx)
		if err != nil {
			delay := CalculateBackoff(retry, f.maxDelay)
			log.Printf("⚠️  [feed %s] connect failed (retry=%d, next in %v): %v", f.name, retry, delay, err)
			retry++
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		retry = 0
		f.connected.Store(true)
		f.sessions.Add(1)
		log.Printf("🔌 [feed %s] connected", f.name)

		for msg := range ch {
			f.handle(msg)
		}
		stop()
		f.connected.Store(false)

		if ctx.Err() != nil {
			return
		}
		delay := CalculateBackoff(retry, f.maxDelay)
		log.Printf("⚠️  [feed %s] disconnected, reconnecting in %v", f.name, delay)
		retry++
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// Connected reports whether a session is currently open.
func (f *feed[T]) Connected() bool {
	return f.connected.Load()
}

func (f *feed[T]) stop() {
	f.cancel()
	<-f.done
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
