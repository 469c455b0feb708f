package lifecycle

import (
	"fmt"
	"log"
	"runtime/debug"
	"sync"
)

// lanes runs work for a key strictly in submission order. Each key gets a
// goroutine only while it has pending work, so a hung call stalls that key
// and nothing else.
type lanes struct {
	mu     sync.Mutex
	queues map[string]*lane
	wg     sync.WaitGroup
}

type lane struct {
	pending []func()
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string]*lane)}
}

// submit enqueues fn on key's lane without waiting.
func (l *lanes) submit(key string, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln, running := l.queues[key]
	if !running {
		ln = &lane{}
		l.queues[key] = ln
	}
	ln.pending = append(ln.pending, fn)
	if !running {
		l.wg.Add(1)
		go l.drain(key, ln)
	}
}

// do runs fn on key's lane and waits for its result. A panic in fn comes
// back as an error.
func (l *lanes) do(key string, fn func() error) error {
	done := make(chan error, 1)
	l.submit(key, func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic on lane %s: %v", key, r)
			}
		}()
		done <- fn()
	})
	return <-done
}

func (l *lanes) drain(key string, ln *lane) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		if len(ln.pending) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		fn := ln.pending[0]
		ln.pending[0] = nil
		ln.pending = ln.pending[1:]
		l.mu.Unlock()

		runSafe(key, fn)
	}
}

// wait blocks until every lane is idle.
func (l *lanes) wait() {
	l.wg.Wait()
}

func runSafe(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [lane %s] recovered panic: %v\n%s", key, r, debug.Stack())
		}
	}()
	fn()
}
