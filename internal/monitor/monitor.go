package monitor

import (
	"context"
	"log"
	"time"

	"webhook-trader/internal/events"
)

// Monitor watches lifecycle events and forwards the ones an operator must
// see to Sink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(50, alertTopics...)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				text, alert := describe(msg)
				if !alert {
					continue
				}
				if err := m.Sink.Send(formatAlert(msg.Time, text)); err != nil {
					log.Printf("⚠️  [monitor] alert delivery failed: %v", err)
				}
			}
		}
	}()
}

func formatAlert(at time.Time, text string) string {
	return "[" + at.Format(time.RFC3339) + "] " + text
}
