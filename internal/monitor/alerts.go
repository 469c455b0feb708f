package monitor

import (
	"fmt"
	"log"

	"webhook-trader/internal/events"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) Send(message string) error {
	log.Printf("🚨 ALERT %s", message)
	return nil
}

// alertTopics are the events an operator has to look at.
var alertTopics = []events.Event{
	events.EventCorrelationDropped,
	events.EventCorrelationPruned,
	events.EventSignalRejected,
}

// describe renders an alert line for msg; ok is false when msg is not worth
// an alert.
func describe(msg events.Message) (string, bool) {
	switch msg.Event {
	case events.EventCorrelationDropped:
		return fmt.Sprintf("entry rolled back after its correlation could not be saved: %+v", msg.Payload), true
	case events.EventCorrelationPruned:
		return fmt.Sprintf("orphaned correlation pruned: %+v", msg.Payload), true
	case events.EventSignalRejected:
		p, _ := msg.Payload.(map[string]any)
		// ordinary rejections are reported by the webhook response
		if reason, _ := p["reason"].(string); reason == "gateway_unavailable" || reason == "internal" {
			return fmt.Sprintf("signal failed (%s): %v", reason, p["error"]), true
		}
	}
	return "", false
}
