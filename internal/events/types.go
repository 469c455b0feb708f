package events

// Event enumerates lifecycle topics.
type Event string

const (
	EventSignalAccepted     Event = "signal.accepted"
	EventSignalRejected     Event = "signal.rejected"
	EventOrderUpdate        Event = "order.update"
	EventOrderCancelled     Event = "order.cancelled"
	EventProtectionPlaced   Event = "protection.placed"
	EventPositionClosed     Event = "position.closed"
	EventSnapshotRefreshed  Event = "snapshot.refreshed"
	EventPriceTick          Event = "price.tick"
	EventCorrelationPruned  Event = "correlation.pruned"
	EventCorrelationDropped Event = "correlation.dropped"
)

// Topics lists every lifecycle topic, for subscribers that want all of them.
var Topics = []Event{
	EventSignalAccepted,
	EventSignalRejected,
	EventOrderUpdate,
	EventOrderCancelled,
	EventProtectionPlaced,
	EventPositionClosed,
	EventSnapshotRefreshed,
	EventPriceTick,
	EventCorrelationPruned,
	EventCorrelationDropped,
}
