package queue

// Event names published by the queue.
const (
	EventClaimed        = "request_claimed"
	EventDone           = "request_done"
	EventWorkerPanic    = "worker_panic"
	EventWorkerReplaced = "worker_replaced"
	EventShutdownStart  = "shutdown_start"
	EventShutdownDone   = "shutdown_done"
)

// Event represents a queue lifecycle event: name, the request it concerns
// (if any) and optional fields.
type Event struct {
	Name      string
	RequestID string
	Fields    map[string]any
}

// EventPublisher receives events from the queue. Implementations should be
// lightweight and non-blocking; Publish is called from worker goroutines and
// must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
