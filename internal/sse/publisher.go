package sse

import (
	"context"
	"errors"
)

// ErrUnknownEventType is returned when an event reaches a publisher or router
// that does not declare its type.
var ErrUnknownEventType = errors.New("unknown event type")

// Delivery summarizes the fan-out of one event.
type Delivery struct {
	// Matched is the number of subscribers admitted by metadata matching.
	Matched int
	// Delivered is the number of sinks that accepted the event.
	Delivered int
	// Evicted is the number of subscribers removed because their sink was
	// closed or full.
	Evicted int
}

// Publisher defines the contract the transport drives.
type Publisher interface {
	// Name identifies the publisher in logs and metrics.
	Name() string

	// EventTypes returns the event types this publisher relays.
	EventTypes() []string

	// OnEvent fans event out to the matching subscribers. It returns
	// ErrUnknownEventType for an event type that is not declared.
	OnEvent(ctx context.Context, event Event) (Delivery, error)

	// OnSubscribe registers sub. Registering the same token twice is a no-op.
	OnSubscribe(ctx context.Context, sub *Subscriber) error

	// OnUnsubscribe removes sub. Removing an unknown subscriber is a no-op.
	OnUnsubscribe(ctx context.Context, sub *Subscriber) error

	// DeliverToStream routes event to the subscribers of streamID.
	DeliverToStream(ctx context.Context, streamID string, event Event) Delivery

	// NextID allocates the next event id of this publisher.
	NextID() uint64

	// Subscribers returns a snapshot of the registered subscribers.
	Subscribers() []*Subscriber
}

// Handler is the per-publisher behaviour plugged into the publisher base.
type Handler interface {
	// EventTypes declares the types the publisher consumes.
	EventTypes() []string

	// HandleEvent shapes event for sub. Returning false drops it for this
	// subscriber only.
	HandleEvent(sub *Subscriber, event Event) (Event, bool)

	// OnSubscriberAdded runs after sub has been registered with pub.
	OnSubscriberAdded(pub Publisher, sub *Subscriber)

	// OnSubscriberRemoved runs after sub has been removed from pub.
	OnSubscriberRemoved(pub Publisher, sub *Subscriber)
}

// StreamDeliverer is the narrow view of a publisher used by background
// producers such as the presence tracker.
type StreamDeliverer interface {
	DeliverToStream(ctx context.Context, streamID string, event Event) Delivery
}
