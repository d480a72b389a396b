// Package router dispatches events to the single publisher owning their type
// and attaches subscribers to the publishers of the types they ask for.
package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"ssebot/internal/sse"
)

// ErrDuplicateEventType is returned when two publishers claim the same event type.
var ErrDuplicateEventType = errors.New("event type already owned by another publisher")

// Router maps event types to publishers.
type Router struct {
	mu     sync.RWMutex
	owners map[string]sse.Publisher
	pubs   []sse.Publisher
	logger *zap.Logger
}

// New creates an empty router.
func New(logger *zap.Logger) *Router {
	return &Router{
		owners: make(map[string]sse.Publisher),
		logger: logger.Named("router"),
	}
}

// Register makes pub the owner of its event types. Registration is all or
// nothing: if any type is already owned nothing changes.
func (r *Router) Register(pub sse.Publisher) error {
	if pub == nil {
		return errors.New("cannot register nil publisher")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	types := pub.EventTypes()
	for _, t := range types {
		if owner, ok := r.owners[t]; ok {
			return fmt.Errorf("publisher %s cannot claim %q owned by %s: %w", pub.Name(), t, owner.Name(), ErrDuplicateEventType)
		}
	}
	for _, t := range types {
		r.owners[t] = pub
	}
	r.pubs = append(r.pubs, pub)

	r.logger.Info("publisher registered", zap.String("publisher", pub.Name()), zap.Strings("eventTypes", types))
	return nil
}

// Publishers returns the registered publishers in registration order.
func (r *Router) Publishers() []sse.Publisher {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.pubs)
}

// Publisher returns the owner of eventType.
func (r *Router) Publisher(eventType string) (sse.Publisher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pub, ok := r.owners[eventType]
	return pub, ok
}

// Publish stamps event with the next id of the owning publisher and fans it out.
func (r *Router) Publish(ctx context.Context, event sse.Event) (sse.Event, sse.Delivery, error) {
	pub, ok := r.Publisher(event.Type)
	if !ok {
		return event, sse.Delivery{}, fmt.Errorf("no publisher for %q: %w", event.Type, sse.ErrUnknownEventType)
	}

	event = event.WithID(pub.NextID())
	d, err := pub.OnEvent(ctx, event)
	if err != nil {
		return event, d, fmt.Errorf("failed to publish %q: %w", event.Type, err)
	}

	return event, d, nil
}

// Subscribe attaches sub to every publisher owning one of eventTypes, or to
// all publishers when eventTypes is empty. It returns the publishers sub was
// attached to, which the caller passes to Unsubscribe on disconnect.
func (r *Router) Subscribe(ctx context.Context, sub *sse.Subscriber, eventTypes ...string) ([]sse.Publisher, error) {
	targets, err := r.targets(eventTypes)
	if err != nil {
		return nil, err
	}

	attached := make([]sse.Publisher, 0, len(targets))
	for _, pub := range targets {
		if err := pub.OnSubscribe(ctx, sub); err != nil {
			r.Unsubscribe(ctx, sub, attached)
			return nil, fmt.Errorf("failed to subscribe to %s: %w", pub.Name(), err)
		}
		attached = append(attached, pub)
	}

	return attached, nil
}

// Unsubscribe detaches sub from pubs. Failures are logged.
func (r *Router) Unsubscribe(ctx context.Context, sub *sse.Subscriber, pubs []sse.Publisher) {
	for _, pub := range pubs {
		if err := pub.OnUnsubscribe(ctx, sub); err != nil {
			r.logger.Error("failed to unsubscribe",
				zap.String("publisher", pub.Name()),
				zap.Uint64("userId", sub.UserID),
				zap.Error(err),
			)
		}
	}
}

func (r *Router) targets(eventTypes []string) ([]sse.Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(eventTypes) == 0 {
		return slices.Clone(r.pubs), nil
	}

	var out []sse.Publisher
	for _, t := range eventTypes {
		pub, ok := r.owners[t]
		if !ok {
			return nil, fmt.Errorf("cannot subscribe to %q: %w", t, sse.ErrUnknownEventType)
		}
		if !slices.Contains(out, pub) {
			out = append(out, pub)
		}
	}
	return out, nil
}
