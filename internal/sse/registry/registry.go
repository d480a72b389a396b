// Package registry holds the live subscribers of a publisher and decides which
// of them an event is routed to.
package registry

import (
	"sync"

	"ssebot/internal/sse"
)

// Listener receives lifecycle notifications. Callbacks run after the registry
// lock has been released, so they may call back into the registry.
type Listener interface {
	SubscriberAdded(sub *sse.Subscriber)
	SubscriberRemoved(sub *sse.Subscriber)
}

// Registry maps connection tokens to subscribers.
type Registry struct {
	mu       sync.RWMutex
	subs     map[string]*sse.Subscriber
	listener Listener
}

// New creates an empty registry. listener may be nil.
func New(listener Listener) *Registry {
	return &Registry{
		subs:     make(map[string]*sse.Subscriber),
		listener: listener,
	}
}

// Add inserts sub. It reports false and emits nothing when the token is
// already registered.
func (r *Registry) Add(sub *sse.Subscriber) bool {
	r.mu.Lock()
	if _, ok := r.subs[sub.Token]; ok {
		r.mu.Unlock()
		return false
	}
	r.subs[sub.Token] = sub
	r.mu.Unlock()

	if r.listener != nil {
		r.listener.SubscriberAdded(sub)
	}
	return true
}

// Remove deletes sub. It reports false and emits nothing when sub is not
// registered.
func (r *Registry) Remove(sub *sse.Subscriber) bool {
	r.mu.Lock()
	cur, ok := r.subs[sub.Token]
	if !ok || cur != sub {
		r.mu.Unlock()
		return false
	}
	delete(r.subs, sub.Token)
	r.mu.Unlock()

	if r.listener != nil {
		r.listener.SubscriberRemoved(sub)
	}
	return true
}

// Match returns every subscriber compatible with event. A subscriber matches
// when either side lacks a stream id or both carry the same one, and the
// subscriber accepts the event type. Other metadata keys are ignored.
func (r *Registry) Match(event sse.Event) []*sse.Subscriber {
	eventStream, eventHasStream := event.StreamID()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*sse.Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		if !sub.Wants(event.Type) {
			continue
		}
		subStream, subHasStream := sub.StreamID()
		if !subHasStream || !eventHasStream || subStream == eventStream {
			out = append(out, sub)
		}
	}
	return out
}

// Snapshot returns a copy of the current subscriber set.
func (r *Registry) Snapshot() []*sse.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*sse.Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// Get returns the subscriber registered under token.
func (r *Registry) Get(token string) (*sse.Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[token]
	return sub, ok
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subs)
}
