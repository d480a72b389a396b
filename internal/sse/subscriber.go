package sse

import (
	"errors"
	"slices"
	"sync"
)

var (
	// ErrSinkClosed is returned when sending to a subscriber that has been closed.
	ErrSinkClosed = errors.New("subscriber sink closed")
	// ErrSinkFull is returned when a subscriber's sink has no free capacity.
	ErrSinkFull = errors.New("subscriber sink full")
)

// Subscriber is a live client endpoint. The publisher side writes through
// TrySend and the transport side reads from Events until Done is closed.
type Subscriber struct {
	UserID   uint64
	Token    string
	Metadata Metadata

	eventTypes []string

	sink      chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewSubscriber creates a subscriber whose sink buffers up to capacity events.
// When eventTypes is empty the subscriber accepts every type of the
// publishers it is attached to.
func NewSubscriber(userID uint64, token string, metadata Metadata, capacity int, eventTypes ...string) *Subscriber {
	if metadata == nil {
		metadata = Metadata{}
	}
	return &Subscriber{
		UserID:     userID,
		Token:      token,
		Metadata:   metadata,
		eventTypes: eventTypes,
		sink:       make(chan Event, max(capacity, 0)),
		done:       make(chan struct{}),
	}
}

// StreamID returns the stream the subscriber is bound to, if any.
func (s *Subscriber) StreamID() (string, bool) {
	return s.Metadata.StreamID()
}

// Wants reports whether the subscriber asked for events of eventType.
func (s *Subscriber) Wants(eventType string) bool {
	return len(s.eventTypes) == 0 || slices.Contains(s.eventTypes, eventType)
}

// TrySend offers e to the sink without blocking.
func (s *Subscriber) TrySend(e Event) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}

	select {
	case s.sink <- e:
		return nil
	default:
		return ErrSinkFull
	}
}

// Events is the read side of the sink.
func (s *Subscriber) Events() <-chan Event {
	return s.sink
}

// Done is closed once the subscriber has been closed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Close marks the subscriber as disconnected. It is safe to call repeatedly.
// The sink channel itself is never closed.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Closed reports whether Close has been called.
func (s *Subscriber) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
