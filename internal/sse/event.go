package sse

import "maps"

// StreamIDKey is the metadata key used to route events to the subscribers of
// a single chat stream.
const StreamIDKey = "streamId"

// Metadata is the string map attached to events and subscribers.
type Metadata map[string]string

// StreamID returns the routing key and whether it is present.
func (m Metadata) StreamID() (string, bool) {
	v, ok := m[StreamIDKey]
	return v, ok
}

// With returns a copy of m with key set to value.
func (m Metadata) With(key, value string) Metadata {
	out := make(Metadata, len(m)+1)
	maps.Copy(out, m)
	out[key] = value
	return out
}

// Payload is the opaque body of an event. It is serialized by the transport.
type Payload map[string]any

// With returns a copy of p with key set to value.
func (p Payload) With(key string, value any) Payload {
	out := make(Payload, len(p)+1)
	maps.Copy(out, p)
	out[key] = value
	return out
}

// Event is a record relayed from a publisher to its subscribers. Events are
// treated as immutable once published; use the With* helpers to derive copies.
type Event struct {
	// Type is the event-type tag, e.g. "spreadsheetUpdateEvent".
	Type string `json:"event"`
	// ID is allocated from the owning publisher's IDGenerator.
	ID uint64 `json:"id"`
	// Retry is the reconnect hint in milliseconds sent to SSE clients.
	Retry int64 `json:"retry,omitempty"`
	// Data is the payload serialized as the SSE data field.
	Data Payload `json:"data,omitempty"`
	// Metadata is used for routing and is never sent as data.
	Metadata Metadata `json:"metadata,omitempty"`
}

// StreamID returns the routing key of the event.
func (e Event) StreamID() (string, bool) {
	return e.Metadata.StreamID()
}

// WithID returns a copy of e carrying id.
func (e Event) WithID(id uint64) Event {
	e.ID = id
	return e
}

// WithData returns a copy of e with a single payload entry replaced.
func (e Event) WithData(key string, value any) Event {
	e.Data = e.Data.With(key, value)
	return e
}

// WithStreamID returns a copy of e routed to streamID.
func (e Event) WithStreamID(streamID string) Event {
	e.Metadata = e.Metadata.With(StreamIDKey, streamID)
	return e
}

// EventBuilder assembles an Event field by field.
type EventBuilder struct {
	e Event
}

// NewEvent starts building an event of the given type.
func NewEvent(eventType string) *EventBuilder {
	return &EventBuilder{e: Event{Type: eventType, Data: Payload{}, Metadata: Metadata{}}}
}

func (b *EventBuilder) ID(id uint64) *EventBuilder {
	b.e.ID = id
	return b
}

func (b *EventBuilder) Retry(ms int64) *EventBuilder {
	b.e.Retry = ms
	return b
}

func (b *EventBuilder) Data(key string, value any) *EventBuilder {
	b.e.Data[key] = value
	return b
}

func (b *EventBuilder) Metadata(key, value string) *EventBuilder {
	b.e.Metadata[key] = value
	return b
}

// Build returns the event. The builder must not be reused afterwards.
func (b *EventBuilder) Build() Event {
	return b.e
}
