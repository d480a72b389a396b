package publisher

import (
	"slices"

	"ssebot/internal/sse"
)

// BaseHandler provides the default sse.Handler behaviour: forward every
// matched event unchanged and ignore lifecycle notifications. Concrete
// handlers embed it and override what they need.
type BaseHandler struct {
	Types []string
}

// EventTypes implements sse.Handler.
func (h BaseHandler) EventTypes() []string {
	return slices.Clone(h.Types)
}

// HandleEvent implements sse.Handler.
func (BaseHandler) HandleEvent(_ *sse.Subscriber, event sse.Event) (sse.Event, bool) {
	return event, true
}

// OnSubscriberAdded implements sse.Handler.
func (BaseHandler) OnSubscriberAdded(sse.Publisher, *sse.Subscriber) {}

// OnSubscriberRemoved implements sse.Handler.
func (BaseHandler) OnSubscriberRemoved(sse.Publisher, *sse.Subscriber) {}
