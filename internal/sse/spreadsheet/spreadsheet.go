// Package spreadsheet relays spreadsheet updates to the clients viewing a
// stream and publishes presence heartbeats for every connected viewer.
package spreadsheet

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ssebot/internal/sse"
	"ssebot/internal/sse/presence"
	"ssebot/internal/sse/publisher"
	"ssebot/internal/validator"
)

const (
	// Name is the publisher name used in logs and metrics.
	Name = "spreadsheet"

	UpdateEvent   = "spreadsheetUpdateEvent"
	PresenceEvent = "spreadsheetPresenceEvent"
)

// Tracker is the subset of the presence tracker used by the handler.
type Tracker interface {
	BeginSending(ids sse.IDGenerator, template sse.Event, dst sse.StreamDeliverer, streamID string, userID uint64) bool
	FinishSending(streamID string, userID uint64) bool
	Interval() time.Duration
}

var _ Tracker = (*presence.Tracker)(nil)

// Handler is the sse.Handler of the spreadsheet publisher.
type Handler struct {
	publisher.BaseHandler

	tracker Tracker
	logger  *zap.Logger

	// conns counts the registered connections of each (stream, user). Tracker
	// calls are made under mu so begin and finish of one key never reorder.
	mu    sync.Mutex
	conns map[presence.Key]int
}

// NewHandler creates the spreadsheet handler.
func NewHandler(tracker Tracker, logger *zap.Logger) (*Handler, error) {
	if err := validator.Validate("spreadsheet handler", tracker, logger); err != nil {
		return nil, fmt.Errorf("failed to validate spreadsheet handler deps: %w", err)
	}

	return &Handler{
		BaseHandler: publisher.BaseHandler{Types: []string{UpdateEvent, PresenceEvent}},
		tracker:     tracker,
		logger:      logger.Named(Name),
		conns:       make(map[presence.Key]int),
	}, nil
}

// NewPublisher wires a publisher around a new spreadsheet handler.
func NewPublisher(tracker Tracker, logger *zap.Logger) (*publisher.Publisher, error) {
	h, err := NewHandler(tracker, logger)
	if err != nil {
		return nil, err
	}

	return publisher.NewPublisher(Name, h, logger)
}

// HandleEvent implements sse.Handler.
func (h *Handler) HandleEvent(sub *sse.Subscriber, event sse.Event) (sse.Event, bool) {
	h.logger.Debug("sending updates to user",
		zap.Uint64("userId", sub.UserID),
		zap.String("eventType", event.Type),
	)
	return event, true
}

// OnSubscriberAdded starts presence when the first connection of a
// stream-bound (stream, user) pair registers.
func (h *Handler) OnSubscriberAdded(pub sse.Publisher, sub *sse.Subscriber) {
	streamID, ok := sub.StreamID()
	if !ok {
		h.logger.Debug("subscriber without stream, skipping presence", zap.Uint64("userId", sub.UserID))
		return
	}

	key := presence.Key{StreamID: streamID, UserID: sub.UserID}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.adjust(key, 1) != 1 {
		h.logger.Debug("user already connected to stream",
			zap.Uint64("userId", sub.UserID),
			zap.String("streamId", streamID),
		)
		return
	}

	h.tracker.BeginSending(sse.IDFunc(pub.NextID), PresenceTemplate(streamID, h.tracker.Interval()), pub, streamID, sub.UserID)
}

// OnSubscriberRemoved stops presence once the last connection of the
// (stream, user) pair is gone.
func (h *Handler) OnSubscriberRemoved(_ sse.Publisher, sub *sse.Subscriber) {
	streamID, ok := sub.StreamID()
	if !ok {
		return
	}

	key := presence.Key{StreamID: streamID, UserID: sub.UserID}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.adjust(key, -1) != 0 {
		return
	}

	h.tracker.FinishSending(streamID, sub.UserID)
}

// Connections returns the number of registered connections of (streamID, userID).
func (h *Handler) Connections(streamID string, userID uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.conns[presence.Key{StreamID: streamID, UserID: userID}]
}

// adjust applies delta to the count of key and returns the new count. The
// count may dip below zero when a removal is reported before its add; the
// matching add brings it back without starting presence. Callers hold mu.
func (h *Handler) adjust(key presence.Key, delta int) int {
	n := h.conns[key] + delta
	if n == 0 {
		delete(h.conns, key)
	} else {
		h.conns[key] = n
	}
	return n
}

// PresenceTemplate builds the presence event of streamID. The user entry is
// filled in by the tracker.
func PresenceTemplate(streamID string, retry time.Duration) sse.Event {
	return sse.NewEvent(PresenceEvent).
		Retry(retry.Milliseconds()).
		Data("streamId", streamID).
		Metadata(sse.StreamIDKey, streamID).
		Build()
}
