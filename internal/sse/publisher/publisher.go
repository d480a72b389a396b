// Package publisher implements the fan-out core shared by every SSE publisher.
// Concrete publishers supply an sse.Handler; subscriber bookkeeping, matching,
// back-pressure and eviction live here.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"ssebot/internal/sse"
	"ssebot/internal/sse/registry"
	"ssebot/internal/validator"
)

// Publisher is the concrete implementation of sse.Publisher.
type Publisher struct {
	name     string
	types    []string
	handler  sse.Handler
	registry *registry.Registry
	ids      sse.Counter
	logger   *zap.Logger
}

// NewPublisher creates a publisher relaying the event types declared by handler.
func NewPublisher(name string, handler sse.Handler, logger *zap.Logger) (*Publisher, error) {
	if err := validator.Validate("publisher", name, handler, logger); err != nil {
		return nil, fmt.Errorf("failed to validate publisher deps: %w", err)
	}

	types := slices.Clone(handler.EventTypes())
	if err := validator.Validate("publisher event types", types); err != nil {
		return nil, fmt.Errorf("publisher %s declares no event types: %w", name, err)
	}

	p := Publisher{
		name:    name,
		types:   types,
		handler: handler,
		logger:  logger.Named("publisher").With(zap.String("publisher", name)),
	}
	p.registry = registry.New(lifecycle{p: &p})

	return &p, nil
}

// Name returns the publisher name.
func (p *Publisher) Name() string {
	return p.name
}

// EventTypes implements sse.Publisher.
func (p *Publisher) EventTypes() []string {
	return slices.Clone(p.types)
}

// NextID implements sse.Publisher.
func (p *Publisher) NextID() uint64 {
	return p.ids.Next()
}

// Subscribers implements sse.Publisher.
func (p *Publisher) Subscribers() []*sse.Subscriber {
	return p.registry.Snapshot()
}

// OnEvent implements sse.Publisher.
func (p *Publisher) OnEvent(ctx context.Context, event sse.Event) (sse.Delivery, error) {
	if !slices.Contains(p.types, event.Type) {
		return sse.Delivery{}, fmt.Errorf("publisher %s cannot relay %q: %w", p.name, event.Type, sse.ErrUnknownEventType)
	}

	return p.deliver(event), nil
}

// DeliverToStream implements sse.Publisher.
func (p *Publisher) DeliverToStream(ctx context.Context, streamID string, event sse.Event) sse.Delivery {
	if !slices.Contains(p.types, event.Type) {
		p.logger.Error("dropping stream event of undeclared type",
			zap.String("eventType", event.Type),
			zap.String("streamId", streamID),
		)
		return sse.Delivery{}
	}

	return p.deliver(event.WithStreamID(streamID))
}

// OnSubscribe implements sse.Publisher.
func (p *Publisher) OnSubscribe(ctx context.Context, sub *sse.Subscriber) error {
	if sub == nil {
		return errors.New("cannot subscribe nil subscriber")
	}

	if !p.registry.Add(sub) {
		p.logger.Debug("subscriber already registered", zap.String("token", sub.Token))
	}

	return nil
}

// OnUnsubscribe implements sse.Publisher.
func (p *Publisher) OnUnsubscribe(ctx context.Context, sub *sse.Subscriber) error {
	if sub == nil {
		return errors.New("cannot unsubscribe nil subscriber")
	}

	p.registry.Remove(sub)

	return nil
}

func (p *Publisher) deliver(event sse.Event) sse.Delivery {
	subs := p.registry.Match(event)
	d := sse.Delivery{Matched: len(subs)}

	for _, sub := range subs {
		shaped, ok := p.handler.HandleEvent(sub, event)
		if !ok {
			continue
		}

		err := sub.TrySend(shaped)
		switch {
		case err == nil:
			d.Delivered++
		case errors.Is(err, sse.ErrSinkFull), errors.Is(err, sse.ErrSinkClosed):
			p.evict(sub, event, err)
			d.Evicted++
		default:
			p.logger.Error("unexpected sink error", zap.String("token", sub.Token), zap.Error(err))
		}
	}

	return d
}

// evict drops a subscriber that cannot keep up. Closing it ends the transport
// stream so the client reconnects.
func (p *Publisher) evict(sub *sse.Subscriber, event sse.Event, cause error) {
	streamID, _ := sub.StreamID()
	p.logger.Warn("evicting subscriber",
		zap.Uint64("userId", sub.UserID),
		zap.String("streamId", streamID),
		zap.String("eventType", event.Type),
		zap.Uint64("eventId", event.ID),
		zap.Error(cause),
	)

	sub.Close()
	p.registry.Remove(sub)
}

// lifecycle forwards registry notifications to the handler.
type lifecycle struct {
	p *Publisher
}

func (l lifecycle) SubscriberAdded(sub *sse.Subscriber) {
	streamID, _ := sub.StreamID()
	l.p.logger.Debug("subscriber added", zap.Uint64("userId", sub.UserID), zap.String("streamId", streamID))
	l.p.handler.OnSubscriberAdded(l.p, sub)
}

func (l lifecycle) SubscriberRemoved(sub *sse.Subscriber) {
	streamID, _ := sub.StreamID()
	l.p.logger.Debug("subscriber removed", zap.Uint64("userId", sub.UserID), zap.String("streamId", streamID))
	l.p.handler.OnSubscriberRemoved(l.p, sub)
}
