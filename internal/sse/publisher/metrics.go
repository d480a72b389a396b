package publisher

import (
	"context"
	"time"

	"ssebot/internal/sse"
	"ssebot/internal/sse/metrics"
)

// MetricsPublisher wraps an sse.Publisher with metrics collection
type MetricsPublisher struct {
	sse.Publisher
	registry *metrics.Registry
}

// NewMetricsPublisher creates a new instrumented publisher and exposes its
// subscriber count. The count is read from the wrapped publisher at scrape
// time, so removals that bypass the decorator are seen.
func NewMetricsPublisher(publisher sse.Publisher, registry *metrics.Registry) sse.Publisher {
	registry.RegisterActiveSubscribers(publisher.Name(), func() int {
		return len(publisher.Subscribers())
	})

	return &MetricsPublisher{
		Publisher: publisher,
		registry:  registry,
	}
}

// OnEvent implements sse.Publisher.OnEvent with metrics collection
func (p *MetricsPublisher) OnEvent(ctx context.Context, event sse.Event) (sse.Delivery, error) {
	start := time.Now()

	d, err := p.Publisher.OnEvent(ctx, event)
	duration := time.Since(start)

	p.registry.RecordEvent(p.Name(), event.Type, d.Matched, d.Delivered, d.Evicted, duration, err)

	return d, err
}

// DeliverToStream implements sse.Publisher.DeliverToStream with metrics collection
func (p *MetricsPublisher) DeliverToStream(ctx context.Context, streamID string, event sse.Event) sse.Delivery {
	start := time.Now()

	d := p.Publisher.DeliverToStream(ctx, streamID, event)
	duration := time.Since(start)

	p.registry.RecordEvent(p.Name(), event.Type, d.Matched, d.Delivered, d.Evicted, duration, nil)

	return d
}

// OnSubscribe implements sse.Publisher.OnSubscribe with metrics collection
func (p *MetricsPublisher) OnSubscribe(ctx context.Context, sub *sse.Subscriber) error {
	err := p.Publisher.OnSubscribe(ctx, sub)

	p.registry.RecordSubscription(p.Name(), "subscribe", err)

	return err
}

// OnUnsubscribe implements sse.Publisher.OnUnsubscribe with metrics collection
func (p *MetricsPublisher) OnUnsubscribe(ctx context.Context, sub *sse.Subscriber) error {
	err := p.Publisher.OnUnsubscribe(ctx, sub)

	p.registry.RecordSubscription(p.Name(), "unsubscribe", err)

	return err
}
