package publisher

import (
	"context"

	"go.opentelemetry.io/otel/codes"

	"ssebot/internal/sse"
	"ssebot/internal/sse/tracing"
)

// TracedPublisher wraps an sse.Publisher with distributed tracing
// Layer order: TracedPublisher -> MetricsPublisher -> Publisher (real thing)
type TracedPublisher struct {
	sse.Publisher
	tracer *tracing.Tracer
}

// NewTracedPublisher creates a new traced publisher
func NewTracedPublisher(publisher sse.Publisher, tracer *tracing.Tracer) sse.Publisher {
	return &TracedPublisher{
		Publisher: publisher,
		tracer:    tracer,
	}
}

// OnEvent implements sse.Publisher.OnEvent with distributed tracing
func (p *TracedPublisher) OnEvent(ctx context.Context, event sse.Event) (sse.Delivery, error) {
	ctx, span := p.tracer.StartSpan(ctx, "publisher.on_event")
	defer span.End()

	streamID, _ := event.StreamID()
	span.SetAttributes(p.tracer.EventAttributes(p.Name(), event.Type, event.ID, streamID)...)

	d, err := p.Publisher.OnEvent(ctx, event)

	span.SetAttributes(p.tracer.DeliveryAttributes(d.Matched, d.Delivered, d.Evicted)...)
	if err != nil {
		p.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(p.tracer.ErrorAttributes(err)...)

	return d, err
}

// OnSubscribe implements sse.Publisher.OnSubscribe with distributed tracing
func (p *TracedPublisher) OnSubscribe(ctx context.Context, sub *sse.Subscriber) error {
	return p.traceLifecycle(ctx, "publisher.on_subscribe", sub, p.Publisher.OnSubscribe)
}

// OnUnsubscribe implements sse.Publisher.OnUnsubscribe with distributed tracing
func (p *TracedPublisher) OnUnsubscribe(ctx context.Context, sub *sse.Subscriber) error {
	return p.traceLifecycle(ctx, "publisher.on_unsubscribe", sub, p.Publisher.OnUnsubscribe)
}

func (p *TracedPublisher) traceLifecycle(
	ctx context.Context,
	name string,
	sub *sse.Subscriber,
	next func(context.Context, *sse.Subscriber) error,
) error {
	ctx, span := p.tracer.StartSpan(ctx, name)
	defer span.End()

	if sub != nil {
		streamID, _ := sub.StreamID()
		span.SetAttributes(p.tracer.SubscriberAttributes(p.Name(), sub.UserID, streamID)...)
	}

	err := next(ctx, sub)
	if err != nil {
		p.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(p.tracer.ErrorAttributes(err)...)

	return err
}
