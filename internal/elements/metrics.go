package elements

import (
	"context"

	"ssebot/internal/sse/metrics"
)

// MetricsMessageService wraps a MessageService with metrics collection
type MetricsMessageService struct {
	messages MessageService
	registry *metrics.Registry
}

// NewMetricsMessageService creates a new instrumented message service
func NewMetricsMessageService(messages MessageService, registry *metrics.Registry) MessageService {
	return &MetricsMessageService{
		messages: messages,
		registry: registry,
	}
}

// Send implements MessageService.Send with metrics collection
func (s *MetricsMessageService) Send(ctx context.Context, streamID string, msg Message) error {
	err := s.messages.Send(ctx, streamID, msg)

	s.registry.RecordMessageSend(err)

	return err
}
