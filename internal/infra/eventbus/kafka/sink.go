package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanq/internal/domain/events"
	"github.com/ahrav/scanq/internal/infra/eventbus/memory"
	"github.com/ahrav/scanq/pkg/common/logger"
)

// SinkMetrics defines metrics operations needed to monitor event forwarding.
type SinkMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

// EventSink forwards job events from the in-process broadcaster to a Kafka
// topic. It consumes a broadcaster subscription, so a slow or unavailable
// cluster costs dropped events rather than blocking the scheduler.
type EventSink struct {
	producer sarama.SyncProducer
	client   sarama.Client
	topic    string

	logger  *logger.Logger
	metrics SinkMetrics
	tracer  trace.Tracer
}

// NewEventSink wraps an existing producer.
func NewEventSink(
	producer sarama.SyncProducer,
	topic string,
	logger *logger.Logger,
	metrics SinkMetrics,
	tracer trace.Tracer,
) *EventSink {
	return &EventSink{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "kafka_event_sink", "topic", topic),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Publish writes one envelope to the topic, keyed by the envelope key.
func (s *EventSink) Publish(ctx context.Context, env events.EventEnvelope) error {
	ctx, span := startProducerSpan(ctx, s.topic, s.tracer)
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", string(env.Type)),
		attribute.String("event.key", env.Key),
	)

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serialization failed")
		s.metrics.IncPublishError(ctx, s.topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", env.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     s.topic,
		Key:       sarama.StringEncoder(env.Key),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: env.Timestamp,
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(env.Type)},
		},
	}
	for k, v := range env.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	injectTraceContext(ctx, msg)

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		s.metrics.IncPublishError(ctx, s.topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", s.topic, err)
	}
	s.metrics.IncMessagePublished(ctx, s.topic)

	s.logger.Debug(ctx, "Published message to Kafka",
		"partition", partition,
		"offset", offset,
		"key", env.Key,
	)
	return nil
}

// Run forwards envelopes from sub until the subscription closes or ctx is done.
// Send failures are logged and the event is skipped.
func (s *EventSink) Run(ctx context.Context, sub *memory.Subscription) error {
	defer sub.Close()

	for {
		select {
		case env, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := s.Publish(ctx, env); err != nil {
				s.logger.Error(ctx, "Failed to forward job event", "event_type", env.Type, "key", env.Key, "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases the producer and, when the sink owns it, the client.
func (s *EventSink) Close() error {
	if err := s.producer.Close(); err != nil {
		return fmt.Errorf("closing producer: %w", err)
	}
	if s.client != nil && !s.client.Closed() {
		return s.client.Close()
	}
	return nil
}
