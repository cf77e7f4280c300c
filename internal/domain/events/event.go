package events

import "time"

// DomainEvent is implemented by every event the domain raises. The event type
// drives routing; the occurrence time is stamped by the producer.
type DomainEvent interface {
	EventType() EventType
	OccurredAt() time.Time
}

// EventEnvelope encapsulates all event data flowing through the system, providing
// a standardized format for event processing and distribution.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically containing a business identifier
	// like a JobID that events can be grouped or partitioned by.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on the
	// EventType.
	Payload DomainEvent
}

// NewEnvelope wraps a domain event, applying the publish options.
func NewEnvelope(event DomainEvent, opts ...PublishOption) EventEnvelope {
	var params PublishParams
	for _, opt := range opts {
		opt(&params)
	}

	return EventEnvelope{
		Type:      event.EventType(),
		Key:       params.Key,
		Headers:   params.Headers,
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}
}
