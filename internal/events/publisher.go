package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Event types published by this service. The notification and reporting
// systems consume these; nothing here waits for them.
const (
	TypeExamStarted   = "exam.started"
	TypeExamSubmitted = "exam.submitted"
	TypeExamGraded    = "exam.graded"
	TypeTaskCreated   = "task.created"
	TypeTaskAssigned  = "task.assigned"
	TypeTaskRequeued  = "task.requeued"
	TypeTaskCompleted = "task.completed"
	TypeSLABreached   = "sla.breached"
)

const eventSource = "evaluation-scheduler-service"

// Event is the envelope every published message carries.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent builds an envelope with a fresh id and the service identity.
func NewEvent(eventType string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    eventSource,
		Version:   "1.0",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Publisher emits lifecycle and SLA events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaPublisher publishes events to one Kafka topic via watermill.
type KafkaPublisher struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return &KafkaPublisher{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.Type, err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("type", event.Type)
	msg.Metadata.Set("source", event.Source)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}

	p.logger.Debug("Published event", "type", event.Type, "id", event.ID)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.publisher.Close()
}

// NoopPublisher drops events. Used when no brokers are configured, so local
// development never needs Kafka running.
type NoopPublisher struct{}

func NewNoopPublisher() Publisher {
	return NoopPublisher{}
}

func (NoopPublisher) Publish(ctx context.Context, event Event) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
