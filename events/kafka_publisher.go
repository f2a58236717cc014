// Package events publishes task lifecycle events onto an outward Kafka
// topic. Publishing is entirely optional: NewPublisherFromEnv returns a nil
// *Publisher when no brokers are configured, and Publish and Close do nothing
// on a nil *Publisher, so the orchestrator runs the same with or without an
// event bus attached.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"

	"github.com/flowmesh/orchestrator/observability"
)

// EventType identifies the stage of a task's lifecycle an Event describes.
type EventType string

const (
	EventTaskStarted   EventType = "task.started"
	EventTaskSucceeded EventType = "task.succeeded"
	EventTaskFailed    EventType = "task.failed"
	EventTaskSkipped   EventType = "task.skipped"
	EventRunCompleted  EventType = "run.completed"
)

// Event is the wire shape published for every task lifecycle transition.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	SessionID  string    `json:"sessionId"`
	TaskID     string    `json:"taskId,omitempty"`
	Role       string    `json:"role,omitempty"`
	Message    string    `json:"message,omitempty"`
	DurationMS int64     `json:"durationMs,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PublisherConfig configures the Kafka-backed Publisher.
type PublisherConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	RequiredAcks kafka.RequiredAcks
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	Async        bool
}

// DefaultPublisherConfig returns sane defaults for a low-volume event stream.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Topic:        "orchestrator.task-events",
		ClientID:     uuid.New().String(),
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Async:        true,
	}
}

// Publisher publishes Events to Kafka. A nil *Publisher is always safe to
// call Publish and Close on.
type Publisher struct {
	writer *kafka.Writer
	logger observability.Logger
}

// NewPublisher dials no brokers eagerly (kafka.Writer connects lazily on
// first write) but validates the config up front.
func NewPublisher(cfg PublisherConfig, logger observability.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events: at least one broker is required")
	}
	if logger == nil {
		logger = observability.NewNoOpLogger()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: cfg.RequiredAcks,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Async:        cfg.Async,
	}

	return &Publisher{writer: writer, logger: logger}, nil
}

// NewPublisherFromEnv builds a Publisher from the comma-separated broker list
// in KafkaBrokers, or returns (nil, nil) when that string is empty — the
// orchestrator treats a nil *Publisher as "events disabled".
func NewPublisherFromEnv(kafkaBrokers, kafkaTopic string, logger observability.Logger) (*Publisher, error) {
	kafkaBrokers = strings.TrimSpace(kafkaBrokers)
	if kafkaBrokers == "" {
		return nil, nil
	}

	cfg := DefaultPublisherConfig()
	cfg.Brokers = splitAndTrim(kafkaBrokers)
	if kafkaTopic != "" {
		cfg.Topic = kafkaTopic
	}

	return NewPublisher(cfg, logger)
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Publish writes one Event. Failures are logged, never returned: an event
// bus outage must not fail the orchestration run it is merely observing.
func (p *Publisher) Publish(ctx context.Context, evt Event) {
	if p == nil || p.writer == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("events: failed to marshal event", observability.String("type", string(evt.Type)), observability.String("error", err.Error()))
		return
	}

	msg := kafka.Message{
		Key:   []byte(evt.SessionID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
		Time: evt.OccurredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("events: failed to publish event", observability.String("type", string(evt.Type)), observability.String("error", err.Error()))
	}
}

// TaskStarted publishes an EventTaskStarted.
func (p *Publisher) TaskStarted(ctx context.Context, sessionID, taskID, role string) {
	p.Publish(ctx, Event{Type: EventTaskStarted, SessionID: sessionID, TaskID: taskID, Role: role})
}

// TaskFinished publishes the terminal event for a task given its node status.
func (p *Publisher) TaskFinished(ctx context.Context, sessionID, taskID, role, status, message string, durationMS int64) {
	var evtType EventType
	switch status {
	case "success":
		evtType = EventTaskSucceeded
	case "skipped":
		evtType = EventTaskSkipped
	default:
		evtType = EventTaskFailed
	}
	p.Publish(ctx, Event{
		Type:       evtType,
		SessionID:  sessionID,
		TaskID:     taskID,
		Role:       role,
		Message:    message,
		DurationMS: durationMS,
	})
}

// RunCompleted publishes a summary event once a full request has aggregated.
func (p *Publisher) RunCompleted(ctx context.Context, sessionID, summary string, durationMS int64) {
	p.Publish(ctx, Event{Type: EventRunCompleted, SessionID: sessionID, Message: summary, DurationMS: durationMS})
}

// Close flushes and releases the underlying Kafka writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
