// Package notification publishes pipeline events to the message broker.
//
// Delivery is best effort and happens after the business write committed:
// a broker outage is logged and counted, never surfaced to the caller of the
// operation that produced the event.
//
// Import Path: dsr.gov.ph/registry/internal/notification
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/pkg/metrics"
)

// Publisher sends one event to subscribers outside the process.
type Publisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes events as JSON messages keyed by aggregate id, so
// every event of one batch or archive lands on the same partition.
type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewKafkaPublisher creates a publisher on writer. timeout bounds each
// write; zero means the caller's context alone.
func NewKafkaPublisher(writer MessageWriter, timeout time.Duration) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, timeout: timeout}
}

// Publish encodes and writes event.
func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.EventID, err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "aggregate_type", Value: []byte(event.AggregateType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.EventsPublished.WithLabelValues(string(event.EventType), "error").Inc()
		return fmt.Errorf("write event %s: %w", event.EventID, err)
	}
	metrics.EventsPublished.WithLabelValues(string(event.EventType), "success").Inc()
	return nil
}

// LogPublisher records events in the application log. It stands in for the
// broker when none is configured.
type LogPublisher struct{}

// Publish logs event at debug level.
func (LogPublisher) Publish(_ context.Context, event *domain.Event) error {
	logger.Named("events").Debug("Pipeline event",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.EventType)),
		zap.String("aggregate_type", event.AggregateType),
		zap.String("aggregate_id", event.AggregateID),
	)
	metrics.EventsPublished.WithLabelValues(string(event.EventType), "logged").Inc()
	return nil
}
