package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of pipeline event.
type EventType string

const (
	EventBatchStarted   EventType = "BATCH_STARTED"
	EventBatchCompleted EventType = "BATCH_COMPLETED"
	EventRecordQueued   EventType = "RECORD_QUEUED_FOR_REVIEW"
	EventReviewResolved EventType = "REVIEW_RESOLVED"
	EventEntityArchived EventType = "ENTITY_ARCHIVED"
	EventEntityRestored EventType = "ENTITY_RESTORED"
	EventPolicyChanged  EventType = "RETENTION_POLICY_CHANGED"
)

// Event is an immutable notification about something the pipeline did.
// Payload carries identifiers only; consumers read details from the store.
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewEvent builds an event with a v7 id. A payload that fails to marshal is
// dropped, the identifiers are enough for consumers.
func NewEvent(eventType EventType, aggregateType, aggregateID, actor string, payload any) *Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	return &Event{
		EventID:       id.String(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       raw,
		Actor:         actor,
		OccurredAt:    time.Now().UTC(),
	}
}
