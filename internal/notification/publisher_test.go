package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

type fakeWriter struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	err      error
	deadline bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, time.Second)

	e := domain.NewEvent(domain.EventEntityArchived, "archive", "arch-1", "officer", map[string]any{"entityId": "m-1"})
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "arch-1", string(msg.Key))
	assert.True(t, w.deadline)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "ENTITY_ARCHIVED", headers["event_type"])
	assert.Equal(t, "archive", headers["aggregate_type"])
	assert.Equal(t, e.EventID, headers["event_id"])

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, e.EventID, decoded.EventID)
	assert.JSONEq(t, `{"entityId":"m-1"}`, string(decoded.Payload))
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisher(w, 0)

	err := p.Publish(context.Background(), domain.NewEvent(domain.EventBatchStarted, "batch", "B1", "", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.False(t, w.deadline)
}

func TestRegister_FansOutEveryEvent(t *testing.T) {
	w := &fakeWriter{}
	d := domain.NewEventDispatcher()
	Register(d, NewKafkaPublisher(w, 0))

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, domain.NewEvent(domain.EventBatchCompleted, "batch", "B1", "SYSTEM", map[string]any{
		"status":        domain.StatusPartial,
		"totalRecords":  4,
		"failedRecords": 1,
	})))
	require.NoError(t, d.Dispatch(ctx, domain.NewEvent(domain.EventRecordQueued, "review_item", "R1", "encoder", nil)))
	require.NoError(t, d.Dispatch(ctx, domain.NewEvent(domain.EventPolicyChanged, "retention_policy", "HOUSEHOLD", "SYSTEM", nil)))

	assert.Len(t, w.msgs, 3)
}

func TestRegister_BrokerFailureIsReported(t *testing.T) {
	d := domain.NewEventDispatcher()
	Register(d, NewKafkaPublisher(&fakeWriter{err: errors.New("unreachable")}, 0))

	err := d.Dispatch(context.Background(), domain.NewEvent(domain.EventBatchStarted, "batch", "B1", "", nil))
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	assert.NoError(t, LogPublisher{}.Publish(context.Background(),
		domain.NewEvent(domain.EventEntityRestored, "archive", "A1", "", nil)))
}
