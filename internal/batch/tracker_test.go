package batch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsr.gov.ph/registry/internal/batch"
	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/repository/memory"
)

func init() {
	_ = logger.Init("error", "json")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (p *recordingPublisher) Dispatch(_ context.Context, e *domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

func TestProjectStatus(t *testing.T) {
	tests := []struct {
		name      string
		succeeded int
		failed    int
		duplicate int
		want      domain.Status
	}{
		{"all succeeded", 5, 0, 0, domain.StatusSuccess},
		{"only duplicates", 0, 3, 3, domain.StatusFailed},
		{"duplicates among successes", 4, 1, 1, domain.StatusPartial},
		{"empty batch", 0, 0, 0, domain.StatusSuccess},
		{"mixed", 3, 2, 0, domain.StatusPartial},
		{"all failed", 0, 4, 1, domain.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &domain.IngestionBatch{SuccessfulRecords: tt.succeeded, FailedRecords: tt.failed, DuplicateRecords: tt.duplicate}
			assert.Equal(t, tt.want, batch.ProjectStatus(b))
		})
	}
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "All records processed successfully", batch.Summary(&domain.IngestionBatch{Status: domain.StatusSuccess}))
	assert.Equal(t, "Partial success: 3 succeeded, 2 failed",
		batch.Summary(&domain.IngestionBatch{Status: domain.StatusPartial, SuccessfulRecords: 3, FailedRecords: 2}))
	assert.Equal(t, "Ingestion cancelled: timeout",
		batch.Summary(&domain.IngestionBatch{Status: domain.StatusFailed, ErrorMessage: "Ingestion cancelled: timeout"}))
}

func TestTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	events := &recordingPublisher{}
	tr := batch.NewTracker(memory.NewBatchStore(), events)

	b, err := tr.Start(ctx, batch.StartParams{
		BatchID:         "LEGACY_LISTAHANAN_1",
		SourceSystem:    domain.SourceListahanan,
		DataType:        domain.DataTypeHousehold,
		SubmittedBy:     domain.SubmittedBySystem,
		ExpectedRecords: 10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, domain.StatusReceived, b.Status)
	assert.Equal(t, 10, b.TotalRecords)

	require.NoError(t, tr.Advance(ctx, b.BatchID, domain.StatusValidating))
	require.Error(t, tr.Advance(ctx, b.BatchID, domain.StatusSuccess))
	require.NoError(t, tr.Count(ctx, b.BatchID, domain.CounterDelta{Successful: 6}))
	require.NoError(t, tr.Count(ctx, b.BatchID, domain.CounterDelta{Failed: 3, Duplicate: 2}))
	require.NoError(t, tr.Count(ctx, b.BatchID, domain.CounterDelta{}))

	done, err := tr.Complete(ctx, b.BatchID, 1500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, done.Status)
	assert.Equal(t, 9, done.TotalRecords)
	assert.Equal(t, int64(1500), done.ProcessingTimeMs)
	require.NotNil(t, done.CompletedAt)

	_, err = tr.Complete(ctx, b.BatchID, time.Second)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	got, err := tr.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, done.Status, got.Status)

	assert.Equal(t, []domain.EventType{domain.EventBatchStarted, domain.EventBatchCompleted}, events.types())
}

func TestTracker_FailKeepsCounters(t *testing.T) {
	ctx := context.Background()
	tr := batch.NewTracker(memory.NewBatchStore(), nil)
	b, err := tr.Start(ctx, batch.StartParams{BatchID: "B", SourceSystem: domain.SourceIRegistro})
	require.NoError(t, err)
	require.NoError(t, tr.Count(ctx, "B", domain.CounterDelta{Successful: 4}))

	done, err := tr.Fail(ctx, b.BatchID, time.Second, "Ingestion cancelled: context deadline exceeded")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, done.Status)
	assert.Equal(t, 4, done.SuccessfulRecords)
	assert.Equal(t, "Ingestion cancelled: context deadline exceeded", done.ErrorMessage)
}

func TestTracker_DuplicateBatchID(t *testing.T) {
	ctx := context.Background()
	tr := batch.NewTracker(memory.NewBatchStore(), nil)
	_, err := tr.Start(ctx, batch.StartParams{BatchID: "B"})
	require.NoError(t, err)
	_, err = tr.Start(ctx, batch.StartParams{BatchID: "B"})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}
