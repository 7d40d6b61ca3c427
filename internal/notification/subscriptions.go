package notification

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// Register wires the publisher and the operational log handlers onto d.
//
// Every event goes to pub. Batch completion and review queueing are also
// logged at info level so operators see them without a broker consumer.
func Register(d *domain.EventDispatcher, pub Publisher) {
	d.RegisterAll(func(ctx context.Context, e *domain.Event) error {
		return pub.Publish(ctx, e)
	})
	d.Register(domain.EventBatchCompleted, onBatchCompleted)
	d.Register(domain.EventRecordQueued, onRecordQueued)
}

func onBatchCompleted(_ context.Context, e *domain.Event) error {
	var body struct {
		Status            string `json:"status"`
		TotalRecords      int    `json:"totalRecords"`
		SuccessfulRecords int    `json:"successfulRecords"`
		FailedRecords     int    `json:"failedRecords"`
	}
	if err := json.Unmarshal(e.Payload, &body); err != nil {
		logger.Warn("Unreadable batch completion event",
			zap.String("event_id", e.EventID),
			zap.Error(err),
		)
		return nil
	}
	if body.Status != string(domain.StatusSuccess) {
		logger.Info("Batch finished with failures",
			zap.String("batch_id", e.AggregateID),
			zap.String("status", body.Status),
			zap.Int("total", body.TotalRecords),
			zap.Int("failed", body.FailedRecords),
		)
	}
	return nil
}

func onRecordQueued(_ context.Context, e *domain.Event) error {
	logger.Info("Record awaiting duplicate review",
		zap.String("review_id", e.AggregateID),
		zap.String("submitted_by", e.Actor),
	)
	return nil
}
