package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/archiving"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// DefaultSweepInterval is how often the retention sweep runs.
const DefaultSweepInterval = 24 * time.Hour

// RetentionSweepArgs is a periodic maintenance job that archives entities
// past their retention period.
type RetentionSweepArgs struct{}

// Kind returns the job kind identifier for the retention sweep.
func (RetentionSweepArgs) Kind() string { return "retention_sweep" }

// InsertOpts ensures at most one sweep is enqueued within the same hour.
func (RetentionSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// Sweeper runs one retention sweep.
type Sweeper interface {
	RunRetentionSweep(ctx context.Context) ([]archiving.SweepReport, error)
}

// RetentionSweepWorker archives data according to the retention policies.
type RetentionSweepWorker struct {
	river.WorkerDefaults[RetentionSweepArgs]
	sweeper Sweeper
}

// NewRetentionSweepWorker creates a sweep worker.
func NewRetentionSweepWorker(sweeper Sweeper) *RetentionSweepWorker {
	return &RetentionSweepWorker{sweeper: sweeper}
}

// Timeout lets a sweep run as long as it needs; it observes cancellation
// between entities.
func (w *RetentionSweepWorker) Timeout(*river.Job[RetentionSweepArgs]) time.Duration {
	return -1
}

// Work runs the sweep.
func (w *RetentionSweepWorker) Work(ctx context.Context, _ *river.Job[RetentionSweepArgs]) error {
	if w == nil || w.sweeper == nil {
		return fmt.Errorf("retention sweep worker is not initialized")
	}

	reports, err := w.sweeper.RunRetentionSweep(ctx)
	for _, r := range reports {
		if r.Result == nil {
			continue
		}
		logger.Info("retention sweep completed for entity type",
			zap.String("entity_type", string(r.EntityType)),
			zap.String("cutoff", r.Cutoff.Format(time.RFC3339)),
			zap.Int("archived", r.Result.ArchivedCount),
			zap.Int("errors", len(r.Result.Errors)),
			zap.Bool("success", r.Result.Success),
		)
	}
	if err != nil {
		return fmt.Errorf("run retention sweep: %w", err)
	}
	return nil
}

// PeriodicJobs returns the periodic job schedule. A non-positive interval
// falls back to daily.
func PeriodicJobs(sweepInterval time.Duration) []*river.PeriodicJob {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(sweepInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return RetentionSweepArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
