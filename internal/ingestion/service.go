// Package ingestion runs records through validate, deduplicate, clean and
// persist, and tracks single records, request lists and legacy files as
// batches.
//
// Business failures (validation, duplicates, bad files) and infrastructure
// failures both come back as response statuses. Only the review queue
// operations return errors.
//
// Import Path: dsr.gov.ph/registry/internal/ingestion
package ingestion

import (
	"context"
	"time"

	"dsr.gov.ph/registry/internal/batch"
	"dsr.gov.ph/registry/internal/dedup"
	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/parser"
	"dsr.gov.ph/registry/internal/pkg/retry"
	"dsr.gov.ph/registry/internal/pkg/worker"
	"dsr.gov.ph/registry/internal/repository"
	"dsr.gov.ph/registry/internal/validation"
)

// Service is the ingestion capability exposed to transports and jobs.
type Service interface {
	IngestData(ctx context.Context, req domain.IngestionRequest) *domain.IngestionResponse
	IngestBatch(ctx context.Context, reqs []domain.IngestionRequest, batchID string) *domain.IngestionResponse
	GetIngestionStatus(ctx context.Context, id string) *domain.IngestionResponse
	ProcessLegacyDataFile(ctx context.Context, req FileRequest) *domain.IngestionResponse
	ProcessLegacyDataFileAsync(ctx context.Context, req FileRequest) *domain.IngestionResponse
	GetIngestionStatistics(ctx context.Context, batchID *string) *domain.IngestionResponse
	ListBatches(ctx context.Context, filter domain.BatchFilter) ([]*domain.IngestionBatch, error)
	ListReviewItems(ctx context.Context, status domain.ReviewStatus, limit int) ([]*domain.ReviewItem, error)
	ResolveReviewItem(ctx context.Context, id string, decision domain.ReviewStatus, resolvedBy string) (*domain.ReviewItem, error)
}

// FileRequest identifies a legacy file to ingest.
type FileRequest struct {
	SourceSystem string          `json:"source_system"`
	FilePath     string          `json:"file_path"`
	DataType     domain.DataType `json:"data_type"`
	SubmittedBy  string          `json:"submitted_by"`
	// Uploaded marks a server-side copy of an upload, removed once its
	// async batch is final.
	Uploaded bool `json:"uploaded,omitempty"`
}

// Persister writes a cleaned record to the canonical store and returns the
// new entity id.
type Persister interface {
	Persist(ctx context.Context, req repository.PersistRequest) (string, error)
}

// ReviewQueue holds MERGE records for human adjudication.
type ReviewQueue interface {
	Enqueue(ctx context.Context, item *domain.ReviewItem) error
	FindReview(ctx context.Context, id string) (*domain.ReviewItem, error)
	ListReviews(ctx context.Context, status domain.ReviewStatus, limit int) ([]*domain.ReviewItem, error)
	ResolveReview(ctx context.Context, id string, status domain.ReviewStatus, by, entityID string, at time.Time) (*domain.ReviewItem, error)
}

// Enqueuer stores a prepared file batch and schedules its processing. The
// scheduled work must eventually call Orchestrator.RunFileBatch.
type Enqueuer interface {
	EnqueueFile(ctx context.Context, b *domain.IngestionBatch, req FileRequest) error
}

// Config tunes batch processing.
type Config struct {
	// Parallelism bounds concurrent records within one batch.
	Parallelism int
	// FileTimeout bounds one legacy file run. Zero means no limit.
	FileTimeout time.Duration
	// MaxReportedIssues caps validation errors and warnings copied into a
	// batch response.
	MaxReportedIssues int
	// UploadDir holds uploaded legacy files. Empty means the OS temp dir.
	UploadDir string
}

// DefaultConfig returns 8 workers per batch and a 30 minute file timeout.
func DefaultConfig() Config {
	return Config{Parallelism: 8, FileTimeout: 30 * time.Minute, MaxReportedIssues: 500}
}

// Deps are the orchestrator's collaborators. Validator, Finder, Persister,
// Tracker and Reviews are required.
type Deps struct {
	Validator validation.Validator
	Cleaner   validation.Cleaner
	Finder    dedup.Finder
	Locker    dedup.Locker
	Parser    parser.Parser
	Tracker   *batch.Tracker
	Persister Persister
	Reviews   ReviewQueue
	Retry     *retry.Policy
	Events    domain.EventPublisher

	// Pools run async file batches when Enqueuer is nil.
	Pools    *worker.Pools
	Enqueuer Enqueuer
}

// Orchestrator is the production Service.
type Orchestrator struct {
	validator validation.Validator
	cleaner   validation.Cleaner
	finder    dedup.Finder
	locker    dedup.Locker
	parser    parser.Parser
	tracker   *batch.Tracker
	persister Persister
	reviews   ReviewQueue
	retry     *retry.Policy
	events    domain.EventPublisher
	pools     *worker.Pools
	enqueuer  Enqueuer
	cfg       Config
	now       func() time.Time
}

var _ Service = (*Orchestrator)(nil)

// NewOrchestrator creates an Orchestrator. Missing optional collaborators
// get their production defaults.
func NewOrchestrator(d Deps, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	if cfg.MaxReportedIssues <= 0 {
		cfg.MaxReportedIssues = def.MaxReportedIssues
	}

	o := &Orchestrator{
		validator: d.Validator,
		cleaner:   d.Cleaner,
		finder:    d.Finder,
		locker:    d.Locker,
		parser:    d.Parser,
		tracker:   d.Tracker,
		persister: d.Persister,
		reviews:   d.Reviews,
		retry:     d.Retry,
		events:    d.Events,
		pools:     d.Pools,
		enqueuer:  d.Enqueuer,
		cfg:       cfg,
		now:       time.Now,
	}
	if o.cleaner == nil {
		o.cleaner = validation.NewCleaner()
	}
	if o.locker == nil {
		o.locker = dedup.NewMemoryLocker()
	}
	if o.parser == nil {
		o.parser = parser.New()
	}
	if o.retry == nil {
		o.retry = retry.New(retry.DefaultConfig("canonical-store"))
	}
	if o.enqueuer == nil && o.pools != nil {
		o.enqueuer = poolEnqueuer{o: o}
	}
	return o
}

// SetEnqueuer replaces the async file scheduler. The River enqueuer needs
// the orchestrator for its worker, so it is attached after construction.
func (o *Orchestrator) SetEnqueuer(e Enqueuer) {
	o.enqueuer = e
}
