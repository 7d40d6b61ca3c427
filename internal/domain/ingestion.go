// Package domain holds the registry pipeline's shared types: ingestion
// requests and batches, validation and deduplication results, canonical
// entities, archive records and pipeline events.
//
// Import Path: dsr.gov.ph/registry/internal/domain
package domain

import (
	"strings"
	"time"
)

// DataType identifies the kind of record being ingested.
type DataType string

const (
	DataTypeHousehold       DataType = "HOUSEHOLD"
	DataTypeIndividual      DataType = "INDIVIDUAL"
	DataTypeEconomicProfile DataType = "ECONOMIC_PROFILE"
)

// ParseDataType normalizes a caller-supplied data type. HOUSEHOLD_MEMBER is
// accepted as an alias of INDIVIDUAL.
func ParseDataType(s string) DataType {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == string(EntityHouseholdMember) {
		return DataTypeIndividual
	}
	return DataType(v)
}

// Source systems with dedicated parsing strategies.
const (
	SourceListahanan  = "LISTAHANAN"
	SourceIRegistro   = "I_REGISTRO"
	SourceManualEntry = "MANUAL_ENTRY"
)

// SubmittedBySystem is the provenance recorded for parser-generated requests.
const SubmittedBySystem = "SYSTEM"

// Status is both the record-level pipeline state and the status vocabulary
// returned to callers.
type Status string

const (
	StatusReceived   Status = "RECEIVED"
	StatusValidating Status = "VALIDATING"
	StatusDedupCheck Status = "DEDUP_CHECK"
	StatusCleaning   Status = "CLEANING"
	StatusPersisting Status = "PERSISTING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusPartial    Status = "PARTIAL"
	StatusValid      Status = "VALID"
	StatusNotFound   Status = "NOT_FOUND"
	StatusCompleted  Status = "COMPLETED"
)

// Terminal reports whether a batch in this status is immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusPartial, StatusValid, StatusCompleted:
		return true
	}
	return false
}

// IngestionRequest is one record submitted for ingestion. It is transient.
type IngestionRequest struct {
	SourceSystem       string    `json:"sourceSystem"`
	DataType           DataType  `json:"dataType"`
	SubmittedBy        string    `json:"submittedBy"`
	SubmissionDate     time.Time `json:"submissionDate"`
	DataPayload        Payload   `json:"dataPayload"`
	ValidateOnly       bool      `json:"validateOnly"`
	SkipDuplicateCheck bool      `json:"skipDuplicateCheck"`
}

// FieldIssue is one validation error or warning.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// String renders "field: message".
func (f FieldIssue) String() string {
	if f.Field == "" {
		return f.Message
	}
	return f.Field + ": " + f.Message
}

// ValidationResult is produced per record and never persisted.
type ValidationResult struct {
	Valid    bool         `json:"valid"`
	Errors   []FieldIssue `json:"errors"`
	Warnings []FieldIssue `json:"warnings"`
}

// HasWarning reports whether a warning was raised for field.
func (r ValidationResult) HasWarning(field string) bool {
	for _, w := range r.Warnings {
		if w.Field == field {
			return true
		}
	}
	return false
}

// IngestionResponse is returned by every orchestrator operation.
type IngestionResponse struct {
	Status            Status    `json:"status"`
	IngestionID       string    `json:"ingestionId,omitempty"`
	BatchID           string    `json:"batchId,omitempty"`
	Message           string    `json:"message"`
	TotalRecords      int       `json:"totalRecords"`
	SuccessfulRecords int       `json:"successfulRecords"`
	FailedRecords     int       `json:"failedRecords"`
	DuplicateRecords  int       `json:"duplicateRecords"`
	ReviewRecords     int       `json:"reviewRecords"`
	ValidationErrors  []string  `json:"validationErrors"`
	Warnings          []string  `json:"warnings,omitempty"`
	ProcessingTimeMs  int64     `json:"processingTimeMs"`
	ProcessedAt       time.Time `json:"processedAt"`
}

// IngestionBatch is the durable lifecycle record of one batch.
type IngestionBatch struct {
	ID                string     `json:"id"`
	BatchID           string     `json:"batchId"`
	SourceSystem      string     `json:"sourceSystem"`
	DataType          DataType   `json:"dataType"`
	Status            Status     `json:"status"`
	TotalRecords      int        `json:"totalRecords"`
	SuccessfulRecords int        `json:"successfulRecords"`
	FailedRecords     int        `json:"failedRecords"`
	DuplicateRecords  int        `json:"duplicateRecords"`
	ReviewRecords     int        `json:"reviewRecords"`
	ProcessingTimeMs  int64      `json:"processingTimeMs"`
	FilePath          string     `json:"filePath,omitempty"`
	FileSizeBytes     int64      `json:"fileSizeBytes,omitempty"`
	SubmittedBy       string     `json:"submittedBy"`
	SubmittedAt       time.Time  `json:"submittedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
}

// CounterDelta is an atomic increment applied to a batch's counters.
type CounterDelta struct {
	Total      int
	Successful int
	Failed     int
	Duplicate  int
	Review     int
}

// IsZero reports whether the delta changes nothing.
func (d CounterDelta) IsZero() bool {
	return d == CounterDelta{}
}

// Add returns the element-wise sum.
func (d CounterDelta) Add(o CounterDelta) CounterDelta {
	return CounterDelta{
		Total:      d.Total + o.Total,
		Successful: d.Successful + o.Successful,
		Failed:     d.Failed + o.Failed,
		Duplicate:  d.Duplicate + o.Duplicate,
		Review:     d.Review + o.Review,
	}
}

// Apply adds the delta to a batch in memory.
func (b *IngestionBatch) Apply(d CounterDelta) {
	b.TotalRecords += d.Total
	b.SuccessfulRecords += d.Successful
	b.FailedRecords += d.Failed
	b.DuplicateRecords += d.Duplicate
	b.ReviewRecords += d.Review
}

// BatchStatistics aggregates counters across batches.
type BatchStatistics struct {
	TotalBatches            int            `json:"totalBatches"`
	TotalRecords            int            `json:"totalRecords"`
	SuccessfulRecords       int            `json:"successfulRecords"`
	FailedRecords           int            `json:"failedRecords"`
	DuplicateRecords        int            `json:"duplicateRecords"`
	ReviewRecords           int            `json:"reviewRecords"`
	AverageProcessingTimeMs float64        `json:"averageProcessingTimeMs"`
	ByStatus                map[Status]int `json:"byStatus"`
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	SourceSystem string
	Status       Status
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

// Recommendation is the deduplication verdict.
type Recommendation string

const (
	RecommendAccept Recommendation = "ACCEPT"
	RecommendReject Recommendation = "REJECT"
	// RecommendMerge routes the record to human review. It is never applied
	// automatically.
	RecommendMerge Recommendation = "MERGE"
)

// MatchCandidate is one existing entity that resembles the incoming record.
type MatchCandidate struct {
	EntityID      string             `json:"entityId"`
	Score         float64            `json:"score"`
	FieldScores   map[string]float64 `json:"fieldScores,omitempty"`
	Reason        string             `json:"reason"`
	BlockingKey   string             `json:"blockingKey,omitempty"`
	MatchedFields []string           `json:"matchedFields,omitempty"`
}

// DeduplicationResult is the engine's verdict for one record.
type DeduplicationResult struct {
	HasDuplicates  bool             `json:"hasDuplicates"`
	Recommendation Recommendation   `json:"recommendation"`
	Candidates     []MatchCandidate `json:"candidates"`
	BlockingKeys   []string         `json:"blockingKeys,omitempty"`
}

// BestScore returns the highest candidate score, 0 with no candidates.
func (r DeduplicationResult) BestScore() float64 {
	best := 0.0
	for _, c := range r.Candidates {
		if c.Score > best {
			best = c.Score
		}
	}
	return best
}

// ReviewStatus is the state of a MERGE review item.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewAccepted ReviewStatus = "ACCEPTED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// ReviewItem is a record held for human adjudication after a MERGE verdict.
type ReviewItem struct {
	ID           string           `json:"id"`
	BatchID      string           `json:"batchId"`
	SourceSystem string           `json:"sourceSystem"`
	DataType     DataType         `json:"dataType"`
	Payload      Payload          `json:"payload"`
	Candidates   []MatchCandidate `json:"candidates"`
	Status       ReviewStatus     `json:"status"`
	SubmittedBy  string           `json:"submittedBy"`
	CreatedAt    time.Time        `json:"createdAt"`
	ResolvedAt   *time.Time       `json:"resolvedAt,omitempty"`
	ResolvedBy   string           `json:"resolvedBy,omitempty"`
	EntityID     string           `json:"entityId,omitempty"`
}
