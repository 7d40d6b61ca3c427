package batch

import (
	"fmt"

	"dsr.gov.ph/registry/internal/domain"
)

// ProjectStatus derives the terminal status of a batch from its counters:
// no failures is SUCCESS, failures alongside successes is PARTIAL, anything
// else is FAILED. Rejected duplicates are already part of FailedRecords;
// review items count as neither.
func ProjectStatus(b *domain.IngestionBatch) domain.Status {
	switch {
	case b.FailedRecords == 0:
		return domain.StatusSuccess
	case b.SuccessfulRecords > 0:
		return domain.StatusPartial
	default:
		return domain.StatusFailed
	}
}

// Summary renders the operator message for a finalized batch.
func Summary(b *domain.IngestionBatch) string {
	if b.ErrorMessage != "" {
		return b.ErrorMessage
	}
	switch b.Status {
	case domain.StatusSuccess:
		return "All records processed successfully"
	case domain.StatusPartial:
		return fmt.Sprintf("Partial success: %d succeeded, %d failed", b.SuccessfulRecords, b.FailedRecords)
	case domain.StatusFailed:
		return "All records failed to process"
	}
	return "Batch processing"
}
