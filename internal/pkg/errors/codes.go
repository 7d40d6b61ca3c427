package errors

import (
	"fmt"
	"net/http"
)

// Error codes. Messages are English operator text; callers key off Code.

// Ingestion error codes.
const (
	CodeIngestionNotFound = "INGESTION_NOT_FOUND"
	CodeBatchNotFound     = "BATCH_NOT_FOUND"
	CodeBatchFinalized    = "BATCH_ALREADY_FINALIZED"
	CodeInvalidFileFormat = "INVALID_FILE_FORMAT"
	CodeDuplicateRecord   = "DUPLICATE_RECORD"
	CodeReviewNotFound    = "REVIEW_ITEM_NOT_FOUND"
	CodeReviewResolved    = "REVIEW_ITEM_ALREADY_RESOLVED"
)

// Archiving error codes.
const (
	CodeArchiveNotFound       = "ARCHIVE_NOT_FOUND"
	CodeAlreadyArchived       = "ALREADY_ARCHIVED"
	CodeAlreadyRestored       = "ALREADY_RESTORED"
	CodeNoRetentionPolicy     = "NO_RETENTION_POLICY"
	CodeUnsupportedEntityType = "UNSUPPORTED_ENTITY_TYPE"
	CodeEntityNotFound        = "ENTITY_NOT_FOUND"
	CodeChecksumMismatch      = "SNAPSHOT_CHECKSUM_MISMATCH"
	CodeHouseholdInactive     = "HOUSEHOLD_INACTIVE"
)

// Validation error codes.
const (
	CodeInvalidRequestField = "INVALID_REQUEST_FIELD"
	CodeValidationFailed    = "VALIDATION_FAILED"
)

// Infrastructure error codes.
const (
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrBatchNotFoundf creates a batch not found error.
func ErrBatchNotFoundf(batchID string) *AppError {
	return NotFound(CodeBatchNotFound, fmt.Sprintf("Batch not found: %s", batchID)).
		WithParams(map[string]interface{}{"batch_id": batchID})
}

// ErrArchiveNotFoundf creates an archive not found error.
func ErrArchiveNotFoundf(archiveID string) *AppError {
	return &AppError{
		Code:       CodeArchiveNotFound,
		Message:    fmt.Sprintf("Archive ID not found: %s", archiveID),
		HTTPStatus: http.StatusNotFound,
		Params:     map[string]interface{}{"archive_id": archiveID},
		Err:        ErrNotFound,
	}
}

// ErrInvalidFileFormatf creates a file format error for a source system.
func ErrInvalidFileFormatf(sourceSystem string) *AppError {
	return BadRequest(CodeInvalidFileFormat, fmt.Sprintf("Invalid file format for source system: %s", sourceSystem)).
		WithParams(map[string]interface{}{"source_system": sourceSystem})
}
