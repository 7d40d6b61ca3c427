package archiving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/pkg/metrics"
)

const msgHouseholdInactive = "Household of member is archived or missing"

// RestoreArchivedData puts an archived entity back into active storage. An
// unknown archive id is an ordinary failed result, not an error.
func (a *Archiver) RestoreArchivedData(ctx context.Context, archiveID string) *domain.RestoreResult {
	res := &domain.RestoreResult{Errors: []string{}, RestoredAt: a.now().UTC()}
	fail := func(t domain.EntityType, outcome, message, detail string) *domain.RestoreResult {
		metrics.ArchiveOperations.WithLabelValues("restore", string(t), outcome).Inc()
		res.Message = message
		res.Errors = append(res.Errors, detail)
		return res
	}

	logger.Info("Restoring archived data", zap.String("archive_id", archiveID))

	rec, err := a.store.FindArchive(ctx, archiveID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return fail("", "not_found", "Archive not found", apperrors.ErrArchiveNotFoundf(archiveID).Message)
	}
	if err != nil {
		logger.Error("Failed to load archive", zap.String("archive_id", archiveID), zap.Error(err))
		return fail("", "error", "Error during restoration: "+err.Error(), err.Error())
	}

	alreadyRestored := fmt.Sprintf("Archive already restored: %s", archiveID)
	if rec.Status != domain.ArchiveActive {
		return fail(rec.EntityType, "already_restored", alreadyRestored, alreadyRestored)
	}
	if Checksum(rec.Snapshot) != rec.Checksum {
		logger.Error("Archive snapshot checksum mismatch",
			zap.String("archive_id", archiveID),
			zap.String("expected", rec.Checksum),
		)
		msg := fmt.Sprintf("Archive checksum mismatch: %s", archiveID)
		return fail(rec.EntityType, "checksum_mismatch", msg, msg)
	}

	var snap domain.EntitySnapshot
	if err := json.Unmarshal(rec.Snapshot, &snap); err != nil {
		return fail(rec.EntityType, "error", "Error during restoration: "+err.Error(), err.Error())
	}

	err = a.store.RestoreEntity(ctx, archiveID, &snap, res.RestoredAt)
	switch {
	case errors.Is(err, apperrors.ErrParentMissing):
		return fail(rec.EntityType, "household_inactive", msgHouseholdInactive,
			fmt.Sprintf("%s: %s", apperrors.CodeHouseholdInactive, err))
	case errors.Is(err, apperrors.ErrConflict):
		return fail(rec.EntityType, "already_restored", alreadyRestored, alreadyRestored)
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return fail(rec.EntityType, "conflict", "Failed to restore data",
			fmt.Sprintf("Entity conflicts with an active record: %v", err))
	case err != nil:
		logger.Error("Failed to restore archive", zap.String("archive_id", archiveID), zap.Error(err))
		return fail(rec.EntityType, "error", "Error during restoration: "+err.Error(), err.Error())
	}

	metrics.ArchiveOperations.WithLabelValues("restore", string(rec.EntityType), "success").Inc()
	res.Success = true
	res.RestoredCount = 1
	res.Message = "Data restored successfully"

	logger.Info("Archive restored",
		zap.String("archive_id", archiveID),
		zap.String("entity_id", rec.EntityID),
		zap.String("entity_type", string(rec.EntityType)),
	)
	a.publish(ctx, domain.NewEvent(domain.EventEntityRestored, "archive", archiveID, domain.SubmittedBySystem, map[string]any{
		"entityId":   rec.EntityID,
		"entityType": rec.EntityType,
	}))
	return res
}
