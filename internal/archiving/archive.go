package archiving

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/pkg/metrics"
)

const (
	reasonRetention = "Retention period exceeded"
	reasonManual    = "Manual archive"

	msgAlreadyArchived = "Entity is already archived"
	msgEntityNotFound  = "Entity not found or could not be archived"
	msgErrorPrefix     = "Error during archival: "
)

var (
	errAlreadyArchived = errors.New("entity already archived")
	errEntityNotFound  = errors.New("entity not found")
)

// Checksum returns the hex SHA-256 of an archive snapshot.
func Checksum(snapshot []byte) string {
	sum := sha256.Sum256(snapshot)
	return hex.EncodeToString(sum[:])
}

func actor(who string) string {
	if who == "" {
		return domain.SubmittedBySystem
	}
	return who
}

func unsupported(t domain.EntityType) string {
	return fmt.Sprintf("Unsupported entity type for archival: %s", t)
}

func (a *Archiver) archivingResult() *domain.ArchivingResult {
	return &domain.ArchivingResult{Errors: []string{}, ArchivedAt: a.now().UTC()}
}

// ArchiveOldData archives every active entity of entityType created before
// cutoff. Per-entity failures are collected and the walk continues;
// cancelling ctx stops it between entities with the count reached so far.
func (a *Archiver) ArchiveOldData(ctx context.Context, entityType domain.EntityType, cutoff time.Time) *domain.ArchivingResult {
	res := a.archivingResult()
	log := logger.With(zap.String("entity_type", string(entityType)), zap.Time("cutoff", cutoff))
	log.Info("Starting archival of old data")

	policy, ok := a.policies.Get(entityType)
	if !ok {
		res.Message = fmt.Sprintf("No active retention policy found for entity type: %s", entityType)
		res.Errors = append(res.Errors, res.Message)
		return res
	}
	if !entityType.Archivable() {
		res.Message = unsupported(entityType)
		res.Errors = append(res.Errors, res.Message)
		return res
	}

	var halt error
	afterID := ""
walk:
	for {
		refs, err := a.store.ListOlderThan(ctx, entityType, cutoff, afterID, a.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				halt = context.Cause(ctx)
				break walk
			}
			log.Error("Failed to list archivable entities", zap.Error(err))
			res.Message = msgErrorPrefix + err.Error()
			res.Errors = append(res.Errors, err.Error())
			return res
		}
		for _, ref := range refs {
			if err := a.limiter.Wait(ctx); err != nil {
				halt = err
				if ctx.Err() != nil {
					halt = context.Cause(ctx)
				}
				break walk
			}
			afterID = ref.ID
			if _, err := a.archive(ctx, ref.ID, entityType, reasonRetention, domain.SubmittedBySystem, policy); err != nil {
				if ctx.Err() != nil {
					halt = context.Cause(ctx)
					break walk
				}
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", ref.ID, err))
				continue
			}
			res.ArchivedCount++
		}
		if len(refs) < a.cfg.BatchSize {
			break
		}
	}

	if halt != nil {
		log.Warn("Archival cancelled", zap.Int("archived", res.ArchivedCount), zap.Error(halt))
		res.Message = fmt.Sprintf("Archival cancelled after %d %s records: %v", res.ArchivedCount, entityType, halt)
		res.Errors = append(res.Errors, halt.Error())
		return res
	}

	res.Success = true
	res.Message = fmt.Sprintf("Successfully archived %d %s records", res.ArchivedCount, entityType)
	log.Info("Completed archival of old data",
		zap.Int("archived", res.ArchivedCount),
		zap.Int("errors", len(res.Errors)),
	)
	return res
}

// ArchiveEntity archives one entity. Types without a policy use the default
// retention period.
func (a *Archiver) ArchiveEntity(ctx context.Context, entityID string, entityType domain.EntityType, reason, archivedBy string) *domain.ArchivingResult {
	res := a.archivingResult()
	logger.Info("Archiving entity",
		zap.String("entity_id", entityID),
		zap.String("entity_type", string(entityType)),
		zap.String("reason", reason),
	)

	if !entityType.Archivable() {
		res.Message = unsupported(entityType)
		res.Errors = append(res.Errors, res.Message)
		return res
	}
	if reason == "" {
		reason = reasonManual
	}
	policy, ok := a.policies.Get(entityType)
	if !ok {
		policy = domain.RetentionPolicy{EntityType: entityType, RetentionDays: a.cfg.DefaultRetentionDays}
	}

	archiveID, err := a.archive(ctx, entityID, entityType, reason, actor(archivedBy), policy)
	switch {
	case errors.Is(err, errAlreadyArchived):
		res.Message = msgAlreadyArchived
		res.Errors = append(res.Errors, "Entity already archived: "+entityID)
	case errors.Is(err, errEntityNotFound):
		res.Message = msgEntityNotFound
		res.Errors = append(res.Errors, "Entity not found: "+entityID)
	case err != nil:
		logger.Error("Failed to archive entity", zap.String("entity_id", entityID), zap.Error(err))
		res.Message = msgErrorPrefix + err.Error()
		res.Errors = append(res.Errors, err.Error())
	default:
		res.Success = true
		res.ArchiveID = archiveID
		res.ArchivedCount = 1
		res.Message = "Entity archived successfully"
	}
	return res
}

// archive snapshots the entity and moves it to the archive in one store
// call.
func (a *Archiver) archive(ctx context.Context, entityID string, t domain.EntityType, reason, by string, policy domain.RetentionPolicy) (string, error) {
	archived, err := a.store.IsArchived(ctx, t, entityID)
	if err != nil {
		return "", a.observe("archive", t, fmt.Errorf("check archive state: %w", err))
	}
	if archived {
		return "", a.observe("archive", t, errAlreadyArchived)
	}

	snap, err := a.store.LoadSnapshot(ctx, t, entityID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return "", a.observe("archive", t, errEntityNotFound)
	}
	if err != nil {
		return "", a.observe("archive", t, fmt.Errorf("load %s %s: %w", t, entityID, err))
	}

	now := a.now().UTC()
	until := policy.RetentionUntil(now)
	rec, err := newArchive(snap, entityID, now, until, reason, by)
	if err != nil {
		return "", a.observe("archive", t, err)
	}
	var cascade []*domain.ArchivedRecord
	if snap.Household != nil {
		for i := range snap.Household.Members {
			m := &snap.Household.Members[i]
			child, err := newArchive(&domain.EntitySnapshot{EntityType: domain.EntityHouseholdMember, Member: m},
				m.ID, now, until, reason, by)
			if err != nil {
				return "", a.observe("archive", t, err)
			}
			child.ParentArchiveID = rec.ArchiveID
			cascade = append(cascade, child)
		}
	}

	err = a.store.ArchiveEntity(ctx, rec, cascade...)
	switch {
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return "", a.observe("archive", t, errAlreadyArchived)
	case errors.Is(err, apperrors.ErrNotFound):
		return "", a.observe("archive", t, errEntityNotFound)
	case err != nil:
		return "", a.observe("archive", t, fmt.Errorf("archive %s %s: %w", t, entityID, err))
	}
	a.observe("archive", t, nil)

	logger.Debug("Entity archived",
		zap.String("archive_id", rec.ArchiveID),
		zap.String("entity_id", entityID),
		zap.String("entity_type", string(t)),
		zap.Int("cascaded_members", len(cascade)),
	)
	a.publish(ctx, domain.NewEvent(domain.EventEntityArchived, "archive", rec.ArchiveID, by, map[string]any{
		"entityId":       entityID,
		"entityType":     t,
		"reason":         reason,
		"retentionUntil": until,
	}))
	return rec.ArchiveID, nil
}

func newArchive(snap *domain.EntitySnapshot, entityID string, at, until time.Time, reason, by string) (*domain.ArchivedRecord, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate archive id: %w", err)
	}
	return &domain.ArchivedRecord{
		ArchiveID:      id.String(),
		EntityID:       entityID,
		EntityType:     snap.EntityType,
		ArchivedAt:     at,
		Reason:         reason,
		Snapshot:       body,
		Checksum:       Checksum(body),
		RetentionUntil: &until,
		Status:         domain.ArchiveActive,
		ArchivedBy:     by,
	}, nil
}

func (a *Archiver) observe(op string, t domain.EntityType, err error) error {
	outcome := "success"
	switch {
	case errors.Is(err, errAlreadyArchived):
		outcome = "already_archived"
	case errors.Is(err, errEntityNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	metrics.ArchiveOperations.WithLabelValues(op, string(t), outcome).Inc()
	return err
}

func (a *Archiver) publish(ctx context.Context, e *domain.Event) {
	if a.events == nil {
		return
	}
	if err := a.events.Dispatch(ctx, e); err != nil {
		logger.Warn("Failed to publish archiving event",
			zap.String("event_type", string(e.EventType)),
			zap.String("aggregate_id", e.AggregateID),
			zap.Error(err),
		)
	}
}
