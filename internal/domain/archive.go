package domain

import "time"

// ArchiveStatus is the lifecycle of an archive record.
type ArchiveStatus string

const (
	ArchiveActive   ArchiveStatus = "ACTIVE"
	ArchiveRestored ArchiveStatus = "RESTORED"
)

// ArchivedRecord holds an entity moved out of active storage. An entity is
// archived exactly when an ACTIVE record exists for its id and type.
// Members archived along with their household carry the household's
// archive id in ParentArchiveID.
type ArchivedRecord struct {
	ArchiveID      string        `json:"archiveId"`
	EntityID       string        `json:"entityId"`
	EntityType     EntityType    `json:"entityType"`
	ArchivedAt     time.Time     `json:"archivedAt"`
	Reason         string        `json:"reason"`
	Snapshot       []byte        `json:"snapshot"`
	Checksum       string        `json:"checksum"`
	RetentionUntil *time.Time    `json:"retentionUntil,omitempty"`
	Status         ArchiveStatus `json:"status"`
	RestoredAt     *time.Time    `json:"restoredAt,omitempty"`
	ArchivedBy     string        `json:"archivedBy,omitempty"`

	ParentArchiveID string `json:"parentArchiveId,omitempty"`
}

// RetentionPolicy governs when entities of a type become eligible for
// automatic archiving.
type RetentionPolicy struct {
	EntityType         EntityType `json:"entityType"`
	RetentionDays      int        `json:"retentionDays"`
	AutoArchiveEnabled bool       `json:"autoArchiveEnabled"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Cutoff returns the creation-time boundary for a sweep run at now.
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.RetentionDays)
}

// RetentionUntil returns how long an entity archived at now is kept.
func (p RetentionPolicy) RetentionUntil(now time.Time) time.Time {
	return now.AddDate(0, 0, p.RetentionDays)
}

// ArchivingResult is returned by archive operations.
type ArchivingResult struct {
	Success       bool      `json:"success"`
	ArchiveID     string    `json:"archiveId,omitempty"`
	ArchivedCount int       `json:"archivedCount"`
	Message       string    `json:"message"`
	Errors        []string  `json:"errors"`
	ArchivedAt    time.Time `json:"archivedAt"`
}

// RestoreResult is returned by restore operations.
type RestoreResult struct {
	Success       bool      `json:"success"`
	RestoredCount int       `json:"restoredCount"`
	Message       string    `json:"message"`
	Errors        []string  `json:"errors"`
	RestoredAt    time.Time `json:"restoredAt"`
}

// ArchivingStatistics summarizes archive activity.
type ArchivingStatistics struct {
	TotalArchived          int        `json:"totalArchived"`
	TotalRestored          int        `json:"totalRestored"`
	CurrentArchivedCount   int        `json:"currentArchivedCount"`
	RetentionPoliciesCount int        `json:"retentionPoliciesCount"`
	LastArchiveDate        *time.Time `json:"lastArchiveDate,omitempty"`
}

// ArchiveFilter narrows getArchivedData. A nil EntityType matches all types;
// From and To are inclusive bounds on ArchivedAt.
type ArchiveFilter struct {
	EntityType *EntityType
	From       *time.Time
	To         *time.Time
	Limit      int
}

// EntitySnapshot is the serialized form of an archived entity. A household
// snapshot carries its members.
type EntitySnapshot struct {
	EntityType EntityType       `json:"entityType"`
	Household  *Household       `json:"household,omitempty"`
	Member     *HouseholdMember `json:"member,omitempty"`
}

// EntityID returns the id of the entity the snapshot holds.
func (s *EntitySnapshot) EntityID() string {
	switch {
	case s.Household != nil:
		return s.Household.ID
	case s.Member != nil:
		return s.Member.ID
	}
	return ""
}
