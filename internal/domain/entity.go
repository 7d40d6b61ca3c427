package domain

import "time"

// EntityType names a canonical-store table that can be archived.
type EntityType string

const (
	EntityHousehold       EntityType = "HOUSEHOLD"
	EntityHouseholdMember EntityType = "HOUSEHOLD_MEMBER"
)

// Archivable reports whether the archiving service handles this type.
func (t EntityType) Archivable() bool {
	return t == EntityHousehold || t == EntityHouseholdMember
}

// EntityTypeFor maps an ingestion data type to the entity it creates.
func EntityTypeFor(dt DataType) (EntityType, bool) {
	switch dt {
	case DataTypeHousehold:
		return EntityHousehold, true
	case DataTypeIndividual:
		return EntityHouseholdMember, true
	}
	return "", false
}

// Household is the canonical household row.
type Household struct {
	ID                  string            `json:"id"`
	HouseholdNumber     string            `json:"householdNumber"`
	HeadOfHouseholdName string            `json:"headOfHouseholdName,omitempty"`
	HeadOfHouseholdPSN  string            `json:"headOfHouseholdPsn,omitempty"`
	TotalMembers        int               `json:"totalMembers"`
	MonthlyIncome       float64           `json:"monthlyIncome"`
	Address             string            `json:"address,omitempty"`
	Barangay            string            `json:"barangay,omitempty"`
	Municipality        string            `json:"municipality,omitempty"`
	Province            string            `json:"province,omitempty"`
	Region              string            `json:"region,omitempty"`
	IsIndigenous        bool              `json:"isIndigenous"`
	IsPWDHousehold      bool              `json:"isPwdHousehold"`
	SourceSystem        string            `json:"sourceSystem,omitempty"`
	BatchID             string            `json:"batchId,omitempty"`
	Members             []HouseholdMember `json:"members,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// HouseholdMember is the canonical individual row.
type HouseholdMember struct {
	ID                 string     `json:"id"`
	HouseholdID        string     `json:"householdId,omitempty"`
	PSN                string     `json:"psn"`
	FirstName          string     `json:"firstName"`
	MiddleName         string     `json:"middleName,omitempty"`
	LastName           string     `json:"lastName"`
	BirthDate          *time.Time `json:"birthDate,omitempty"`
	Sex                string     `json:"sex,omitempty"`
	CivilStatus        string     `json:"civilStatus,omitempty"`
	RelationshipToHead string     `json:"relationshipToHead,omitempty"`
	IsPWD              bool       `json:"isPwd"`
	EducationLevel     string     `json:"educationLevel,omitempty"`
	Email              string     `json:"email,omitempty"`
	PhoneNumber        string     `json:"phoneNumber,omitempty"`
	SourceSystem       string     `json:"sourceSystem,omitempty"`
	BatchID            string     `json:"batchId,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// FullName renders "First Middle Last" without empty parts.
func (m HouseholdMember) FullName() string {
	name := m.FirstName
	if m.MiddleName != "" {
		name += " " + m.MiddleName
	}
	if m.LastName != "" {
		name += " " + m.LastName
	}
	return name
}

// EconomicProfile is the canonical economic profile row.
type EconomicProfile struct {
	ID              string    `json:"id"`
	HouseholdID     string    `json:"householdId"`
	TotalAssets     float64   `json:"totalAssets"`
	MonthlyExpenses float64   `json:"monthlyExpenses"`
	IncomeSources   string    `json:"incomeSources,omitempty"`
	Livelihood      string    `json:"livelihood,omitempty"`
	HouseType       string    `json:"houseType,omitempty"`
	WaterSource     string    `json:"waterSource,omitempty"`
	ToiletFacility  string    `json:"toiletFacility,omitempty"`
	BatchID         string    `json:"batchId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// EntityRef identifies a stored entity for archiving sweeps.
type EntityRef struct {
	ID        string
	Type      EntityType
	CreatedAt time.Time
}
