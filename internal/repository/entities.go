// Package repository maps cleaned ingestion payloads onto the canonical
// entities and back. The store implementations live in the memory and
// postgres subpackages and share these conversions so both index the same
// blocking keys.
//
// Import Path: dsr.gov.ph/registry/internal/repository
package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dsr.gov.ph/registry/internal/dedup"
	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/validation"
)

// PersistRequest is one cleaned record to write to the canonical store.
type PersistRequest struct {
	DataType     domain.DataType
	Payload      domain.Payload
	BatchID      string
	SourceSystem string
}

// HouseholdFromPayload builds a household row. householdNumber is required.
func HouseholdFromPayload(id string, p domain.Payload, now time.Time) (*domain.Household, error) {
	number := p.String("householdNumber")
	if number == "" {
		return nil, fmt.Errorf("household payload has no householdNumber")
	}
	return &domain.Household{
		ID:                  id,
		HouseholdNumber:     number,
		HeadOfHouseholdName: p.String("headOfHouseholdName"),
		HeadOfHouseholdPSN:  p.String("headOfHouseholdPsn"),
		TotalMembers:        intField(p, "totalMembers"),
		MonthlyIncome:       floatField(p, "monthlyIncome"),
		Address:             p.String("address"),
		Barangay:            p.String("barangay"),
		Municipality:        p.String("municipality"),
		Province:            p.String("province"),
		Region:              p.String("region"),
		IsIndigenous:        boolField(p, "isIndigenous"),
		IsPWDHousehold:      boolField(p, "isPwdHousehold"),
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// MemberFromPayload builds a household member row. A name is required.
func MemberFromPayload(id string, p domain.Payload, now time.Time) (*domain.HouseholdMember, error) {
	m := &domain.HouseholdMember{
		ID:                 id,
		PSN:                p.String("psn"),
		FirstName:          p.String("firstName"),
		MiddleName:         p.String("middleName"),
		LastName:           p.String("lastName"),
		Sex:                p.String("sex"),
		CivilStatus:        p.String("civilStatus"),
		RelationshipToHead: p.String("relationshipToHead"),
		IsPWD:              boolField(p, "isPwd"),
		EducationLevel:     p.String("educationLevel"),
		Email:              p.String("email"),
		PhoneNumber:        p.String("phoneNumber"),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if m.FirstName == "" && m.LastName == "" {
		return nil, fmt.Errorf("member payload has no name")
	}
	if d, ok := validation.ParseDate(p.String("dateOfBirth")); ok {
		m.BirthDate = &d
	}
	return m, nil
}

// ProfileFromPayload builds an economic profile row. householdId is required.
func ProfileFromPayload(id string, p domain.Payload, now time.Time) (*domain.EconomicProfile, error) {
	hh := p.String("householdId")
	if hh == "" {
		return nil, fmt.Errorf("economic profile payload has no householdId")
	}
	return &domain.EconomicProfile{
		ID:              id,
		HouseholdID:     hh,
		TotalAssets:     floatField(p, "totalAssets"),
		MonthlyExpenses: floatField(p, "monthlyExpenses"),
		IncomeSources:   p.String("incomeSources"),
		Livelihood:      p.String("livelihood"),
		HouseType:       p.String("houseType"),
		WaterSource:     p.String("waterSource"),
		ToiletFacility:  p.String("toiletFacility"),
		CreatedAt:       now,
	}, nil
}

// HouseholdFields is the payload view of a household used for scoring and
// blocking keys.
func HouseholdFields(h *domain.Household) domain.Payload {
	return compact(domain.Payload{
		{Name: "householdNumber", Value: h.HouseholdNumber},
		{Name: "headOfHouseholdName", Value: h.HeadOfHouseholdName},
		{Name: "headOfHouseholdPsn", Value: h.HeadOfHouseholdPSN},
		{Name: "address", Value: h.Address},
		{Name: "barangay", Value: h.Barangay},
	})
}

// MemberFields is the payload view of a member used for scoring and
// blocking keys.
func MemberFields(m *domain.HouseholdMember) domain.Payload {
	p := domain.Payload{
		{Name: "psn", Value: m.PSN},
		{Name: "firstName", Value: m.FirstName},
		{Name: "lastName", Value: m.LastName},
		{Name: "sex", Value: m.Sex},
	}
	if m.BirthDate != nil {
		p = append(p, domain.Field{Name: "dateOfBirth", Value: m.BirthDate.Format(validation.ISODate)})
	}
	return compact(p)
}

// ProfileFields is the payload view of an economic profile.
func ProfileFields(e *domain.EconomicProfile) domain.Payload {
	return domain.Payload{{Name: "householdId", Value: e.HouseholdID}}
}

// HouseholdKeys returns the blocking keys indexed for a household.
func HouseholdKeys(h *domain.Household) []string {
	return nonNil(dedup.BlockingKeys(domain.DataTypeHousehold, HouseholdFields(h)))
}

// MemberKeys returns the blocking keys indexed for a member.
func MemberKeys(m *domain.HouseholdMember) []string {
	return nonNil(dedup.BlockingKeys(domain.DataTypeIndividual, MemberFields(m)))
}

// ProfileKeys returns the blocking keys indexed for an economic profile.
func ProfileKeys(e *domain.EconomicProfile) []string {
	return nonNil(dedup.BlockingKeys(domain.DataTypeEconomicProfile, ProfileFields(e)))
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}

func compact(p domain.Payload) domain.Payload {
	out := p[:0]
	for _, f := range p {
		if s, ok := f.Value.(string); ok && s == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func floatField(p domain.Payload, name string) float64 {
	v, ok := p.Get(name)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	}
	f, err := validation.ParseNumber(p.String(name))
	if err != nil {
		return 0
	}
	return f
}

func intField(p domain.Payload, name string) int {
	return int(floatField(p, name))
}

func boolField(p domain.Payload, name string) bool {
	v, ok := p.Get(name)
	if !ok {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	s := strings.TrimSpace(p.String(name))
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	switch strings.ToUpper(s) {
	case "Y", "YES", "OO":
		return true
	}
	return false
}
