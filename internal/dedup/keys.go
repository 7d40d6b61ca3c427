package dedup

import (
	"slices"
	"strings"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/validation"
)

// Blocking key prefixes.
const (
	KeyPSN             = "psn:"
	KeyName            = "name:"
	KeyHouseholdNumber = "hh:"
	KeyHead            = "head:"
	KeyProfile         = "ep:"
)

// BlockingKeys derives the sorted, de-duplicated blocking keys of a cleaned
// payload. Records sharing any key are compared; records sharing none never
// are.
func BlockingKeys(dataType domain.DataType, p domain.Payload) []string {
	var keys []string
	switch dataType {
	case domain.DataTypeIndividual:
		if psn := digitsOnly(p.String("psn")); len(psn) == 12 {
			keys = append(keys, KeyPSN+psn)
		}
		if k := nameKey(p.String("firstName"), p.String("lastName"), p.String("dateOfBirth")); k != "" {
			keys = append(keys, k)
		}
	case domain.DataTypeHousehold:
		if hh := strings.ToUpper(strings.TrimSpace(p.String("householdNumber"))); hh != "" {
			keys = append(keys, KeyHouseholdNumber+hh)
		}
		if psn := digitsOnly(p.String("headOfHouseholdPsn")); len(psn) == 12 {
			keys = append(keys, KeyPSN+psn)
		}
		if head := normalizeText(p.String("headOfHouseholdName")); head != "" {
			keys = append(keys, KeyHead+head+"|"+normalizeText(p.String("barangay")))
		}
	case domain.DataTypeEconomicProfile:
		if id := strings.TrimSpace(p.String("householdId")); id != "" {
			keys = append(keys, KeyProfile+id)
		}
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// nameKey is soundex(last) | first initial + normalized last | ISO birth date.
func nameKey(first, last, dob string) string {
	first, last = normalizeText(first), normalizeText(last)
	if first == "" || last == "" {
		return ""
	}
	if t, ok := validation.ParseDate(dob); ok {
		dob = t.Format(validation.ISODate)
	} else {
		dob = ""
	}
	initial := string([]rune(first)[0])
	return KeyName + Soundex(last) + "|" + initial + strings.ReplaceAll(last, " ", "") + "|" + dob
}
