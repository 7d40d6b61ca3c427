package validation

import (
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"dsr.gov.ph/registry/internal/domain"
)

// Kind selects how a raw field value is coerced before its tag is checked.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindDate
)

// Rule checks one field with a validator/v10 tag. Rules run in declaration
// order; once a field has an error its later rules are skipped. Empty values
// only reach rules whose tag starts with "required".
type Rule struct {
	Name    string
	Field   string
	Kind    Kind
	Tag     string
	Message string
	// Normalize is applied to the trimmed raw value before checking.
	Normalize func(string) string
	// WarnIf downgrades a failure to a warning when it returns true.
	WarnIf func(string) bool
}

func (r Rule) required() bool {
	return r.Tag == "required" || strings.HasPrefix(r.Tag, "required,")
}

var (
	psnPattern     = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}$`)
	bareDigitsPSN  = regexp.MustCompile(`^\d{12}$`)
	phPhonePattern = regexp.MustCompile(`^(\+63|0)\d{10}$`)
)

// newValidate builds a validator with the registry's custom tags.
// past_date compares against now so tests can pin the clock.
func newValidate(now func() time.Time) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("psn", func(fl validator.FieldLevel) bool {
		return psnPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("ph_phone", func(fl validator.FieldLevel) bool {
		return phPhonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("past_date", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		return ok && !t.After(now())
	})

	return v
}

func stripPhoneNoise(s string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(s)
}

func isBarePSN(s string) bool {
	return bareDigitsPSN.MatchString(strings.ReplaceAll(s, " ", ""))
}

// DefaultRules returns the built-in rule sets keyed by data type.
func DefaultRules() map[domain.DataType][]Rule {
	return map[domain.DataType][]Rule{
		domain.DataTypeHousehold: {
			{Name: "household_number_required", Field: "householdNumber", Tag: "required",
				Message: "Household number is required"},
			{Name: "head_psn_format", Field: "headOfHouseholdPsn", Tag: "psn", WarnIf: isBarePSN,
				Message: "Head of household PSN must be in format XXXX-XXXX-XXXX"},
			{Name: "total_members_positive", Field: "totalMembers", Kind: KindNumber, Tag: "gt=0",
				Message: "Total members must be a positive number"},
			{Name: "monthly_income_non_negative", Field: "monthlyIncome", Kind: KindNumber, Tag: "gte=0",
				Message: "Monthly income must be non-negative"},
		},
		domain.DataTypeIndividual: {
			{Name: "psn_required", Field: "psn", Tag: "required",
				Message: "PSN is required"},
			{Name: "psn_format", Field: "psn", Tag: "psn", WarnIf: isBarePSN,
				Message: "PSN must be in format XXXX-XXXX-XXXX"},
			{Name: "first_name_required", Field: "firstName", Tag: "required",
				Message: "First name is required"},
			{Name: "last_name_required", Field: "lastName", Tag: "required",
				Message: "Last name is required"},
			{Name: "date_of_birth_valid", Field: "dateOfBirth", Kind: KindDate,
				Message: "Date of birth must be a valid date"},
			{Name: "date_of_birth_past", Field: "dateOfBirth", Kind: KindDate, Tag: "past_date",
				Message: "Date of birth cannot be in the future"},
			{Name: "sex_valid", Field: "sex", Tag: "oneof=M F MALE FEMALE", Normalize: strings.ToUpper,
				Message: "Sex must be M or F"},
			{Name: "civil_status_valid", Field: "civilStatus", Tag: "oneof=SINGLE MARRIED WIDOWED DIVORCED SEPARATED",
				Normalize: strings.ToUpper,
				Message:   "Civil status must be valid"},
			{Name: "email_format", Field: "email", Tag: "email",
				Message: "Email must be a valid address"},
			{Name: "phone_format", Field: "phoneNumber", Tag: "ph_phone", Normalize: stripPhoneNoise,
				Message: "Phone number must be in format +63XXXXXXXXXX or 0XXXXXXXXXX"},
		},
		domain.DataTypeEconomicProfile: {
			{Name: "household_id_required", Field: "householdId", Tag: "required",
				Message: "Household ID is required"},
			{Name: "assets_non_negative", Field: "totalAssets", Kind: KindNumber, Tag: "gte=0",
				Message: "Total assets must be non-negative"},
			{Name: "expenses_non_negative", Field: "monthlyExpenses", Kind: KindNumber, Tag: "gte=0",
				Message: "Monthly expenses must be non-negative"},
		},
	}
}
