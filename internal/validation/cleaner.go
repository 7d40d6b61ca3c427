package validation

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"dsr.gov.ph/registry/internal/domain"
)

// Cleaner normalizes an accepted payload. Implementations must be pure:
// the same inputs always produce the same output and nothing is mutated.
type Cleaner interface {
	Clean(dataType domain.DataType, payload domain.Payload, result domain.ValidationResult) domain.Payload
}

// CleanerFunc adapts a function to Cleaner.
type CleanerFunc func(dataType domain.DataType, payload domain.Payload, result domain.ValidationResult) domain.Payload

// Clean calls f.
func (f CleanerFunc) Clean(dataType domain.DataType, payload domain.Payload, result domain.ValidationResult) domain.Payload {
	return f(dataType, payload, result)
}

// fieldClass groups fields that share a cleaning routine.
type fieldClass int

const (
	classText fieldClass = iota
	className
	classPhone
	classEmail
	classPSN
	classHouseholdNumber
	classDate
	classSex
	classUpper
	classNumber
	classCount
)

var fieldClasses = map[string]fieldClass{
	"firstName":           className,
	"middleName":          className,
	"lastName":            className,
	"name":                className,
	"headOfHouseholdName": className,
	"phone":               classPhone,
	"phoneNumber":         classPhone,
	"mobileNumber":        classPhone,
	"email":               classEmail,
	"emailAddress":        classEmail,
	"psn":                 classPSN,
	"philsysNumber":       classPSN,
	"headOfHouseholdPsn":  classPSN,
	"householdNumber":     classHouseholdNumber,
	"dateOfBirth":         classDate,
	"birthDate":           classDate,
	"sex":                 classSex,
	"civilStatus":         classUpper,
	"monthlyIncome":       classNumber,
	"totalAssets":         classNumber,
	"monthlyExpenses":     classNumber,
	"totalMembers":        classCount,
	"memberCount":         classCount,
	"age":                 classCount,
}

func classOf(field string) fieldClass {
	if c, ok := fieldClasses[field]; ok {
		return c
	}
	if strings.HasSuffix(field, "Date") {
		return classDate
	}
	return classText
}

var (
	nameParticles = map[string]bool{
		"de": true, "del": true, "dela": true, "van": true, "von": true,
		"la": true, "le": true, "da": true, "dos": true, "das": true,
	}
	longDigitRun = regexp.MustCompile(`\d{6,}`)
	markupChars  = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "", "&", "")
)

// StandardCleaner is the production Cleaner.
type StandardCleaner struct{}

// NewCleaner returns the production Cleaner.
func NewCleaner() StandardCleaner {
	return StandardCleaner{}
}

// Clean returns a cleaned copy of payload in the original field order.
// Blank fields are dropped unless a warning was raised for them.
func (StandardCleaner) Clean(_ domain.DataType, payload domain.Payload, result domain.ValidationResult) domain.Payload {
	out := make(domain.Payload, 0, len(payload))
	for _, f := range payload {
		v := cleanValue(f.Name, f.Value)
		if isBlank(v) && !result.HasWarning(f.Name) {
			continue
		}
		out = append(out, domain.Field{Name: f.Name, Value: v})
	}
	return out
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func cleanValue(field string, v any) any {
	class := classOf(field)

	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s := baseText(t)
		switch class {
		case classNumber, classCount:
			return cleanNumber(s, class == classCount)
		default:
			return cleanString(class, s)
		}
	case json.Number:
		if class == classNumber || class == classCount {
			return cleanNumber(t.String(), class == classCount)
		}
		return t
	default:
		return v
	}
}

func cleanString(class fieldClass, s string) string {
	switch class {
	case className:
		return CleanName(s)
	case classPhone:
		return CleanPhone(s)
	case classEmail:
		return strings.Join(strings.Fields(strings.ToLower(s)), "")
	case classPSN:
		return CleanPSN(s)
	case classHouseholdNumber:
		return CleanHouseholdNumber(s)
	case classDate:
		if t, ok := ParseDate(s); ok {
			return t.Format(ISODate)
		}
		return s
	case classSex:
		switch up := strings.ToUpper(s); up {
		case "MALE":
			return "M"
		case "FEMALE":
			return "F"
		default:
			return up
		}
	case classUpper:
		return strings.ToUpper(s)
	default:
		return collapseSpaces(markupChars.Replace(s))
	}
}

// baseText trims, NFC-normalizes and drops control characters.
func baseText(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanNumber returns an int64 for count fields with integral values and a
// float64 otherwise. Unparseable input is returned unchanged.
func cleanNumber(s string, count bool) any {
	f, err := ParseNumber(s)
	if err != nil {
		return s
	}
	if count && f == math.Trunc(f) {
		return int64(f)
	}
	return f
}

// CleanName proper-cases a personal name, keeping particles such as "dela"
// lowercase. Only letters, spaces, dots and hyphens survive.
func CleanName(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsSpace(r) || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)

	title := cases.Title(language.Und)
	lower := cases.Lower(language.Und)

	words := strings.Fields(s)
	for i, w := range words {
		lw := lower.String(w)
		if nameParticles[lw] {
			words[i] = lw
			continue
		}
		words[i] = title.String(w)
	}
	return strings.Join(words, " ")
}

// CleanPhone converts Philippine numbers to +63XXXXXXXXXX.
func CleanPhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == '+' {
			b.WriteRune(r)
		}
	}
	p := b.String()
	switch {
	case strings.HasPrefix(p, "0"):
		return "+63" + p[1:]
	case strings.HasPrefix(p, "63"):
		return "+" + p
	case !strings.HasPrefix(p, "+") && len(p) == 10:
		return "+63" + p
	}
	return p
}

// CleanPSN formats a 12-digit PSN as XXXX-XXXX-XXXX.
func CleanPSN(s string) string {
	var digits strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 12 {
		return d[:4] + "-" + d[4:8] + "-" + d[8:]
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '-' {
			return r
		}
		return -1
	}, s)
}

// CleanHouseholdNumber uppercases and, for numbers carrying a long digit
// run, strips everything except letters, digits and dashes.
func CleanHouseholdNumber(s string) string {
	s = collapseSpaces(strings.ToUpper(s))
	if !longDigitRun.MatchString(s) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, s)
}
