package validation

import (
	"strconv"
	"strings"
	"time"
)

// ISODate is the canonical date layout after cleaning.
const ISODate = "2006-01-02"

// dateLayouts are tried in order. Slash dates are month-first, dash dates
// with a leading day are day-first.
var dateLayouts = []string{
	ISODate,
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"02-01-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	time.RFC3339,
}

// ParseDate parses s with the accepted legacy layouts. The result is a UTC
// midnight for date-only layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

var numberNoise = strings.NewReplacer(",", "", "₱", "", "$", "", " ", "", "\u00a0", "")

// ParseNumber parses a numeric value after stripping thousands separators,
// currency symbols and spaces.
func ParseNumber(s string) (float64, error) {
	return strconv.ParseFloat(numberNoise.Replace(strings.TrimSpace(s)), 64)
}
