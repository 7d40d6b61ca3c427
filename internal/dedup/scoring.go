package dedup

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// Jaro returns the Jaro similarity of a and b in [0, 1]. Comparison is by
// rune so accented names are handled.
func Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	window := max(len(ra), len(rb))/2 - 1
	if window < 0 {
		window = 0
	}

	aMatched := make([]bool, len(ra))
	bMatched := make([]bool, len(rb))
	matches := 0
	for i := range ra {
		lo := max(0, i-window)
		hi := min(len(rb), i+window+1)
		for j := lo; j < hi; j++ {
			if bMatched[j] || ra[i] != rb[j] {
				continue
			}
			aMatched[i], bMatched[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions, k := 0, 0
	for i := range ra {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if ra[i] != rb[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(ra)) + m/float64(len(rb)) + (m-t)/m) / 3
}

// JaroWinkler boosts Jaro by up to four characters of common prefix with a
// 0.1 scaling factor. The boost applies only when Jaro is at least 0.7.
func JaroWinkler(a, b string) float64 {
	jaro := Jaro(a, b)
	if jaro < 0.7 {
		return jaro
	}
	ra, rb := []rune(a), []rune(b)
	prefix := 0
	for i := 0; i < len(ra) && i < len(rb) && i < 4; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefix++
	}
	return jaro + 0.1*float64(prefix)*(1.0-jaro)
}

// LevenshteinDistance is the edit distance between a and b.
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// Levenshtein returns 1 - distance/maxLen.
func Levenshtein(a, b string) float64 {
	n := max(len([]rune(a)), len([]rune(b)))
	if n == 0 {
		return 1.0
	}
	return 1.0 - float64(LevenshteinDistance(a, b))/float64(n)
}

// Soundex returns the four-character American Soundex code of s, ignoring
// non-ASCII letters. An input with no letters encodes as "0000".
func Soundex(s string) string {
	var letters []byte
	for _, r := range strings.ToUpper(s) {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, byte(r))
		}
	}
	if len(letters) == 0 {
		return "0000"
	}

	code := []byte{letters[0]}
	prev := soundexDigit(letters[0])
	for _, c := range letters[1:] {
		if len(code) == 4 {
			break
		}
		d := soundexDigit(c)
		if d != '0' && d != prev {
			code = append(code, d)
		}
		// H and W do not separate letters with the same code.
		if c != 'H' && c != 'W' {
			prev = d
		}
	}
	for len(code) < 4 {
		code = append(code, '0')
	}
	return string(code)
}

func soundexDigit(c byte) byte {
	switch c {
	case 'B', 'F', 'P', 'V':
		return '1'
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return '2'
	case 'D', 'T':
		return '3'
	case 'L':
		return '4'
	case 'M', 'N':
		return '5'
	case 'R':
		return '6'
	}
	return '0'
}

// DateProximity is 1 for equal dates decaying linearly to 0 at maxDays apart.
func DateProximity(a, b time.Time, maxDays int) float64 {
	if a.IsZero() || b.IsZero() || maxDays <= 0 {
		return 0.0
	}
	days := math.Abs(a.Sub(b).Hours() / 24)
	if days >= float64(maxDays) {
		return 0.0
	}
	return 1.0 - days/float64(maxDays)
}

// normalizeText lowercases, drops punctuation and collapses whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) || r == '-':
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchReason describes a similarity score in words.
func MatchReason(score float64) string {
	switch {
	case score >= 0.95:
		return "Exact or near-exact match"
	case score >= 0.85:
		return "Very high similarity"
	case score >= 0.75:
		return "High similarity"
	case score >= 0.65:
		return "Moderate similarity"
	default:
		return "Low similarity"
	}
}
