package pipeline

import (
	"strconv"
	"strings"
	"unicode"
)

// Canonicalize normalizes a value for hashing and binning. Numeric values
// become a signed mantissa/exponent text form ("42", "42.0" and "4.2E1" all
// canonicalize to "4.2e1"), so numerically equal values hash identically.
// Non-numeric values are trimmed and have whitespace runs collapsed to one
// space.
func Canonicalize(value []byte) []byte {
	s := strings.TrimSpace(string(value))
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return []byte(canonicalNumber(v))
	}
	return []byte(collapseSpace(s))
}

// IsNumeric reports whether the value canonicalizes to a number.
func IsNumeric(value []byte) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(string(value)), 64)
	return err == nil
}

// canonicalNumber renders v with one digit before the point and a bare
// decimal exponent: 42 -> "4.2e1", -0.5 -> "-5e-1", 0 -> "0e0".
func canonicalNumber(v float64) string {
	s := strconv.FormatFloat(v, 'e', -1, 64)
	mantissa, expPart, _ := strings.Cut(s, "e")
	exp, _ := strconv.Atoi(expPart)
	return mantissa + "e" + strconv.Itoa(exp)
}

func collapseSpace(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		space = false
		sb.WriteRune(r)
	}
	return sb.String()
}
