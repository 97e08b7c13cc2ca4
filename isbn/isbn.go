// Package isbn validates book identifiers and normalizes them to ISBN-13.
//
// Every identifier entering the system (form input or an external metadata
// lookup) is normalized once at write time, so stored books always carry the
// 13-digit form and nothing downstream branches on identifier length.
package isbn

import (
	"strings"
	"unicode"
)

// Clean strips hyphens and whitespace from s.
func Clean(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// IsValid10 reports whether s is a well-formed ISBN-10 with a correct check digit.
func IsValid10(s string) bool {
	clean := Clean(s)
	if len(clean) != 10 {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		if !isDigit(clean[i]) {
			return false
		}
		sum += int(clean[i]-'0') * (10 - i)
	}

	switch last := clean[9]; {
	case last == 'X' || last == 'x':
		sum += 10
	case isDigit(last):
		sum += int(last - '0')
	default:
		return false
	}

	return sum%11 == 0
}

// IsValid13 reports whether s is a well-formed ISBN-13 with a correct check digit.
func IsValid13(s string) bool {
	clean := Clean(s)
	if len(clean) != 13 {
		return false
	}
	for i := 0; i < 13; i++ {
		if !isDigit(clean[i]) {
			return false
		}
	}
	return checkDigit13(clean[:12]) == clean[12]
}

// Convert10To13 converts an ISBN-10 to its ISBN-13 form by prefixing "978"
// and recomputing the check digit. The input must already be a valid ISBN-10;
// the result for anything else is unspecified.
func Convert10To13(s string) string {
	clean := Clean(s)
	if len(clean) > 9 {
		clean = clean[:9]
	}
	base := "978" + clean
	return base + string(checkDigit13(base))
}

// Normalize returns the canonical ISBN-13 for s. The boolean is false when s
// is not a valid ISBN-10 or ISBN-13.
func Normalize(s string) (string, bool) {
	clean := Clean(s)

	if len(clean) == 13 && IsValid13(clean) {
		return clean, true
	}
	if len(clean) == 10 && IsValid10(clean) {
		return Convert10To13(clean), true
	}
	return "", false
}

// NormalizeOrRaw returns the ISBN-13 form of s, or s unchanged when it cannot
// be normalized. Book writes use this so user input is never rejected for a
// malformed identifier.
func NormalizeOrRaw(s string) string {
	if s == "" {
		return s
	}
	if normalized, ok := Normalize(s); ok {
		return normalized
	}
	return s
}

// checkDigit13 computes the ISBN-13 check digit over a 12-character base.
// Non-digit characters contribute their raw offset from '0'.
func checkDigit13(base string) byte {
	sum := 0
	for i := 0; i < len(base) && i < 12; i++ {
		d := int(base[i]) - '0'
		if i%2 == 0 {
			sum += d
		} else {
			sum += 3 * d
		}
	}
	check := (10 - ((sum%10)+10)%10) % 10
	return byte('0' + check)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
