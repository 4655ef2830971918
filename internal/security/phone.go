package security

import "strings"

// countryCodes maps recognized dialing codes to the accepted range of
// national significant number lengths.
var countryCodes = map[string][2]int{
	"242": {9, 9},  // Congo-Brazzaville
	"243": {9, 9},  // DR Congo
	"237": {9, 9},  // Cameroon
	"241": {7, 8},  // Gabon
	"221": {9, 9},  // Senegal
	"225": {8, 10}, // Cote d'Ivoire
	"33":  {9, 9},  // France
	"32":  {8, 9},  // Belgium
}

// SanitizePhone normalizes a phone number to the canonical +<cc><nsn>
// form for recognized country-code patterns. Accepted inputs are
// "+242...", "00242..." and bare "242..." with separators. Unrecognized
// numbers are returned unchanged; callers resolve them against the
// identity store as-is. That makes unknown formats a soft limitation,
// not a hard failure.
func SanitizePhone(phone string) string {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, phone)

	digits := stripped
	switch {
	case strings.HasPrefix(stripped, "+"):
		digits = stripped[1:]
	case strings.HasPrefix(stripped, "00"):
		digits = stripped[2:]
	}

	if !isDigits(digits) {
		return phone
	}

	for code, bounds := range countryCodes {
		if !strings.HasPrefix(digits, code) {
			continue
		}
		nsn := len(digits) - len(code)
		if nsn >= bounds[0] && nsn <= bounds[1] {
			return "+" + digits
		}
	}

	return phone
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
