package gateway

import (
	"strings"
	"unicode"
)

// NormalizeTaxID strips everything but digits, so "123.456.789-01" becomes
// "12345678901".
func NormalizeTaxID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidTaxID reports whether the normalized id has exactly 11 digits (CPF).
func ValidTaxID(raw string) bool {
	return len(NormalizeTaxID(raw)) == 11
}

func splitName(full string) (string, string) {
	parts := strings.FieldsFunc(full, unicode.IsSpace)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
