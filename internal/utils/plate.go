package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate keeps only letters and digits and upper-cases them. The
// result is used as an identity key for a plate, never stored on its own.
func NormalizePlate(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// JoinFragments trims OCR fragments and joins the non-empty ones with a
// single space.
func JoinFragments(fragments []string) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
