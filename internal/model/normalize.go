package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// keyFolder strips diacritics so "Muñoz" and "Munoz" produce the same
// dedup and match keys regardless of which form a scraper emitted.
var keyFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeKeyPart trims, uppercases, collapses inner whitespace, and folds
// diacritics. Used for natural-key parts and name-match keys.
func NormalizeKeyPart(s string) string {
	folded, _, err := transform.String(keyFolder, s)
	if err != nil {
		folded = s
	}
	return strings.ToUpper(strings.Join(strings.Fields(folded), " "))
}

// NormalizeName is NormalizeKeyPart minus punctuation, for person-name
// comparison ("O'BRIEN, JR." == "OBRIEN JR").
func NormalizeName(s string) string {
	var b strings.Builder
	for _, r := range NormalizeKeyPart(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
