// Package nlp holds the text canonicalization, synonym tables and free-text
// extraction used to turn WhatsApp messages into (service, city) needs.
package nlp

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Canonical reduces text to the single matching form used everywhere:
// lowercase, accents folded, punctuation dropped, whitespace collapsed.
func Canonical(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	folded, _, err := transform.String(accentFolder, lowered)
	if err != nil {
		folded = lowered
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// Punctuation separates words rather than gluing them.
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizePhone strips the WhatsApp JID suffix and formatting noise so the
// same number always compares equal: "+593 99 911 1222@c.us" and
// "593999111222" normalize identically.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if idx := strings.Index(phone, "@"); idx >= 0 {
		phone = phone[:idx]
	}
	phone = strings.ReplaceAll(phone, "+", "")
	phone = strings.ReplaceAll(phone, " ", "")
	return phone
}

// containsPadded reports whether needle occurs in haystack on word
// boundaries. Both arguments must already be canonical.
func containsPadded(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}
