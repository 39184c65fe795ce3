// Package fieldname normalizes arbitrary header strings into safe, lowercase
// identifiers suitable for column and table names.
package fieldname

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxLen matches the tightest backend identifier limit (Postgres: 63 bytes).
const maxLen = 63

// foldDiacritics decomposes to NFD and strips combining marks, so "Catégorie"
// normalizes to "categorie" rather than dropping the accented rune entirely.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize converts an arbitrary input string into a safe identifier:
// diacritics folded, lowercased, separators collapsed to single underscores,
// anything outside [a-z0-9_] dropped.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if folded, _, err := transform.String(foldDiacritics, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, r := range s {
		switch {
		case r == ' ' || r == '-' || r == '.' || r == '/' || r == '\\' || r == ':' || r == ';':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			// Drop everything else.
		}
	}

	return strings.Trim(b.String(), "_")
}

// Truncate enforces the identifier length limit while preserving UTF-8
// validity.
func Truncate(s string) string {
	if len(s) <= maxLen {
		return s
	}
	b := []byte(s)
	cut := maxLen
	for cut > 0 && !utf8.Valid(b[:cut]) {
		cut--
	}
	if cut <= 0 {
		return s[:maxLen]
	}
	return string(b[:cut])
}
