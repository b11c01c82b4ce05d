// Package textutil folds free text into a comparable form shared by keyword
// scoring and near-duplicate fingerprints.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s, strips diacritics, turns every rune that is not a letter
// or a digit into a separator and collapses separators into single spaces.
// "Café Exploité!" and "cafe exploite" fold to the same string.
func Fold(s string) string {
	if s == "" {
		return ""
	}

	// transform chains carry state, so each call gets its own.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	b.Grow(len(stripped))
	pendingSpace := false
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// Tokens returns the folded words of s.
func Tokens(s string) []string {
	return strings.Fields(Fold(s))
}

// ContainsWord reports whether the folded phrase starts at a word boundary
// inside folded text. The end is left open so "exploit" matches "exploited".
func ContainsWord(foldedText, foldedPhrase string) bool {
	if foldedPhrase == "" {
		return false
	}
	return strings.Contains(" "+foldedText, " "+foldedPhrase)
}

// ContainsWholeWord is ContainsWord with the end closed as well, so "ama"
// matches "join our ama" but not "amazon".
func ContainsWholeWord(foldedText, foldedPhrase string) bool {
	if foldedPhrase == "" {
		return false
	}
	return strings.Contains(" "+foldedText+" ", " "+foldedPhrase+" ")
}

// Truncate shortens s to at most max runes, ending with "..." when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
