package ingest

import (
	"strings"
	"unicode"
)

// Preprocess normalizes document text before storage: trims and collapses
// whitespace runs to single spaces.
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}
