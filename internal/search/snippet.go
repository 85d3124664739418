package search

// Snippet truncates document text to at most maxRunes for display, appending
// an ellipsis when it cut something. Rune-based so multi-byte text never
// splits mid-character.
func Snippet(content string, maxRunes int) string {
	if maxRunes <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return content
	}
	return string(runes[:maxRunes]) + "..."
}
