package extract

import "strings"

// extractPlain passes content through as-is, replacing invalid UTF-8
// sequences with the replacement character.
func extractPlain(content []byte) (string, error) {
	return strings.ToValidUTF8(string(content), "�"), nil
}
