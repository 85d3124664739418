package extract

import (
	"fmt"

	"github.com/lu4p/cat/odtxt"
)

// extractODT extracts text from OpenDocument Text bytes.
func extractODT(content []byte) (string, error) {
	text, err := odtxt.BytesToStr(content)
	if err != nil {
		return "", fmt.Errorf("extract ODT: %w", err)
	}
	return text, nil
}
