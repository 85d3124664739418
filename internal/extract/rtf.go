package extract

import (
	"fmt"

	"github.com/lu4p/cat/rtftxt"
)

// extractRTF extracts text from Rich Text Format bytes.
func extractRTF(content []byte) (string, error) {
	text, err := rtftxt.BytesToStr(content)
	if err != nil {
		return "", fmt.Errorf("extract RTF: %w", err)
	}
	return text, nil
}
