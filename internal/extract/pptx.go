package extract

import (
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Slide parts live under ppt/slides/slideN.xml in a .pptx package.
const pptxSlidePrefix = "ppt/slides/slide"

var drawingText = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

// extractPPTX collects every <a:t> text node across all slides.
func extractPPTX(content []byte) (string, error) {
	zr, err := openContainer(content)
	if err != nil {
		return "", fmt.Errorf("extract PPTX: %w", err)
	}
	var parts []string
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, pptxSlidePrefix) || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extract PPTX: open %s: %w", f.Name, err)
		}
		xml, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("extract PPTX: read %s: %w", f.Name, err)
		}
		if s := textNodes(string(xml), drawingText); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}
