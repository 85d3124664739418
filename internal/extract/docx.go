package extract

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	docxDefaultPart  = "word/document.xml"
	contentTypesPart = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// runText matches <w:t> nodes regardless of attributes. lu4p/cat covers the
// OpenDocument formats, but its docx handling only matches bare <w:p> tags,
// so documents with paragraph attributes would come back empty.
var runText = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// Both attribute orders of the Override element occur in the wild.
var docxPartName = []*regexp.Regexp{
	regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"`),
	regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"[^>]+PartName="([^"]+)"`),
}

// extractDOCX collects the <w:t> text nodes of the main document part,
// resolved through [Content_Types].xml when present.
func extractDOCX(content []byte) (string, error) {
	zr, err := openContainer(content)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	part := docxDefaultPart
	if types, err := readPart(zr, contentTypesPart); err == nil {
		for _, re := range docxPartName {
			if m := re.FindSubmatch(types); len(m) > 1 {
				part = strings.TrimPrefix(string(m[1]), "/")
				break
			}
		}
	}
	xml, err := readPart(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	return textNodes(string(xml), runText), nil
}
