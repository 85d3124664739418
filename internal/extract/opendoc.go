package extract

import (
	"fmt"
	"regexp"
)

// OpenDocument presentations and spreadsheets keep their body in content.xml.
const odContentPart = "content.xml"

var (
	odParagraph = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odSpan      = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
	odHeading   = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
)

func extractODContent(content []byte, kind string, tags ...*regexp.Regexp) (string, error) {
	zr, err := openContainer(content)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", kind, err)
	}
	xml, err := readPart(zr, odContentPart)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", kind, err)
	}
	return textNodes(string(xml), tags...), nil
}

// extractODP pulls slide text out of an OpenDocument presentation.
func extractODP(content []byte) (string, error) {
	return extractODContent(content, "ODP", odParagraph, odSpan, odHeading)
}

// extractODS pulls cell text out of an OpenDocument spreadsheet.
func extractODS(content []byte) (string, error) {
	return extractODContent(content, "ODS", odParagraph, odSpan)
}
