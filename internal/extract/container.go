package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// OpenDocument and OOXML payloads are both ZIP containers holding XML parts.
// The extractors pull visible text nodes out with narrow regexes rather than
// a full XML parse: the tags carry arbitrary attributes but never nest text
// inside the matched element.

func openContainer(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip container: %w", err)
	}
	return zr, nil
}

func readPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found", name)
}

// textNodes joins the first submatch of every tag match with single spaces.
func textNodes(xml string, tags ...*regexp.Regexp) string {
	var b strings.Builder
	for _, re := range tags {
		for _, m := range re.FindAllStringSubmatch(xml, -1) {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strings.TrimSpace(m[1]))
		}
	}
	return strings.TrimSpace(b.String())
}
