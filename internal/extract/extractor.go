// Package extract pulls plain text out of uploaded document files so they
// can be chunked and embedded: PDF, OOXML (docx, pptx, xlsx), OpenDocument
// (odt, odp, ods), RTF, and plain text.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extractor extracts plain text from document payloads.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content. The format
// is chosen by extension; unknown extensions are treated as plain text.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on the given extension.
// ext includes the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".odt":
		return extractODT(content)
	case ".rtf":
		return extractRTF(content)
	case ".xlsx":
		return extractExcel(content)
	case ".pptx":
		return extractPPTX(content)
	case ".odp":
		return extractODP(content)
	case ".ods":
		return extractODS(content)
	default:
		// .txt, .md, .rst, and anything unrecognized.
		return extractPlain(content)
	}
}
