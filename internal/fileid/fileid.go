// Package fileid derives deterministic record ids for file-sourced
// ingestion, so re-ingesting the same file replaces its records instead of
// accumulating duplicates.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
)

const pathPrefix = "file:"

// PathID returns a stable id stem for a filesystem path. The same path
// always yields the same stem, regardless of how it was spelled.
func PathID(path string) string {
	normalized := filepath.Clean(path)
	hash := sha256.Sum256([]byte(normalized))
	return pathPrefix + hex.EncodeToString(hash[:16])
}

// ChunkID returns the id of one chunk of a source: "report.pdf" chunk 2
// becomes "report.pdf_2".
func ChunkID(stem string, index int) string {
	return stem + "_" + strconv.Itoa(index)
}
