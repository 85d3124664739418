package ingest

import "strings"

// Default chunking geometry, in runes.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits extracted text into overlapping windows sized in runes.
// Cuts prefer natural boundaries: a paragraph break, then a line break, then
// a sentence end, then a word break, searched backward within the overlap
// window. Text with no separators is cut hard at the window edge.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Non-positive size or overlap take the
// defaults; an overlap at or above size is clamped so windows advance.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap <= 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text into trimmed, non-empty pieces. Returns nil for blank
// input. Each piece is at most size runes before trimming; consecutive
// pieces share up to overlap runes.
func (c *Chunker) Chunk(text string) []string {
	runes := []rune(text)
	if len(runes) <= c.size {
		piece := strings.TrimSpace(text)
		if piece == "" {
			return nil
		}
		return []string{piece}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.splitPoint(runes, start, end)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}
		if end >= len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// splitPoint returns the cut position in (start, end] nearest end that lands
// just after the most preferred separator inside the overlap window. The cut
// stays at end when the window holds no separator.
func (c *Chunker) splitPoint(runes []rune, start, end int) int {
	low := end - c.overlap
	if low <= start {
		low = start + 1
	}
	for i := end - 2; i >= low; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i + 2
		}
	}
	for i := end - 1; i >= low; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	for i := end - 2; i >= low; i-- {
		if runes[i] == '.' && runes[i+1] == ' ' {
			return i + 2
		}
	}
	for i := end - 1; i >= low; i-- {
		if runes[i] == ' ' {
			return i + 1
		}
	}
	return end
}
