// Package models defines core data structures for records, ingestion, and
// query results.
package models

import "time"

// Record is a stored (id, vector, document, metadata) tuple. All vectors in
// one collection share the collection's dimension; ID is unique within a
// collection. Metadata values are scalars (string, bool, or numeric).
type Record struct {
	ID        string         `json:"id"`
	Vector    []float32      `json:"vector,omitempty"`
	Document  string         `json:"document"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Seq       uint64         `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CollectionInfo summarizes one collection for listings.
type CollectionInfo struct {
	Name      string    `json:"name"`
	Count     int64     `json:"count"`
	Dimension int       `json:"dimension"`
	Metric    string    `json:"metric"`
	CreatedAt time.Time `json:"created_at"`
}

// IngestItem is one document submitted for ingestion. Text is embedded
// unless Vector is supplied by the caller. ID is generated when empty.
type IngestItem struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Vector   []float32      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ItemResult is the per-item outcome of batch ingestion, aligned with the
// input order. Exactly one of ID or Err is set.
type ItemResult struct {
	ID  string
	Err error
}

// SourceCount is one entry of the per-source document listing: the value of
// the "source" metadata key and how many records carry it.
type SourceCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}
