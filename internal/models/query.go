package models

import "fmt"

// Query modes. ModeVector is the default nearest-neighbor search; ModeLexical
// ranks by full-text match over document text; ModeHybrid fuses both.
const (
	ModeVector  = "vector"
	ModeLexical = "lexical"
	ModeHybrid  = "hybrid"
)

// QueryRequest is a similarity query against one collection. Exactly one of
// Text or Vector must be set; Text is embedded with the same embedder used
// at ingestion. Filter is a conjunction of metadata predicates: a scalar
// value means equality, an object value holds range operators
// (gt/gte/lt/lte/ne).
type QueryRequest struct {
	Text   string         `json:"text,omitempty"`
	Vector []float32      `json:"vector,omitempty"`
	K      int            `json:"k,omitempty"`
	Filter map[string]any `json:"filter,omitempty"`
	Mode   string         `json:"mode,omitempty"`
}

// Validate normalizes the request. K of zero takes defaultK; an explicit
// negative K is rejected. An empty Mode means ModeVector.
func (q *QueryRequest) Validate(defaultK int) error {
	if q.Text == "" && len(q.Vector) == 0 {
		return fmt.Errorf("query needs text or vector")
	}
	if q.Text != "" && len(q.Vector) > 0 {
		return fmt.Errorf("query takes text or vector, not both")
	}
	if q.K < 0 {
		return fmt.Errorf("k must be >= 1, got %d", q.K)
	}
	if q.K == 0 {
		q.K = defaultK
	}
	switch q.Mode {
	case "":
		q.Mode = ModeVector
	case ModeVector, ModeLexical, ModeHybrid:
	default:
		return fmt.Errorf("unknown query mode %q", q.Mode)
	}
	if q.Mode != ModeVector && q.Text == "" {
		return fmt.Errorf("%s mode needs a text query", q.Mode)
	}
	return nil
}

// QueryResult is a single ranked hit.
type QueryResult struct {
	ID       string         `json:"id"`
	Document string         `json:"document"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// CollectionStatus reports one collection's counters for the status surface.
type CollectionStatus struct {
	Name      string `json:"name"`
	Records   int64  `json:"records"`
	IndexSize int    `json:"index_size"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

// Status is the response of GET /status and the status CLI command.
type Status struct {
	Collections    []CollectionStatus `json:"collections"`
	TotalRecords   int64              `json:"total_records"`
	DiskUsageBytes *int64             `json:"disk_usage_bytes,omitempty"`
	IndexKind      string             `json:"index_kind"`
	Dimension      int                `json:"embedding_dimension"`
	Metric         string             `json:"distance_metric"`
	StorePath      string             `json:"store_path"`
}
