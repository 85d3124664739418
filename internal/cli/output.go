package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/search"
)

// OutputFormat selects how query results print.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// snippetRunes bounds how much document text one result prints.
const snippetRunes = 200

// WriteResults writes query results to w in the given format.
func WriteResults(w io.Writer, results []models.QueryResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case OutputText, "":
		writeResultsText(w, results)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (supported: text, json)", format)
	}
}

func writeResultsText(w io.Writer, results []models.QueryResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	fmt.Fprintf(w, "%d results\n", len(results))
	for i, r := range results {
		fmt.Fprintf(w, "\n%2d. %s  (score %.4f)\n", i+1, r.ID, r.Score)
		if len(r.Metadata) > 0 {
			fmt.Fprintf(w, "    %s\n", formatMetadata(r.Metadata))
		}
		fmt.Fprintf(w, "    %s\n", search.Snippet(r.Document, snippetRunes))
	}
}

// formatMetadata renders metadata as stable key=value pairs.
func formatMetadata(meta map[string]any) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%v", k, meta[k])
	}
	return out
}
