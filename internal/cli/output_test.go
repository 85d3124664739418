package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/kura/internal/models"
)

func sampleResults() []models.QueryResult {
	return []models.QueryResult{
		{
			ID:       "report.pdf_0",
			Document: strings.Repeat("long document text ", 30),
			Metadata: map[string]any{"source": "report.pdf", "page": int64(1)},
			Score:    0.92,
		},
		{ID: "note-1", Document: "short", Score: 0.41},
	}
}

func TestWriteResultsText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResults(&buf, sampleResults(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "2 results") {
		t.Errorf("missing header in %q", out)
	}
	if !strings.Contains(out, "report.pdf_0") || !strings.Contains(out, "0.9200") {
		t.Errorf("missing first result in %q", out)
	}
	if !strings.Contains(out, "page=1 source=report.pdf") {
		t.Errorf("metadata should print as sorted key=value pairs, got %q", out)
	}
	if !strings.Contains(out, "...") {
		t.Error("long document should be truncated with an ellipsis")
	}
}

func TestWriteResultsTextEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResults(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no results") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteResultsJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResults(&buf, sampleResults(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded []models.QueryResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 2 || decoded[0].ID != "report.pdf_0" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteResultsUnknownFormat(t *testing.T) {
	if err := WriteResults(&bytes.Buffer{}, nil, "yaml"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}
