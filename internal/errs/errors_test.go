package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Kind("")},
		{"validation", Validation("ingest", "docs", "a", "empty text"), KindValidation},
		{"dimension", DimensionMismatch("put", "docs", "a", 4, 3), KindValidation},
		{"not found", NotFound("docs", "a"), KindNotFound},
		{"embedding", Embedding("embed", 3, cause), KindEmbedding},
		{"storage", Storage("flush", "docs", cause), KindStorage},
		{"plain", cause, KindInternal},
		{"wrapped validation", fmt.Errorf("outer: %w", DimensionMismatch("put", "docs", "", 4, 3)), KindValidation},
		{"wrapped not found", fmt.Errorf("outer: %w", NotFound("docs", "")), KindNotFound},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("%s: KindOf() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestErrorMessagesCarryContext(t *testing.T) {
	err := DimensionMismatch("put", "manuals", "doc-1", 384, 3)
	msg := err.Error()
	for _, want := range []string{"put", "manuals", "doc-1", "384", "3"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}

	sErr := Storage("scan", "manuals", errors.New("disk gone"))
	if !strings.Contains(sErr.Error(), "manuals") || !strings.Contains(sErr.Error(), "disk gone") {
		t.Errorf("storage message %q missing context", sErr.Error())
	}
}

func TestUnwrapChains(t *testing.T) {
	cause := errors.New("connection refused")
	err := Embedding("embed", 2, cause)
	if !errors.Is(err, cause) {
		t.Error("EmbeddingError should unwrap to its cause")
	}

	var ee *EmbeddingError
	wrapped := fmt.Errorf("ingest: %w", err)
	if !errors.As(wrapped, &ee) {
		t.Fatal("errors.As should find EmbeddingError through wrapping")
	}
	if ee.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", ee.Attempts)
	}
}
