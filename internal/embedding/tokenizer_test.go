package embedding

import (
	"testing"
)

func TestSimpleTokenizerTokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Errorf("lengths = %d/%d/%d, want 10", len(ids), len(attn), len(types))
	}
	if ids[0] != 101 {
		t.Errorf("expected CLS 101, got %d", ids[0])
	}
	if attn[0] != 1 {
		t.Error("attention[0] should be 1")
	}
	if ids[3] != 102 {
		t.Errorf("expected SEP 102 after two words, got %d", ids[3])
	}
	if attn[4] != 0 {
		t.Error("padding should have zero attention")
	}
}

func TestSimpleTokenizerTruncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("one two three four five six seven", 5)
	if len(ids) != 5 {
		t.Fatalf("len(ids)=%d", len(ids))
	}
	// CLS + 3 words + SEP fills all 5 slots.
	for i, a := range attn {
		if a != 1 {
			t.Errorf("attention[%d] = %d, want 1", i, a)
		}
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("abc") == HashString("abd") {
		t.Error("different strings should hash differently")
	}
}
