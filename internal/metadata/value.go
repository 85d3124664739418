package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNull
	KindNumber
	KindString
	KindBool
)

// Value is a small typed scalar used for metadata fields and filters.
// Metadata arrives as JSON, so all numbers are carried as float64.
type Value struct {
	Kind Kind
	F64  float64
	S    string
	B    bool
}

// Null returns a null Value.
func Null() Value { return Value{Kind: KindNull} }

// Number returns a numeric Value.
func Number(v float64) Value { return Value{Kind: KindNumber, F64: v} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, S: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// ValueOf converts a raw scalar (as produced by encoding/json or built in
// Go code) into a Value. Non-scalar inputs are rejected.
func ValueOf(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case float64:
		return Number(v), nil
	case float32:
		return Number(float64(v)), nil
	case int:
		return Number(float64(v)), nil
	case int32:
		return Number(float64(v)), nil
	case int64:
		return Number(float64(v)), nil
	case uint64:
		return Number(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("metadata: invalid number %q: %w", v.String(), err)
		}
		return Number(f), nil
	default:
		return Value{}, fmt.Errorf("metadata: unsupported value type %T (only scalars allowed)", raw)
	}
}

// Key returns a stable string representation for use as an inverted-index
// map key. Numbers use their exact bit pattern so 5 and 5.0 collide as
// intended while 5 and 5.0000001 do not.
func (v Value) Key() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindNumber:
		return "n:" + strconv.FormatUint(math.Float64bits(v.F64), 16)
	case KindString:
		return "s:" + v.S
	case KindBool:
		if v.B {
			return "b:1"
		}
		return "b:0"
	default:
		return "invalid"
	}
}

// Equal reports whether two values are the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.F64 == o.F64
	case KindString:
		return v.S == o.S
	case KindBool:
		return v.B == o.B
	case KindNull:
		return true
	default:
		return false
	}
}

// Compare orders two values of the same kind. It returns -1, 0 or +1 and
// false when the kinds differ or the kind has no natural order.
func (v Value) Compare(o Value) (int, bool) {
	if v.Kind != o.Kind {
		return 0, false
	}
	switch v.Kind {
	case KindNumber:
		switch {
		case v.F64 < o.F64:
			return -1, true
		case v.F64 > o.F64:
			return 1, true
		default:
			return 0, true
		}
	case KindString:
		return strings.Compare(v.S, o.S), true
	default:
		return 0, false
	}
}

// Document is a typed metadata record, one Value per field.
type Document map[string]Value

// DocumentOf converts a raw JSON object into a Document, rejecting
// non-scalar field values.
func DocumentOf(raw map[string]any) (Document, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	doc := make(Document, len(raw))
	for k, rv := range raw {
		v, err := ValueOf(rv)
		if err != nil {
			return nil, fmt.Errorf("metadata: field %q: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}
