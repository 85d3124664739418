package metadata

import (
	"fmt"
	"sort"
)

// Operator is a comparison operator for metadata filters.
type Operator string

const (
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "ne"
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpIn           Operator = "in"
)

// Filter is a single predicate on one metadata field.
type Filter struct {
	Field string
	Op    Operator
	Value Value
	// Values holds the candidate set for OpIn.
	Values []Value
}

// FilterSet is a conjunction of filters. A record matches when every
// filter matches; an empty set matches everything.
type FilterSet struct {
	Filters []Filter
}

// NewFilterSet builds a FilterSet from the given filters.
func NewFilterSet(filters ...Filter) *FilterSet {
	return &FilterSet{Filters: filters}
}

// Empty reports whether the set contains no predicates.
func (fs *FilterSet) Empty() bool {
	return fs == nil || len(fs.Filters) == 0
}

// ParseFilter converts the JSON filter shape used by the HTTP API into a
// FilterSet. A scalar field value means equality; an object value holds
// operators, e.g. {"year": {"gte": 2020, "lt": 2024}, "lang": "en"}.
func ParseFilter(raw map[string]any) (*FilterSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	fields := make([]string, 0, len(raw))
	for k := range raw {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	fs := &FilterSet{Filters: make([]Filter, 0, len(raw))}
	for _, field := range fields {
		rv := raw[field]
		ops, isObject := rv.(map[string]any)
		if !isObject {
			v, err := ValueOf(rv)
			if err != nil {
				return nil, fmt.Errorf("filter %q: %w", field, err)
			}
			fs.Filters = append(fs.Filters, Filter{Field: field, Op: OpEqual, Value: v})
			continue
		}
		if len(ops) == 0 {
			return nil, fmt.Errorf("filter %q: empty operator object", field)
		}
		opNames := make([]string, 0, len(ops))
		for name := range ops {
			opNames = append(opNames, name)
		}
		sort.Strings(opNames)
		for _, name := range opNames {
			f, err := parseOperator(field, Operator(name), ops[name])
			if err != nil {
				return nil, err
			}
			fs.Filters = append(fs.Filters, f)
		}
	}
	return fs, nil
}

func parseOperator(field string, op Operator, operand any) (Filter, error) {
	switch op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		v, err := ValueOf(operand)
		if err != nil {
			return Filter{}, fmt.Errorf("filter %q %s: %w", field, op, err)
		}
		return Filter{Field: field, Op: op, Value: v}, nil
	case OpIn:
		list, ok := operand.([]any)
		if !ok {
			return Filter{}, fmt.Errorf("filter %q in: expected an array, got %T", field, operand)
		}
		if len(list) == 0 {
			return Filter{}, fmt.Errorf("filter %q in: empty array", field)
		}
		values := make([]Value, 0, len(list))
		for i, item := range list {
			v, err := ValueOf(item)
			if err != nil {
				return Filter{}, fmt.Errorf("filter %q in[%d]: %w", field, i, err)
			}
			values = append(values, v)
		}
		return Filter{Field: field, Op: OpIn, Values: values}, nil
	default:
		return Filter{}, fmt.Errorf("filter %q: unknown operator %q", field, op)
	}
}

// Matches reports whether a document satisfies every filter in the set.
// A field missing from the document fails every operator except ne.
func (fs *FilterSet) Matches(doc Document) bool {
	if fs.Empty() {
		return true
	}
	for _, f := range fs.Filters {
		if !f.matches(doc) {
			return false
		}
	}
	return true
}

// MatchesRaw evaluates the set against an untyped metadata map, as stored
// alongside records. Fields that fail scalar conversion never match.
func (fs *FilterSet) MatchesRaw(raw map[string]any) bool {
	if fs.Empty() {
		return true
	}
	doc := make(Document, len(raw))
	for k, rv := range raw {
		v, err := ValueOf(rv)
		if err != nil {
			continue
		}
		doc[k] = v
	}
	return fs.Matches(doc)
}

func (f Filter) matches(doc Document) bool {
	got, ok := doc[f.Field]
	if !ok {
		return f.Op == OpNotEqual
	}
	switch f.Op {
	case OpEqual:
		return got.Equal(f.Value)
	case OpNotEqual:
		return !got.Equal(f.Value)
	case OpGreaterThan:
		c, ok := got.Compare(f.Value)
		return ok && c > 0
	case OpGreaterEqual:
		c, ok := got.Compare(f.Value)
		return ok && c >= 0
	case OpLessThan:
		c, ok := got.Compare(f.Value)
		return ok && c < 0
	case OpLessEqual:
		c, ok := got.Compare(f.Value)
		return ok && c <= 0
	case OpIn:
		for _, v := range f.Values {
			if got.Equal(v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// bitmapCompatible reports whether the filter can be answered from the
// inverted index alone. Range operators need a value scan.
func (f Filter) bitmapCompatible() bool {
	return f.Op == OpEqual || f.Op == OpIn
}
