package qdrant

import (
	"encoding/json"
	"fmt"
	"sort"
)

// InvalidFilterError rejects a structured filter map before any query runs.
type InvalidFilterError struct {
	Message string
}

func (e *InvalidFilterError) Error() string {
	if e == nil {
		return "invalid filter"
	}
	return e.Message
}

func invalidFilter(format string, args ...any) error {
	return &InvalidFilterError{Message: fmt.Sprintf(format, args...)}
}

// Filter is a conjunction of field conditions, already validated against a
// source's allowed filter fields.
type Filter struct {
	must []condition
}

type condition struct {
	Key   string     `json:"key"`
	Match *matchSpec `json:"match,omitempty"`
	Range *rangeSpec `json:"range,omitempty"`
}

type matchSpec struct {
	Value any   `json:"value,omitempty"`
	Any   []any `json:"any,omitempty"`
}

type rangeSpec struct {
	Gt  *float64 `json:"gt,omitempty"`
	Gte *float64 `json:"gte,omitempty"`
	Lt  *float64 `json:"lt,omitempty"`
	Lte *float64 `json:"lte,omitempty"`
}

func (f *Filter) asMap() map[string]any {
	if f == nil || len(f.must) == 0 {
		return nil
	}
	must := make([]any, 0, len(f.must))
	for _, c := range f.must {
		must = append(must, c)
	}
	return map[string]any{"must": must}
}

// BuildFilter validates a caller-supplied filter map against the allowed
// fields and translates it into a Qdrant filter. Every entry supports exactly
// one operator family: a bare scalar (equality), {"eq": v}, {"in": [v...]}
// with a non-empty list, or {"range": {"gt"|"gte"|"lt"|"lte": number}} with at
// least one bound. Any unknown field or unsupported shape fails the whole
// call; conditions are AND-combined.
func BuildFilter(filters map[string]any, allowedFields []string) (*Filter, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	allowed := make(map[string]struct{}, len(allowedFields))
	for _, field := range allowedFields {
		allowed[field] = struct{}{}
	}

	fields := make([]string, 0, len(filters))
	for field := range filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	out := &Filter{}
	for _, field := range fields {
		if _, ok := allowed[field]; !ok {
			return nil, invalidFilter("filter field %q is not allowed", field)
		}
		cond, err := buildCondition(field, filters[field])
		if err != nil {
			return nil, err
		}
		out.must = append(out.must, cond)
	}
	return out, nil
}

func buildCondition(field string, rawSpec any) (condition, error) {
	spec, ok := rawSpec.(map[string]any)
	if !ok {
		// Bare scalar means equality. A nil value would serialize as an
		// empty match clause and fail server-side, so reject it here.
		if rawSpec == nil {
			return condition{}, invalidFilter("filter %q must not be null", field)
		}
		return condition{Key: field, Match: &matchSpec{Value: rawSpec}}, nil
	}

	if value, ok := spec["eq"]; ok {
		if value == nil {
			return condition{}, invalidFilter("filter %q.eq must not be null", field)
		}
		return condition{Key: field, Match: &matchSpec{Value: value}}, nil
	}

	if rawValues, ok := spec["in"]; ok {
		values, ok := rawValues.([]any)
		if !ok || len(values) == 0 {
			return condition{}, invalidFilter("filter %q.in must be a non-empty list", field)
		}
		return condition{Key: field, Match: &matchSpec{Any: values}}, nil
	}

	if rawRange, ok := spec["range"]; ok {
		bounds, ok := rawRange.(map[string]any)
		if !ok {
			return condition{}, invalidFilter("filter %q.range must contain gt/gte/lt/lte", field)
		}
		r := &rangeSpec{}
		found := false
		for key, dst := range map[string]**float64{"gt": &r.Gt, "gte": &r.Gte, "lt": &r.Lt, "lte": &r.Lte} {
			raw, ok := bounds[key]
			if !ok {
				continue
			}
			num, ok := toNumber(raw)
			if !ok {
				return condition{}, invalidFilter("filter %q.range.%s must be a number", field, key)
			}
			*dst = &num
			found = true
		}
		if !found {
			return condition{}, invalidFilter("filter %q.range must contain gt/gte/lt/lte", field)
		}
		return condition{Key: field, Range: r}, nil
	}

	return condition{}, invalidFilter("unsupported filter operator for field %q", field)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
