package storage

import (
	"sort"
	"strings"
	"time"
)

type Op string

const (
	OpEqual    Op = "=="
	OpNotEqual Op = "!="
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents of one collection.
// A document missing a filtered or ordered field never matches.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

func (q Query) matches(doc Document) bool {
	for _, f := range q.Filters {
		v, ok := doc.Data[f.Field]
		if !ok || v == nil {
			return false
		}
		cmp, comparable := compareValues(v, f.Value)
		switch f.Op {
		case OpEqual:
			if !comparable || cmp != 0 {
				return false
			}
		case OpNotEqual:
			if comparable && cmp == 0 {
				return false
			}
		default:
			return false
		}
	}
	if q.OrderBy != "" {
		if v, ok := doc.Data[q.OrderBy]; !ok || v == nil {
			return false
		}
	}
	return true
}

// Apply filters, orders and limits docs, which must be in key order.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.matches(d) {
			out = append(out, d)
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			cmp, _ := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
			if q.Descending {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// compareValues orders values of the same family (numbers, strings, times, bools).
// The second result is false when the values cannot be compared.
func compareValues(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
