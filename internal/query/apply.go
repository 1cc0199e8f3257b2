package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/systemshift/reqgraph/internal/element"
)

// Apply evaluates r against records in memory: type tag, filters and
// search narrow the set, sorts order it (stable, input order breaks
// ties), then the requested page is cut out.
func Apply(records []element.Record, r Request) Page {
	r = r.Normalize()

	matched := make([]element.Record, 0, len(records))
	for _, rec := range records {
		if r.TypeTag != "" && rec.TypeTag != r.TypeTag {
			continue
		}
		if !matchesFilters(rec, r.Filter) || !matchesSearch(rec, r.Search) {
			continue
		}
		matched = append(matched, rec)
	}

	if len(r.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, s := range r.Sort {
				c := compareValues(FieldValue(matched[i], s.Field), FieldValue(matched[j], s.Field))
				if c == 0 {
					continue
				}
				if s.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	start := min(r.Offset(), len(matched))
	end := start + min(r.PageSize, len(matched)-start)

	content := make([]element.Record, 0, end-start)
	for _, rec := range matched[start:end] {
		content = append(content, rec.Clone())
	}
	return Page{Content: content, Info: NewInfo(r.Page, r.PageSize, len(matched))}
}

// FieldValue resolves a sort/filter field on rec.
func FieldValue(rec element.Record, field string) any {
	switch field {
	case FieldID:
		return rec.ID
	case FieldTypeTag:
		return rec.TypeTag
	default:
		return rec.Attributes[field]
	}
}

func matchesFilters(rec element.Record, filters []Filter) bool {
	for _, f := range filters {
		v, present := stringValue(FieldValue(rec, f.Field))
		switch f.Op {
		case OpEq:
			if !present || v != f.Value {
				return false
			}
		case OpNe:
			if present && v == f.Value {
				return false
			}
		case OpContains:
			if !present || !strings.Contains(strings.ToLower(v), strings.ToLower(f.Value)) {
				return false
			}
		}
	}
	return true
}

func matchesSearch(rec element.Record, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	if strings.Contains(strings.ToLower(rec.ID), needle) || strings.Contains(strings.ToLower(rec.TypeTag), needle) {
		return true
	}
	for _, v := range rec.Attributes {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	default:
		return fmt.Sprint(t), true
	}
}

// compareValues orders nil < bool < number < string < anything else.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case float64, int:
		fx, fy := toFloat(x), toFloat(b)
		switch {
		case fx < fy:
			return -1
		case fx > fy:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(x, b.(string))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64, int:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	}
	return 0
}
