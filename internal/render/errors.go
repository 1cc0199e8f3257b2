package render

import (
	"errors"
	"sort"
	"strings"

	"github.com/systemshift/reqgraph/internal/element"
)

// ErrorLine maps a failure to the one-line message a user sees.
func ErrorLine(err error) string {
	if err == nil {
		return ""
	}
	var e *element.Error
	if !errors.As(err, &e) {
		return "Error: " + err.Error()
	}

	detail := e.Detail
	if detail == "" {
		detail = e.Title
	}
	switch e.Kind {
	case element.NetworkFailure:
		if e.Status != 0 {
			return "The element service failed. Try again later."
		}
		return "Cannot reach the element service. Check the server address and try again."
	case element.ValidationFailure:
		line := "Rejected: " + detail
		if fields := fieldList(e.FieldErrors); fields != "" {
			line += " (" + fields + ")"
		}
		return line
	case element.ConflictFailure:
		return "Conflict: " + detail
	case element.NotFoundFailure:
		return "Not found: " + detail
	default:
		return "Error: " + err.Error()
	}
}

func fieldList(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + fields[k]
	}
	return strings.Join(parts, "; ")
}

// Error paints ErrorLine.
func (r *Renderer) Error(err error) string {
	return r.paint(r.Styles.Error, ErrorLine(err))
}
