package graph

import (
	"context"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/query"
)

// Repository defines the interface for element storage backends.
// Both SQLite and Neo4j implement this interface. Every failure a caller
// should see is an *element.Error; anything else is a server fault.
type Repository interface {
	// Lifecycle
	Close(ctx context.Context) error

	// CreateElement stores rec under rec.ID. A shortName already used by
	// another element of the same type tag is a conflict.
	CreateElement(ctx context.Context, rec element.Record) (element.Record, error)

	// GetElement returns the element with id. A type tag mismatch is
	// reported as not found.
	GetElement(ctx context.Context, typeTag, id string) (element.Record, error)

	// UpdateElement merges changed into the stored attributes and returns
	// the full record.
	UpdateElement(ctx context.Context, typeTag, id string, changed map[string]any) (element.Record, error)

	// DeleteElement removes id. Missing ids succeed. An element that
	// another element still references is a conflict unless force is set.
	DeleteElement(ctx context.Context, typeTag, id string, force bool) error

	// ListElements returns one page for req.
	ListElements(ctx context.Context, req query.Request) (query.Page, error)
}

// sanitize copies attrs and drops keys the server owns.
func sanitize(attrs map[string]any) map[string]any {
	out := element.CloneAttributes(attrs)
	if out == nil {
		out = map[string]any{}
	}
	delete(out, "id")
	delete(out, "typeTag")
	return out
}

// shortNameOf returns the shortName attribute when it is a non-empty
// string.
func shortNameOf(attrs map[string]any) string {
	s, _ := attrs[element.AttrShortName].(string)
	return s
}

// referencesOf returns field -> target id for every populated reference
// field.
func referencesOf(rec element.Record) map[string]string {
	refs := make(map[string]string)
	for _, field := range element.ReferenceFields {
		if target := rec.Ref(field); target != "" {
			refs[field] = target
		}
	}
	return refs
}

func duplicateShortName(typeTag, shortName, holder string) error {
	return element.Conflict("%s shortName %q is already used by %s", typeTag, shortName, holder)
}

func stillReferenced(id string, by []string) error {
	return element.Conflict("%s is referenced by %v", id, by)
}
