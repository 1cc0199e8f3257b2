// Package element defines the canonical unit of model data shared by the
// client store, the backend client and the reference server.
package element

// Well-known attribute names.
const (
	AttrDisplayName        = "displayName"
	AttrShortName          = "shortName"
	AttrDocumentation      = "documentation"
	AttrStatus             = "status"
	AttrPriority           = "priority"
	AttrVerificationMethod = "verificationMethod"

	// Reference fields. A usage points at its definition through
	// RefDefinition; relationship kinds connect RefSource to RefTarget.
	RefDefinition = "definitionRef"
	RefSource     = "sourceRef"
	RefTarget     = "targetRef"
)

// ReferenceFields lists every attribute that holds the id of another
// element.
var ReferenceFields = []string{RefDefinition, RefSource, RefTarget}

// Record is one typed modeling element: a definition, a usage or a
// relationship.
type Record struct {
	ID         string         `json:"id"`
	TypeTag    string         `json:"typeTag"`
	Attributes map[string]any `json:"attributes"`
}

// New returns a record with a deep copy of attrs.
func New(id, typeTag string, attrs map[string]any) Record {
	return Record{ID: id, TypeTag: typeTag, Attributes: CloneAttributes(attrs)}
}

// Clone returns a deep copy of the record. Nested maps and slices are
// copied so the clone shares no mutable state with r.
func (r Record) Clone() Record {
	return Record{ID: r.ID, TypeTag: r.TypeTag, Attributes: CloneAttributes(r.Attributes)}
}

// Merge overwrites r's attributes with attrs, one key at a time. Keys
// absent from attrs keep their value. r itself is not modified.
func (r Record) Merge(attrs map[string]any) Record {
	merged := r.Clone()
	if merged.Attributes == nil {
		merged.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		merged.Attributes[k] = cloneValue(v)
	}
	return merged
}

// Ref returns the id stored in a reference field, or "" when the field
// is missing, null or not a string.
func (r Record) Ref(field string) string {
	v, ok := r.Attributes[field]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// String returns a string attribute, or "" when it is missing or of
// another type.
func (r Record) String(attr string) string {
	s, _ := r.Attributes[attr].(string)
	return s
}

// Label is the text a view shows for r: the named attribute when it is
// a non-empty string, the id otherwise.
func (r Record) Label(attr string) string {
	if attr == "" {
		attr = AttrDisplayName
	}
	if s := r.String(attr); s != "" {
		return s
	}
	return r.ID
}

// CloneAttributes deep-copies an attribute bag. A nil bag stays nil.
func CloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneAttributes(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
