// Package query translates a view's sort/filter/search/page request into
// the backend's query parameters and describes the page that came back.
package query

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/systemshift/reqgraph/internal/element"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Pseudo-fields that address the record itself rather than an attribute.
const (
	FieldID      = "id"
	FieldTypeTag = "typeTag"
)

// Op is a filter comparison.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpContains Op = "contains"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Sort orders results by one field.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Filter keeps results whose field compares to Value under Op. Values are
// compared as strings.
type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value string `json:"value"`
}

// Request is one list request. Page is zero-based; a zero PageSize means
// DefaultPageSize.
type Request struct {
	TypeTag  string   `json:"typeTag,omitempty"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
	Sort     []Sort   `json:"sort,omitempty"`
	Filter   []Filter `json:"filter,omitempty"`
	Search   string   `json:"search,omitempty"`
}

// Normalize clamps paging values into range.
func (r Request) Normalize() Request {
	if r.Page < 0 {
		r.Page = 0
	}
	if r.PageSize <= 0 {
		r.PageSize = DefaultPageSize
	}
	if r.PageSize > MaxPageSize {
		r.PageSize = MaxPageSize
	}
	return r
}

// Offset is the index of the first record on r's page. It saturates at
// math.MaxInt instead of overflowing.
func (r Request) Offset() int {
	r = r.Normalize()
	if r.Page > math.MaxInt/r.PageSize {
		return math.MaxInt
	}
	return r.Page * r.PageSize
}

// Values encodes r in the backend's parameter shape. TypeTag is included
// only when set; the backend client moves it into the path when listing
// a single type.
func (r Request) Values() url.Values {
	r = r.Normalize()
	v := url.Values{}
	if r.TypeTag != "" {
		v.Set("typeTag", r.TypeTag)
	}
	v.Set("page", strconv.Itoa(r.Page))
	v.Set("pageSize", strconv.Itoa(r.PageSize))
	for _, s := range r.Sort {
		v.Add("sort", s.String())
	}
	for _, f := range r.Filter {
		v.Add("filter", f.String())
	}
	if r.Search != "" {
		v.Set("search", r.Search)
	}
	return v
}

func (s Sort) String() string {
	dir := "asc"
	if s.Desc {
		dir = "desc"
	}
	return s.Field + "," + dir
}

func (f Filter) String() string {
	return f.Field + ":" + string(f.Op) + ":" + f.Value
}

// ParseSort parses "field" or "field,asc|desc".
func ParseSort(s string) (Sort, error) {
	field, dir, _ := strings.Cut(s, ",")
	field = strings.TrimSpace(field)
	if !fieldPattern.MatchString(field) {
		return Sort{}, fmt.Errorf("invalid sort field %q", field)
	}
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "", "asc":
		return Sort{Field: field}, nil
	case "desc":
		return Sort{Field: field, Desc: true}, nil
	default:
		return Sort{}, fmt.Errorf("invalid sort direction %q", dir)
	}
}

// ParseFilter parses "field:op:value". The value may itself contain
// colons.
func ParseFilter(s string) (Filter, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Filter{}, fmt.Errorf("invalid filter %q: want field:op:value", s)
	}
	f := Filter{Field: parts[0], Op: Op(parts[1]), Value: parts[2]}
	if !fieldPattern.MatchString(f.Field) {
		return Filter{}, fmt.Errorf("invalid filter field %q", f.Field)
	}
	switch f.Op {
	case OpEq, OpNe, OpContains:
	default:
		return Filter{}, fmt.Errorf("invalid filter operator %q", f.Op)
	}
	return f, nil
}

// Parse is the inverse of Values. Errors are validation failures with
// one message per offending parameter.
func Parse(v url.Values) (Request, error) {
	var r Request
	fields := map[string]string{}

	r.TypeTag = v.Get("typeTag")
	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			fields["page"] = "must be a non-negative integer"
		}
		r.Page = n
	}
	if s := v.Get("pageSize"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			fields["pageSize"] = "must be a positive integer"
		}
		r.PageSize = n
	}
	for _, s := range v["sort"] {
		srt, err := ParseSort(s)
		if err != nil {
			fields["sort"] = err.Error()
			continue
		}
		r.Sort = append(r.Sort, srt)
	}
	for _, s := range v["filter"] {
		f, err := ParseFilter(s)
		if err != nil {
			fields["filter"] = err.Error()
			continue
		}
		r.Filter = append(r.Filter, f)
	}
	r.Search = v.Get("search")

	if _, bad := fields["page"]; !bad && r.Page > math.MaxInt/r.Normalize().PageSize {
		fields["page"] = "is too large"
	}

	if len(fields) > 0 {
		return Request{}, element.Invalid("invalid query parameters", fields)
	}
	return r.Normalize(), nil
}

// ValidField reports whether name can be used as a sort or filter field.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}
