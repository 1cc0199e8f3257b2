// Package projection derives the tree, table and graph view models from a
// snapshot of element records. Every function here is pure: the same
// records and selection always produce the same model, and nothing is
// cached between calls.
package projection

import (
	"sort"

	"github.com/systemshift/reqgraph/internal/element"
)

// Selection answers membership for the selected flag. *selection.Set
// satisfies it.
type Selection interface {
	Has(id string) bool
}

// Options controls classification and labelling.
type Options struct {
	Classifier  element.Classifier
	DisplayAttr string
}

func (o Options) normalize() Options {
	if o.Classifier.IsZero() {
		o.Classifier = element.DefaultClassifier()
	}
	if o.DisplayAttr == "" {
		o.DisplayAttr = element.AttrDisplayName
	}
	return o
}

func selected(sel Selection, id string) bool {
	return sel != nil && sel.Has(id)
}

// TreeNode is one line of the containment tree.
type TreeNode struct {
	ID       string      `json:"id"`
	TypeTag  string      `json:"typeTag"`
	Kind     string      `json:"kind"`
	Label    string      `json:"label"`
	Selected bool        `json:"selected"`
	Orphan   bool        `json:"orphan,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
}

// TreeModel is the definition/usage containment hierarchy.
type TreeModel struct {
	Roots []*TreeNode `json:"roots"`
}

// FlatNode is a tree node with its depth, for line-oriented surfaces.
type FlatNode struct {
	Node  *TreeNode
	Depth int
}

// Flatten walks the tree depth first.
func (m TreeModel) Flatten() []FlatNode {
	var out []FlatNode
	var walk func(nodes []*TreeNode, depth int)
	walk = func(nodes []*TreeNode, depth int) {
		for _, n := range nodes {
			out = append(out, FlatNode{Node: n, Depth: depth})
			walk(n.Children, depth+1)
		}
	}
	walk(m.Roots, 0)
	return out
}

// Tree builds the containment hierarchy. Definitions are roots and
// usages hang under the definition their definitionRef names. A usage
// whose reference is empty, dangling or names a non-definition is kept
// as an orphan root. Relationship elements are not tree nodes. Elements
// of any other kind are plain roots. Order follows records.
func Tree(records []element.Record, sel Selection, opts Options) TreeModel {
	opts = opts.normalize()

	defs := make(map[string]*TreeNode)
	for _, rec := range records {
		if opts.Classifier.Kind(rec.TypeTag) == element.KindDefinition {
			defs[rec.ID] = newTreeNode(rec, element.KindDefinition, sel, opts)
		}
	}

	model := TreeModel{Roots: []*TreeNode{}}
	for _, rec := range records {
		kind := opts.Classifier.Kind(rec.TypeTag)
		switch kind {
		case element.KindDefinition:
			model.Roots = append(model.Roots, defs[rec.ID])
		case element.KindUsage:
			node := newTreeNode(rec, kind, sel, opts)
			if parent, ok := defs[rec.Ref(element.RefDefinition)]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
			node.Orphan = true
			model.Roots = append(model.Roots, node)
		case element.KindRelationship:
		default:
			model.Roots = append(model.Roots, newTreeNode(rec, kind, sel, opts))
		}
	}
	return model
}

func newTreeNode(rec element.Record, kind element.Kind, sel Selection, opts Options) *TreeNode {
	return &TreeNode{
		ID:       rec.ID,
		TypeTag:  rec.TypeTag,
		Kind:     kind.String(),
		Label:    rec.Label(opts.DisplayAttr),
		Selected: selected(sel, rec.ID),
	}
}

// Row is one table row.
type Row struct {
	ID         string         `json:"id"`
	TypeTag    string         `json:"typeTag"`
	Attributes map[string]any `json:"attributes"`
	Selected   bool           `json:"selected"`
}

// TableModel lists every element, unfiltered.
type TableModel struct {
	Rows []Row `json:"rows"`
}

// Columns returns the sorted union of attribute names across rows.
func (m TableModel) Columns() []string {
	seen := make(map[string]struct{})
	for _, r := range m.Rows {
		for k := range r.Attributes {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Table builds one row per record in record order.
func Table(records []element.Record, sel Selection, _ Options) TableModel {
	model := TableModel{Rows: make([]Row, 0, len(records))}
	for _, rec := range records {
		attrs := element.CloneAttributes(rec.Attributes)
		if attrs == nil {
			attrs = map[string]any{}
		}
		model.Rows = append(model.Rows, Row{
			ID:         rec.ID,
			TypeTag:    rec.TypeTag,
			Attributes: attrs,
			Selected:   selected(sel, rec.ID),
		})
	}
	return model
}

// EdgeDefinition is the kind of usage-to-definition edges.
const EdgeDefinition = "definition"

// Node is one graph vertex.
type Node struct {
	ID       string `json:"id"`
	TypeTag  string `json:"typeTag"`
	Kind     string `json:"kind"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

// Edge is a directed graph edge. ElementID names the element that
// carries the reference: the usage for definition edges, the
// relationship element for relationship edges.
type Edge struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Kind      string `json:"kind"`
	ElementID string `json:"elementId"`
}

// GraphModel is the node/edge view of the model.
type GraphModel struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Graph builds one node per record. Usages contribute a definition edge
// from their definition to themselves; relationship elements contribute
// a sourceRef to targetRef edge labelled with their type tag. Edges whose
// endpoints are not both present are left out.
func Graph(records []element.Record, sel Selection, opts Options) GraphModel {
	opts = opts.normalize()

	present := make(map[string]struct{}, len(records))
	for _, rec := range records {
		present[rec.ID] = struct{}{}
	}
	resident := func(id string) bool {
		if id == "" {
			return false
		}
		_, ok := present[id]
		return ok
	}

	model := GraphModel{
		Nodes: make([]Node, 0, len(records)),
		Edges: []Edge{},
	}
	for _, rec := range records {
		kind := opts.Classifier.Kind(rec.TypeTag)
		model.Nodes = append(model.Nodes, Node{
			ID:       rec.ID,
			TypeTag:  rec.TypeTag,
			Kind:     kind.String(),
			Label:    rec.Label(opts.DisplayAttr),
			Selected: selected(sel, rec.ID),
		})

		switch kind {
		case element.KindUsage:
			def := rec.Ref(element.RefDefinition)
			if resident(def) {
				model.Edges = append(model.Edges, Edge{
					ID:        EdgeDefinition + ":" + rec.ID,
					Source:    def,
					Target:    rec.ID,
					Kind:      EdgeDefinition,
					ElementID: rec.ID,
				})
			}
		case element.KindRelationship:
			src, dst := rec.Ref(element.RefSource), rec.Ref(element.RefTarget)
			if resident(src) && resident(dst) {
				model.Edges = append(model.Edges, Edge{
					ID:        rec.ID,
					Source:    src,
					Target:    dst,
					Kind:      rec.TypeTag,
					ElementID: rec.ID,
				})
			}
		}
	}
	return model
}
