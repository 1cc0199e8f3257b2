package projection

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/selection"
)

// jsonEqual compares golden files by content, not whitespace.
func jsonEqual(actual, expected []byte) bool {
	var a, e bytes.Buffer
	if json.Compact(&a, actual) != nil || json.Compact(&e, expected) != nil {
		return bytes.Equal(bytes.TrimSpace(actual), bytes.TrimSpace(expected))
	}
	return bytes.Equal(a.Bytes(), e.Bytes())
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
		goldie.WithEqualFn(jsonEqual),
	)
}

func mixedRecords() []element.Record {
	return []element.Record{
		element.New("D1", "RequirementDefinition", map[string]any{"displayName": "Charge Time"}),
		element.New("U1", "RequirementUsage", map[string]any{"displayName": "Fast Charge", "definitionRef": "D1"}),
		element.New("U2", "RequirementUsage", map[string]any{"displayName": "Orphaned Usage", "definitionRef": "missing"}),
		element.New("S1", "Satisfies", map[string]any{"sourceRef": "U1", "targetRef": "D1"}),
		element.New("S2", "Satisfies", map[string]any{"sourceRef": "U1", "targetRef": "gone"}),
		element.New("P1", "Package", nil),
	}
}

func mixedSelection() *selection.Set {
	sel := selection.New()
	sel.Select("U1", false)
	sel.Select("zzz", false)
	return sel
}

func TestTree_Golden(t *testing.T) {
	model := Tree(mixedRecords(), mixedSelection(), Options{})
	newGoldie(t).AssertJson(t, "tree_mixed", model)
}

func TestGraph_Golden(t *testing.T) {
	model := Graph(mixedRecords(), mixedSelection(), Options{})
	newGoldie(t).AssertJson(t, "graph_mixed", model)
}

func TestTree_DefinitionWithUsage(t *testing.T) {
	records := []element.Record{
		element.New("D1", "RequirementDefinition", map[string]any{"displayName": "Charge Time"}),
		element.New("U1", "RequirementUsage", map[string]any{"displayName": "Fast Charge", "definitionRef": "D1"}),
	}

	tree := Tree(records, nil, Options{})
	require.Len(t, tree.Roots, 1)
	assert.Equal(t, "D1", tree.Roots[0].ID)
	require.Len(t, tree.Roots[0].Children, 1)
	assert.Equal(t, "U1", tree.Roots[0].Children[0].ID)

	graph := Graph(records, nil, Options{})
	assert.Len(t, graph.Nodes, 2)
	require.Len(t, graph.Edges, 1)
	assert.Equal(t, "D1", graph.Edges[0].Source)
	assert.Equal(t, "U1", graph.Edges[0].Target)
	assert.Equal(t, EdgeDefinition, graph.Edges[0].Kind)
}

func TestTree_OrphansStayVisible(t *testing.T) {
	records := []element.Record{
		element.New("U1", "RequirementUsage", map[string]any{"definitionRef": "nowhere"}),
		element.New("U2", "RequirementUsage", nil),
		element.New("U3", "RequirementUsage", map[string]any{"definitionRef": "U1"}),
		element.New("U4", "RequirementUsage", map[string]any{"definitionRef": 42.0}),
	}

	tree := Tree(records, nil, Options{})
	flat := tree.Flatten()
	require.Len(t, flat, 4, "every usage appears exactly once")
	for _, n := range flat {
		assert.True(t, n.Node.Orphan, n.Node.ID)
		assert.Equal(t, 0, n.Depth)
	}
}

func TestTree_UsageBeforeDefinition(t *testing.T) {
	records := []element.Record{
		element.New("U1", "RequirementUsage", map[string]any{"definitionRef": "D1"}),
		element.New("D1", "RequirementDefinition", nil),
	}
	tree := Tree(records, nil, Options{})
	require.Len(t, tree.Roots, 1)
	require.Len(t, tree.Roots[0].Children, 1)
	assert.False(t, tree.Roots[0].Children[0].Orphan)
}

func TestTree_SiblingOrderFollowsRecords(t *testing.T) {
	records := []element.Record{
		element.New("D1", "RequirementDefinition", nil),
		element.New("U3", "RequirementUsage", map[string]any{"definitionRef": "D1"}),
		element.New("U1", "RequirementUsage", map[string]any{"definitionRef": "D1"}),
		element.New("U2", "RequirementUsage", map[string]any{"definitionRef": "D1"}),
	}
	tree := Tree(records, nil, Options{})

	var ids []string
	for _, c := range tree.Roots[0].Children {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"U3", "U1", "U2"}, ids)
}

func TestTree_Flatten(t *testing.T) {
	flat := Tree(mixedRecords(), nil, Options{}).Flatten()
	var got []string
	var depths []int
	for _, n := range flat {
		got = append(got, n.Node.ID)
		depths = append(depths, n.Depth)
	}
	assert.Equal(t, []string{"D1", "U1", "U2", "P1"}, got)
	assert.Equal(t, []int{0, 1, 0, 0}, depths)
}

func TestTree_CustomClassifier(t *testing.T) {
	records := []element.Record{
		element.New("A", "PartDef", nil),
		element.New("B", "PartRef", map[string]any{"definitionRef": "A"}),
	}
	opts := Options{Classifier: element.Classifier{
		DefinitionSuffixes: []string{"Def"},
		UsageSuffixes:      []string{"Ref"},
	}}
	tree := Tree(records, nil, opts)
	require.Len(t, tree.Roots, 1)
	assert.Equal(t, "B", tree.Roots[0].Children[0].ID)
}

func TestGraph_NoDanglingEdges(t *testing.T) {
	graph := Graph(mixedRecords(), nil, Options{})

	ids := map[string]bool{}
	for _, n := range graph.Nodes {
		ids[n.ID] = true
	}
	for _, e := range graph.Edges {
		assert.True(t, ids[e.Source], "source %s of %s", e.Source, e.ID)
		assert.True(t, ids[e.Target], "target %s of %s", e.Target, e.ID)
	}
}

func TestGraph_LabelFallsBackToID(t *testing.T) {
	graph := Graph([]element.Record{
		element.New("X1", "RequirementDefinition", map[string]any{"displayName": ""}),
		element.New("X2", "RequirementDefinition", map[string]any{"title": "Named"}),
	}, nil, Options{DisplayAttr: "title"})

	assert.Equal(t, "X1", graph.Nodes[0].Label)
	assert.Equal(t, "Named", graph.Nodes[1].Label)
}

func TestTable_RowsAndColumns(t *testing.T) {
	sel := selection.New()
	sel.Select("S1", true)

	table := Table(mixedRecords(), sel, Options{})
	require.Len(t, table.Rows, 6)
	assert.Equal(t, "D1", table.Rows[0].ID)
	assert.True(t, table.Rows[3].Selected)
	assert.NotNil(t, table.Rows[5].Attributes)
	assert.Equal(t, []string{"definitionRef", "displayName", "sourceRef", "targetRef"}, table.Columns())
}

func TestTable_RowsAreCopies(t *testing.T) {
	records := mixedRecords()
	table := Table(records, nil, Options{})
	table.Rows[0].Attributes["displayName"] = "changed"
	assert.Equal(t, "Charge Time", records[0].Attributes["displayName"])
}

func TestProjections_StaleSelectionMarksNothing(t *testing.T) {
	sel := selection.New()
	sel.Select("deleted", true)

	for _, n := range Tree(mixedRecords(), sel, Options{}).Flatten() {
		assert.False(t, n.Node.Selected)
	}
	for _, n := range Graph(mixedRecords(), sel, Options{}).Nodes {
		assert.False(t, n.Selected)
	}
	for _, r := range Table(mixedRecords(), sel, Options{}).Rows {
		assert.False(t, r.Selected)
	}
}

func TestProjections_Deterministic(t *testing.T) {
	sel := mixedSelection()
	for i := 0; i < 5; i++ {
		assert.Equal(t, Tree(mixedRecords(), sel, Options{}), Tree(mixedRecords(), sel, Options{}))
		assert.Equal(t, Graph(mixedRecords(), sel, Options{}), Graph(mixedRecords(), sel, Options{}))
		assert.Equal(t, Table(mixedRecords(), sel, Options{}), Table(mixedRecords(), sel, Options{}))
	}
}
