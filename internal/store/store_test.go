package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/query"
	"github.com/systemshift/reqgraph/internal/selection"
)

// fakeBackend is an in-memory backend.Backend. Hooks override single
// operations; err, when set, fails every call.
type fakeBackend struct {
	mu     sync.Mutex
	nextID int
	data   map[string]element.Record
	order  []string
	calls  []string
	err    error

	updateHook func(typeTag, id string, changed map[string]any) (element.Record, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: map[string]element.Record{}}
}

func (f *fakeBackend) seed(recs ...element.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range recs {
		if _, ok := f.data[r.ID]; !ok {
			f.order = append(f.order, r.ID)
		}
		f.data[r.ID] = r.Clone()
	}
}

func (f *fakeBackend) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) Create(_ context.Context, typeTag string, attrs map[string]any) (element.Record, error) {
	if err := f.record("create"); err != nil {
		return element.Record{}, err
	}
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("E%d", f.nextID)
	f.mu.Unlock()

	attrs = element.CloneAttributes(attrs)
	delete(attrs, "id")
	rec := element.New(id, typeTag, attrs)
	f.seed(rec)
	return rec, nil
}

func (f *fakeBackend) Update(_ context.Context, typeTag, id string, changed map[string]any) (element.Record, error) {
	if err := f.record("update"); err != nil {
		return element.Record{}, err
	}
	if f.updateHook != nil {
		return f.updateHook(typeTag, id, changed)
	}
	f.mu.Lock()
	cur, ok := f.data[id]
	f.mu.Unlock()
	if !ok {
		return element.Record{}, element.NotFound(id)
	}
	merged := cur.Merge(changed)
	f.seed(merged)
	return merged, nil
}

func (f *fakeBackend) Delete(_ context.Context, _ string, id string) error {
	if err := f.record("delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, id)
	return nil
}

func (f *fakeBackend) List(_ context.Context, req query.Request) (query.Page, error) {
	if err := f.record("list"); err != nil {
		return query.Page{}, err
	}
	f.mu.Lock()
	recs := make([]element.Record, 0, len(f.order))
	for _, id := range f.order {
		if r, ok := f.data[id]; ok {
			recs = append(recs, r)
		}
	}
	f.mu.Unlock()
	return query.Apply(recs, req), nil
}

func def(id, name string) element.Record {
	return element.New(id, "RequirementDefinition", map[string]any{"displayName": name})
}

func usage(id, name, defID string) element.Record {
	return element.New(id, "RequirementUsage", map[string]any{"displayName": name, "definitionRef": defID})
}

func loaded(t *testing.T, recs ...element.Record) (*Store, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend()
	fb.seed(recs...)
	s := New(fb)
	require.NoError(t, s.LoadAll(context.Background(), query.Request{}))
	fb.calls = nil
	return s, fb
}

func TestStore_CreateUsesServerID(t *testing.T) {
	s := New(newFakeBackend())

	rec, err := s.Create(context.Background(), "RequirementDefinition", map[string]any{
		"id":          "tmp-123",
		"displayName": "Charge Time",
	})

	require.NoError(t, err)
	assert.Equal(t, "E1", rec.ID)
	_, ok := s.Get("tmp-123")
	assert.False(t, ok)
	got, ok := s.Get("E1")
	require.True(t, ok)
	assert.Equal(t, "Charge Time", got.Attributes["displayName"])
	assert.Equal(t, 1, s.Len())
}

func TestStore_FailuresLeaveRecordsUnchanged(t *testing.T) {
	s, fb := loaded(t, def("D1", "Charge Time"), usage("U1", "Fast Charge", "D1"))
	before := s.Records()

	failures := []error{
		element.Network(errors.New("connection refused")),
		element.Invalid("bad", map[string]string{"displayName": "required"}),
		element.Conflict("referenced by U1"),
		element.NotFound("D1"),
	}
	for _, failure := range failures {
		t.Run(string(failure.(*element.Error).Kind), func(t *testing.T) {
			fb.err = failure

			_, err := s.Create(context.Background(), "RequirementDefinition", map[string]any{"displayName": "x"})
			assert.True(t, errors.Is(err, failure))
			_, err = s.Update(context.Background(), "D1", map[string]any{"displayName": "y"})
			assert.True(t, errors.Is(err, failure))
			err = s.Delete(context.Background(), "D1")
			assert.True(t, errors.Is(err, failure))
			err = s.LoadAll(context.Background(), query.Request{})
			assert.True(t, errors.Is(err, failure))

			assert.Equal(t, before, s.Records())
			assert.Equal(t, failure, s.LastError())
			assert.False(t, s.Loading())
		})
	}
}

func TestStore_UpdateMergesNotReplaces(t *testing.T) {
	s, fb := loaded(t, element.New("D1", "RequirementDefinition", map[string]any{
		"displayName":   "Charge Time",
		"shortName":     "CT",
		"documentation": "Battery shall charge in 30 minutes.",
		"status":        "draft",
		"priority":      2.0,
	}))
	fb.updateHook = func(typeTag, id string, changed map[string]any) (element.Record, error) {
		assert.Equal(t, map[string]any{"status": "approved"}, changed, "only the changed attribute is sent")
		return element.New(id, typeTag, changed), nil
	}

	rec, err := s.Update(context.Background(), "D1", map[string]any{"status": "approved"})
	require.NoError(t, err)

	want := map[string]any{
		"displayName":   "Charge Time",
		"shortName":     "CT",
		"documentation": "Battery shall charge in 30 minutes.",
		"status":        "approved",
		"priority":      2.0,
	}
	assert.Equal(t, want, rec.Attributes)
	got, _ := s.Get("D1")
	assert.Equal(t, want, got.Attributes)
}

func TestStore_NonResidentSkipsBackend(t *testing.T) {
	s, fb := loaded(t, def("D1", "Charge Time"))

	_, err := s.Update(context.Background(), "ghost", map[string]any{"status": "x"})
	assert.True(t, errors.Is(err, element.ErrNotFound))
	assert.Equal(t, 0, fb.callCount())

	err = s.Delete(context.Background(), "ghost")
	assert.True(t, errors.Is(err, element.ErrNotFound))
	assert.Equal(t, 0, fb.callCount())
}

func TestStore_DeleteDropsSelectionOnlyForThatID(t *testing.T) {
	s, _ := loaded(t, def("D1", "A"), def("D2", "B"), usage("U1", "C", "D1"))
	s.Select("U1", false)
	s.Select("D2", false)

	require.NoError(t, s.Delete(context.Background(), "D2"))

	assert.Equal(t, []string{"U1"}, s.Selection().All())
	_, ok := s.Get("D2")
	assert.False(t, ok)
	assert.Equal(t, []string{"D1", "U1"}, ids(s.Records()))
}

func TestStore_LoadIsAdditive(t *testing.T) {
	fb := newFakeBackend()
	fb.seed(def("D1", "A"), def("D2", "B"), usage("U1", "C", "D1"))
	s := New(fb)
	ctx := context.Background()

	require.NoError(t, s.LoadByType(ctx, "RequirementDefinition", query.Request{}))
	assert.Equal(t, []string{"D1", "D2"}, ids(s.Records()))

	require.NoError(t, s.LoadByType(ctx, "RequirementUsage", query.Request{}))
	assert.Equal(t, []string{"D1", "D2", "U1"}, ids(s.Records()))

	fb.seed(def("D1", "Renamed"))
	require.NoError(t, s.LoadByType(ctx, "RequirementDefinition", query.Request{}))
	assert.Equal(t, []string{"D1", "D2", "U1"}, ids(s.Records()), "overwrite keeps position")
	got, _ := s.Get("D1")
	assert.Equal(t, "Renamed", got.Attributes["displayName"])

	state := s.PageState()
	assert.True(t, state.Loaded)
	assert.Equal(t, "RequirementDefinition", state.Request.TypeTag)
	assert.Equal(t, 2, state.Info.TotalCount)
}

func TestStore_PageTurnKeepsSelectionAndRecords(t *testing.T) {
	fb := newFakeBackend()
	fb.seed(def("D1", "A"), def("D2", "B"), def("D3", "C"))
	s := New(fb)
	ctx := context.Background()

	require.NoError(t, s.LoadByType(ctx, "RequirementDefinition", query.Request{PageSize: 2}))
	s.Select("D1", true)

	moved, err := s.NextPage(ctx)
	require.NoError(t, err)
	assert.True(t, moved)

	assert.Equal(t, 1, s.PageState().Info.Page)
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Selection().Has("D1"))

	moved, err = s.NextPage(ctx)
	require.NoError(t, err)
	assert.False(t, moved, "already on the last page")

	moved, err = s.PrevPage(ctx)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, 0, s.PageState().Info.Page)
}

func TestStore_LastResponseWins(t *testing.T) {
	s, fb := loaded(t, def("D1", "Original"))

	started := make(chan string, 2)
	release := map[string]chan struct{}{
		"first":  make(chan struct{}),
		"second": make(chan struct{}),
	}
	fb.updateHook = func(typeTag, id string, changed map[string]any) (element.Record, error) {
		name := changed["displayName"].(string)
		started <- name
		<-release[name]
		return element.New(id, typeTag, changed), nil
	}

	var wg sync.WaitGroup
	for _, name := range []string{"first", "second"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := s.Update(context.Background(), "D1", map[string]any{"displayName": name})
			assert.NoError(t, err)
		}(name)
	}
	<-started
	<-started
	assert.True(t, s.Loading())

	// The second request answers first; the first request's response
	// arrives last and is what sticks.
	close(release["second"])
	require.Eventually(t, func() bool {
		rec, _ := s.Get("D1")
		return rec.Attributes["displayName"] == "second"
	}, time.Second, 5*time.Millisecond)
	close(release["first"])
	wg.Wait()

	rec, _ := s.Get("D1")
	assert.Equal(t, "first", rec.Attributes["displayName"])
	assert.False(t, s.Loading())
}

func TestStore_UpdateAfterDeleteReinserts(t *testing.T) {
	s, fb := loaded(t, def("D1", "Original"))

	started := make(chan struct{})
	release := make(chan struct{})
	fb.updateHook = func(typeTag, id string, changed map[string]any) (element.Record, error) {
		close(started)
		<-release
		return element.New(id, typeTag, changed), nil
	}

	done := make(chan error)
	go func() {
		_, err := s.Update(context.Background(), "D1", map[string]any{"status": "approved"})
		done <- err
	}()
	<-started
	require.NoError(t, s.Delete(context.Background(), "D1"))
	close(release)
	require.NoError(t, <-done)

	rec, ok := s.Get("D1")
	require.True(t, ok)
	assert.Equal(t, "approved", rec.Attributes["status"])
	assert.Equal(t, "RequirementDefinition", rec.TypeTag)
}

func TestStore_CreateWithMissingDefinitionIsOrphan(t *testing.T) {
	s, _ := loaded(t, def("D1", "Charge Time"))

	rec, err := s.Create(context.Background(), "RequirementUsage", map[string]any{
		"displayName":   "Lost",
		"definitionRef": "does-not-exist",
	})
	require.NoError(t, err)

	tree := s.TreeModel()
	require.Len(t, tree.Roots, 2)
	assert.Equal(t, rec.ID, tree.Roots[1].ID)
	assert.True(t, tree.Roots[1].Orphan)
	assert.Empty(t, s.GraphModel().Edges)
}

func TestStore_DefinitionAndUsageScenario(t *testing.T) {
	s := New(newFakeBackend())
	ctx := context.Background()

	d, err := s.Create(ctx, "RequirementDefinition", map[string]any{"displayName": "Charge Time"})
	require.NoError(t, err)
	u, err := s.Create(ctx, "RequirementUsage", map[string]any{"displayName": "Fast Charge", "definitionRef": d.ID})
	require.NoError(t, err)
	s.Select(u.ID, true)

	tree := s.TreeModel()
	require.Len(t, tree.Roots, 1)
	require.Len(t, tree.Roots[0].Children, 1)
	assert.True(t, tree.Roots[0].Children[0].Selected)

	graph := s.GraphModel()
	require.Len(t, graph.Edges, 1)
	assert.Equal(t, d.ID, graph.Edges[0].Source)
	assert.Equal(t, u.ID, graph.Edges[0].Target)

	table := s.TableModel()
	require.Len(t, table.Rows, 2)
	assert.True(t, table.Rows[1].Selected)
}

func TestStore_LoadTypesFansOut(t *testing.T) {
	fb := newFakeBackend()
	fb.seed(
		def("D1", "Charge Time"),
		usage("U1", "Fast Charge", "D1"),
		element.New("S1", "Satisfies", map[string]any{"sourceRef": "U1", "targetRef": "D1"}),
		element.New("P1", "Package", nil),
	)
	s := New(fb)

	require.NoError(t, s.LoadTypes(context.Background(),
		[]string{"RequirementDefinition", "RequirementUsage", "Satisfies"}, query.Request{}))
	assert.Equal(t, 3, fb.callCount())
	assert.ElementsMatch(t, []string{"D1", "U1", "S1"}, ids(s.Records()))

	tree := s.TreeModel()
	require.Len(t, tree.Roots, 1)
	assert.Len(t, tree.Roots[0].Children, 1)
}

func TestStore_LoadTypesEmptyLoadsAll(t *testing.T) {
	fb := newFakeBackend()
	fb.seed(def("D1", "A"), element.New("P1", "Package", nil))
	s := New(fb)

	require.NoError(t, s.LoadTypes(context.Background(), nil, query.Request{}))
	assert.Equal(t, []string{"D1", "P1"}, ids(s.Records()))
	assert.Equal(t, "", s.PageState().Request.TypeTag)
}

func TestStore_LoadTypesReportsFailure(t *testing.T) {
	fb := newFakeBackend()
	fb.err = element.Network(errors.New("down"))
	s := New(fb)

	err := s.LoadTypes(context.Background(), []string{"RequirementDefinition", "RequirementUsage"}, query.Request{})
	assert.True(t, errors.Is(err, element.ErrNetwork))
	assert.Equal(t, 2, fb.callCount(), "every type is attempted")
	assert.Equal(t, 0, s.Len())
}

func TestStore_LastErrorClearedBySuccess(t *testing.T) {
	s, fb := loaded(t, def("D1", "A"))
	fb.err = element.Network(errors.New("down"))
	require.Error(t, s.LoadAll(context.Background(), query.Request{}))
	require.Error(t, s.LastError())

	fb.err = nil
	require.NoError(t, s.LoadAll(context.Background(), query.Request{}))
	assert.NoError(t, s.LastError())
}

func TestStore_SharedSelection(t *testing.T) {
	sel := selection.New()
	s := New(newFakeBackend(), WithSelection(sel))
	s.Select("X", true)
	assert.True(t, sel.Has("X"))
	s.ClearSelection()
	assert.Equal(t, 0, sel.Len())
}

func TestStore_RecordsAreCopies(t *testing.T) {
	s, _ := loaded(t, def("D1", "A"))
	recs := s.Records()
	recs[0].Attributes["displayName"] = "mutated"
	got, _ := s.Get("D1")
	assert.Equal(t, "A", got.Attributes["displayName"])
}

func TestStore_DisplayNameAttribute(t *testing.T) {
	fb := newFakeBackend()
	fb.seed(element.New("D1", "RequirementDefinition", map[string]any{"shortName": "CT"}))
	s := New(fb, WithDisplayNameAttribute("shortName"))
	require.NoError(t, s.LoadAll(context.Background(), query.Request{}))

	assert.Equal(t, "CT", s.GraphModel().Nodes[0].Label)
}

func ids(recs []element.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
