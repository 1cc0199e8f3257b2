// Package store is the single source of truth for element records on the
// client. Every view reads through it and every mutation goes through
// the backend first: records change only when a confirmed response
// arrives.
package store

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/systemshift/reqgraph/internal/backend"
	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/logging"
	"github.com/systemshift/reqgraph/internal/projection"
	"github.com/systemshift/reqgraph/internal/query"
	"github.com/systemshift/reqgraph/internal/selection"
)

// Store holds the resident records keyed by id, in insertion order.
type Store struct {
	backend   backend.Backend
	selection *selection.Set
	logger    *slog.Logger
	opts      projection.Options

	mu       sync.RWMutex
	records  map[string]element.Record
	order    []string
	page     query.State
	inflight int
	lastErr  error
	revision uint64
}

// Option configures a Store.
type Option func(*Store)

// WithSelection shares an existing selection set.
func WithSelection(sel *selection.Set) Option {
	return func(s *Store) { s.selection = sel }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClassifier sets the type tag classification rules used by the
// tree and graph models.
func WithClassifier(c element.Classifier) Option {
	return func(s *Store) { s.opts.Classifier = c }
}

// WithDisplayNameAttribute names the attribute used as a node label.
func WithDisplayNameAttribute(attr string) Option {
	return func(s *Store) { s.opts.DisplayAttr = attr }
}

// New creates an empty store backed by b.
func New(b backend.Backend, opts ...Option) *Store {
	s := &Store{
		backend: b,
		records: make(map[string]element.Record),
		logger:  logging.Discard(),
		opts: projection.Options{
			Classifier:  element.DefaultClassifier(),
			DisplayAttr: element.AttrDisplayName,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.selection == nil {
		s.selection = selection.New()
	}
	return s
}

// Create asks the backend to create an element and, once confirmed,
// inserts the returned record under the id the backend assigned.
func (s *Store) Create(ctx context.Context, typeTag string, attrs map[string]any) (element.Record, error) {
	s.begin()
	rec, err := s.backend.Create(ctx, typeTag, element.CloneAttributes(attrs))
	if err == nil && rec.ID == "" {
		err = &element.Error{Kind: element.NetworkFailure, Title: "backend returned a record without an id"}
	}
	if err != nil {
		s.fail("create", err, "typeTag", typeTag)
		return element.Record{}, err
	}
	if rec.TypeTag == "" {
		rec.TypeTag = typeTag
	}

	s.mu.Lock()
	s.put(rec)
	s.succeedLocked()
	s.mu.Unlock()

	s.logger.Debug("element created", "id", rec.ID, "typeTag", rec.TypeTag)
	return rec.Clone(), nil
}

// Update sends the changed attributes of a resident element and merges
// the backend's response into the resident record. Attributes absent
// from the response keep their value. Updating an id that is not
// resident fails with a not-found error without contacting the backend.
func (s *Store) Update(ctx context.Context, id string, changed map[string]any) (element.Record, error) {
	cur, ok := s.Get(id)
	if !ok {
		err := element.NotFound(id)
		s.recordFailure("update", err, "id", id)
		return element.Record{}, err
	}

	s.begin()
	resp, err := s.backend.Update(ctx, cur.TypeTag, id, element.CloneAttributes(changed))
	if err != nil {
		s.fail("update", err, "id", id)
		return element.Record{}, err
	}

	s.mu.Lock()
	base, resident := s.records[id]
	if !resident {
		// Deleted while the update was in flight. The confirmed response
		// is the newest word on this id.
		base = element.Record{ID: id, TypeTag: cur.TypeTag}
	}
	merged := base.Merge(resp.Attributes)
	if resp.TypeTag != "" {
		merged.TypeTag = resp.TypeTag
	}
	s.put(merged)
	s.succeedLocked()
	s.mu.Unlock()

	s.logger.Debug("element updated", "id", id, "attributes", len(changed))
	return merged.Clone(), nil
}

// Delete removes a resident element once the backend confirms. The id is
// also dropped from the selection. A non-resident id fails with NotFound
// without a backend call: the DELETE path needs the type tag, which only
// a resident record carries.
func (s *Store) Delete(ctx context.Context, id string) error {
	cur, ok := s.Get(id)
	if !ok {
		err := element.NotFound(id)
		s.recordFailure("delete", err, "id", id)
		return err
	}

	s.begin()
	if err := s.backend.Delete(ctx, cur.TypeTag, id); err != nil {
		s.fail("delete", err, "id", id)
		return err
	}

	s.mu.Lock()
	s.remove(id)
	s.succeedLocked()
	s.mu.Unlock()

	s.selection.Remove(id)
	s.logger.Debug("element deleted", "id", id)
	return nil
}

// LoadByType fetches one page of typeTag and merges it.
func (s *Store) LoadByType(ctx context.Context, typeTag string, req query.Request) error {
	req.TypeTag = typeTag
	return s.load(ctx, req)
}

// LoadAll fetches one page across every type and merges it.
func (s *Store) LoadAll(ctx context.Context, req query.Request) error {
	req.TypeTag = ""
	return s.load(ctx, req)
}

// LoadTypes loads the first page of each type tag concurrently. Every
// load runs to completion; the first failure is returned. An empty list
// falls back to LoadAll.
func (s *Store) LoadTypes(ctx context.Context, typeTags []string, req query.Request) error {
	if len(typeTags) == 0 {
		return s.LoadAll(ctx, req)
	}
	var g errgroup.Group
	for _, tag := range typeTags {
		g.Go(func() error {
			return s.LoadByType(ctx, tag, req)
		})
	}
	return g.Wait()
}

// NextPage loads the page after the last one fetched. It reports false
// when there is nothing further to load.
func (s *Store) NextPage(ctx context.Context) (bool, error) {
	req, ok := s.PageState().Next()
	if !ok {
		return false, nil
	}
	return true, s.load(ctx, req)
}

// PrevPage loads the page before the last one fetched.
func (s *Store) PrevPage(ctx context.Context) (bool, error) {
	req, ok := s.PageState().Prev()
	if !ok {
		return false, nil
	}
	return true, s.load(ctx, req)
}

// load merges a fetched page additively: new ids are appended, known ids
// are overwritten in place and nothing is evicted.
func (s *Store) load(ctx context.Context, req query.Request) error {
	req = req.Normalize()

	s.begin()
	page, err := s.backend.List(ctx, req)
	if err != nil {
		s.fail("load", err, "typeTag", req.TypeTag, "page", req.Page)
		return err
	}

	s.mu.Lock()
	for _, rec := range page.Content {
		if rec.ID == "" {
			continue
		}
		s.put(rec)
	}
	s.page = query.State{Request: req, Info: page.Info, Loaded: true}
	s.succeedLocked()
	s.mu.Unlock()

	s.logger.Debug("page loaded", "typeTag", req.TypeTag, "page", page.Page,
		"count", len(page.Content), "total", page.TotalCount)
	return nil
}

// put inserts or overwrites rec. Callers hold mu.
func (s *Store) put(rec element.Record) {
	if _, ok := s.records[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	s.revision++
}

// remove drops id. Callers hold mu.
func (s *Store) remove(id string) {
	if _, ok := s.records[id]; !ok {
		return
	}
	delete(s.records, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.revision++
}

func (s *Store) begin() {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
}

// succeedLocked ends an in-flight call. Callers hold mu.
func (s *Store) succeedLocked() {
	s.inflight--
	s.lastErr = nil
}

func (s *Store) fail(op string, err error, attrs ...any) {
	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
	s.recordFailure(op, err, attrs...)
}

func (s *Store) recordFailure(op string, err error, attrs ...any) {
	s.mu.Lock()
	s.lastErr = err
	s.revision++
	s.mu.Unlock()

	args := append([]any{"op", op, "kind", string(element.KindOf(err)), "error", err}, attrs...)
	s.logger.Warn("store operation failed", args...)
}

// Get returns a copy of the resident record for id.
func (s *Store) Get(id string) (element.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return element.Record{}, false
	}
	return rec.Clone(), true
}

// Len returns the number of resident records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns copies of every resident record in insertion order.
func (s *Store) Records() []element.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]element.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out
}

// Selection returns the shared selection set.
func (s *Store) Selection() *selection.Set {
	return s.selection
}

// Select forwards a selection intent. Ids need not be resident.
func (s *Store) Select(id string, exclusive bool) {
	s.selection.Select(id, exclusive)
}

// ClearSelection empties the selection.
func (s *Store) ClearSelection() {
	s.selection.Clear()
}

// PageState describes the last successful fetch.
func (s *Store) PageState() query.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

// Loading reports whether any backend call is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight > 0
}

// LastError is the most recent failure, cleared by the next success.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Revision increases whenever records or the error state change.
// Selection changes are tracked by the selection set's own revision.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// TreeModel projects the current records as a containment tree.
func (s *Store) TreeModel() projection.TreeModel {
	return projection.Tree(s.Records(), s.selection, s.opts)
}

// TableModel projects the current records as table rows.
func (s *Store) TableModel() projection.TableModel {
	return projection.Table(s.Records(), s.selection, s.opts)
}

// GraphModel projects the current records as nodes and edges.
func (s *Store) GraphModel() projection.GraphModel {
	return projection.Graph(s.Records(), s.selection, s.opts)
}

