package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/reqgraph/internal/backend"
	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/query"
	"github.com/systemshift/reqgraph/internal/server/graph"
	"github.com/systemshift/reqgraph/internal/store"
)

// Helper to create a test server backed by an in-memory SQLite repository
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	repo, err := graph.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)

	n := 0
	srv := New(repo, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}))

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		repo.Close(ctx)
	})
	return ts
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func decodeEnvelope(t *testing.T, raw []byte) backend.ErrorEnvelope {
	t.Helper()
	var env backend.ErrorEnvelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return env
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)

	resp, raw := doJSON(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestCreateElementRequestValidation(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		body         string
		wantStatus   int
		wantCategory string
		wantField    string
	}{
		{
			name:       "valid request",
			path:       "/api/elements/RequirementDefinition",
			body:       `{"typeTag":"RequirementDefinition","attributes":{"displayName":"Charge Time"}}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "type tag taken from path",
			path:       "/api/elements/RequirementDefinition",
			body:       `{"attributes":{}}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:         "invalid json",
			path:         "/api/elements/RequirementDefinition",
			body:         `{invalid`,
			wantStatus:   http.StatusBadRequest,
			wantCategory: "validation",
		},
		{
			name:         "missing attributes",
			path:         "/api/elements/RequirementDefinition",
			body:         `{"typeTag":"RequirementDefinition"}`,
			wantStatus:   http.StatusBadRequest,
			wantCategory: "validation",
			wantField:    "attributes",
		},
		{
			name:         "non alphanumeric type tag",
			path:         "/api/elements/Bad-Tag",
			body:         `{"attributes":{}}`,
			wantStatus:   http.StatusBadRequest,
			wantCategory: "validation",
			wantField:    "typeTag",
		},
		{
			name:         "body and path disagree",
			path:         "/api/elements/RequirementDefinition",
			body:         `{"typeTag":"RequirementUsage","attributes":{}}`,
			wantStatus:   http.StatusBadRequest,
			wantCategory: "validation",
			wantField:    "typeTag",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t)
			resp, raw := doJSON(t, http.MethodPost, ts.URL+tt.path, tt.body)

			require.Equal(t, tt.wantStatus, resp.StatusCode, string(raw))
			if tt.wantCategory == "" {
				return
			}
			env := decodeEnvelope(t, raw)
			assert.Equal(t, tt.wantCategory, env.StatusCategory)
			if tt.wantField != "" {
				assert.Contains(t, env.FieldErrors, tt.wantField)
			}
		})
	}
}

func TestCreateElementAssignsID(t *testing.T) {
	ts := setupTestServer(t)

	resp, raw := doJSON(t, http.MethodPost, ts.URL+"/api/elements/RequirementDefinition",
		`{"typeTag":"RequirementDefinition","attributes":{"id":"client-tmp","displayName":"Charge Time"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var rec element.Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "id-1", rec.ID)
	assert.NotContains(t, rec.Attributes, "id")

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/api/elements/RequirementDefinition/id-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "Charge Time")
}

func TestDuplicateShortNameIsConflict(t *testing.T) {
	ts := setupTestServer(t)
	body := `{"attributes":{"shortName":"CT"}}`

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/elements/RequirementDefinition", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, raw := doJSON(t, http.MethodPost, ts.URL+"/api/elements/RequirementDefinition", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", decodeEnvelope(t, raw).StatusCategory)
}

func TestUpdateElement(t *testing.T) {
	ts := setupTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/api/elements/RequirementDefinition",
		`{"attributes":{"displayName":"Charge Time","status":"draft"}}`)

	resp, raw := doJSON(t, http.MethodPatch, ts.URL+"/api/elements/RequirementDefinition/id-1", `{"status":"approved"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var rec element.Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, map[string]any{"displayName": "Charge Time", "status": "approved"}, rec.Attributes)

	resp, raw = doJSON(t, http.MethodPatch, ts.URL+"/api/elements/RequirementDefinition/ghost", `{"status":"approved"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeEnvelope(t, raw).StatusCategory)

	resp, _ = doJSON(t, http.MethodPatch, ts.URL+"/api/elements/RequirementDefinition/id-1", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteElement(t *testing.T) {
	ts := setupTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/api/elements/RequirementDefinition", `{"attributes":{}}`)
	doJSON(t, http.MethodPost, ts.URL+"/api/elements/RequirementUsage", `{"attributes":{"definitionRef":"id-1"}}`)

	resp, raw := doJSON(t, http.MethodDelete, ts.URL+"/api/elements/RequirementDefinition/id-1", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, decodeEnvelope(t, raw).Detail, "id-2")

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/elements/RequirementDefinition/id-1?force=true", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/elements/RequirementDefinition/id-1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "delete is idempotent")
}

func TestListElements(t *testing.T) {
	ts := setupTestServer(t)
	for _, body := range []struct{ typeTag, attrs string }{
		{"RequirementDefinition", `{"displayName":"Charge Time"}`},
		{"RequirementDefinition", `{"displayName":"Range"}`},
		{"RequirementUsage", `{"displayName":"Fast Charge","definitionRef":"id-1"}`},
	} {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/elements/"+body.typeTag, `{"attributes":`+body.attrs+`}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, raw := doJSON(t, http.MethodGet, ts.URL+"/api/elements/RequirementDefinition?pageSize=1&sort=displayName,desc", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page query.Page
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page.Content, 1)
	assert.Equal(t, "Range", page.Content[0].Attributes["displayName"])
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.IsFirstPage)
	assert.False(t, page.IsLastPage)

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/api/elements?search=charge", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = query.Page{}
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Equal(t, 2, page.TotalCount)

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/api/elements?page=-4", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeEnvelope(t, raw).FieldErrors, "page")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	doJSON(t, http.MethodGet, ts.URL+"/health", "")

	resp, raw := doJSON(t, http.MethodGet, ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Contains(raw, []byte(`reqgraph_http_requests_total{code="200",method="GET",route="/health"}`)))
}

// TestStoreAgainstServer drives the client store through the real HTTP
// client and handlers.
func TestStoreAgainstServer(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()
	s := store.New(backend.NewClient(ts.URL))

	d, err := s.Create(ctx, "RequirementDefinition", map[string]any{"displayName": "Charge Time", "shortName": "CT"})
	require.NoError(t, err)
	u, err := s.Create(ctx, "RequirementUsage", map[string]any{"displayName": "Fast Charge", "definitionRef": d.ID})
	require.NoError(t, err)

	tree := s.TreeModel()
	require.Len(t, tree.Roots, 1)
	require.Len(t, tree.Roots[0].Children, 1)
	assert.Equal(t, u.ID, tree.Roots[0].Children[0].ID)

	_, err = s.Create(ctx, "RequirementDefinition", map[string]any{"shortName": "CT"})
	assert.True(t, errors.Is(err, element.ErrConflict))
	assert.Equal(t, 2, s.Len())

	rec, err := s.Update(ctx, d.ID, map[string]any{"status": "approved"})
	require.NoError(t, err)
	assert.Equal(t, "Charge Time", rec.Attributes["displayName"])

	err = s.Delete(ctx, d.ID)
	assert.True(t, errors.Is(err, element.ErrConflict))
	assert.Equal(t, 2, s.Len())

	require.NoError(t, s.Delete(ctx, u.ID))
	require.NoError(t, s.Delete(ctx, d.ID))
	assert.Equal(t, 0, s.Len())

	fresh := store.New(backend.NewClient(ts.URL))
	require.NoError(t, fresh.LoadAll(ctx, query.Request{}))
	assert.Equal(t, 0, fresh.Len())
}
