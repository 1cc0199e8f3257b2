package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/logging"
	"github.com/systemshift/reqgraph/internal/query"
)

// DefaultBaseURL is where reqgraphd listens by default.
const DefaultBaseURL = "http://localhost:8080"

// Client talks to the Element Backend Service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout of the default http.Client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create handles POST /api/elements/{typeTag}
func (c *Client) Create(ctx context.Context, typeTag string, attrs map[string]any) (element.Record, error) {
	body := CreateRequest{TypeTag: typeTag, Attributes: attrs}
	if body.Attributes == nil {
		body.Attributes = map[string]any{}
	}

	var rec element.Record
	err := c.do(ctx, http.MethodPost, c.typePath(typeTag), nil, body, &rec)
	return rec, err
}

// Update handles PATCH /api/elements/{typeTag}/{id}
func (c *Client) Update(ctx context.Context, typeTag, id string, changed map[string]any) (element.Record, error) {
	if changed == nil {
		changed = map[string]any{}
	}
	var rec element.Record
	err := c.do(ctx, http.MethodPatch, c.elementPath(typeTag, id), nil, changed, &rec)
	return rec, err
}

// Delete handles DELETE /api/elements/{typeTag}/{id}
func (c *Client) Delete(ctx context.Context, typeTag, id string) error {
	return c.do(ctx, http.MethodDelete, c.elementPath(typeTag, id), nil, nil, nil)
}

// Get handles GET /api/elements/{typeTag}/{id}
func (c *Client) Get(ctx context.Context, typeTag, id string) (element.Record, error) {
	var rec element.Record
	err := c.do(ctx, http.MethodGet, c.elementPath(typeTag, id), nil, nil, &rec)
	return rec, err
}

// List fetches one page, from /api/elements/{typeTag} when the request
// names a type and from /api/elements otherwise.
func (c *Client) List(ctx context.Context, req query.Request) (query.Page, error) {
	params := req.Values()
	endpoint := c.baseURL + "/api/elements"
	if req.TypeTag != "" {
		endpoint = c.typePath(req.TypeTag)
		params.Del("typeTag")
	}

	var page query.Page
	if err := c.do(ctx, http.MethodGet, endpoint, params, nil, &page); err != nil {
		return query.Page{}, err
	}
	if page.Content == nil {
		page.Content = []element.Record{}
	}
	return page, nil
}

// Health checks if the backend is running
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.baseURL+"/health", nil, nil, nil)
}

func (c *Client) typePath(typeTag string) string {
	return fmt.Sprintf("%s/api/elements/%s", c.baseURL, url.PathEscape(typeTag))
}

func (c *Client) elementPath(typeTag, id string) string {
	return fmt.Sprintf("%s/api/elements/%s/%s", c.baseURL, url.PathEscape(typeTag), url.PathEscape(id))
}

// do sends one request and decodes a 2xx body into out. Every failure
// comes back as an *element.Error.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body, out any) error {
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return element.Invalid(fmt.Sprintf("encoding request: %v", err), nil)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return element.Network(fmt.Errorf("building request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed", "method", method, "url", endpoint, "error", err)
		return element.Network(fmt.Errorf("%s %s: %w", method, endpoint, err))
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request", "method", method, "url", endpoint,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeFailure(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return element.Network(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func decodeFailure(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var env ErrorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || (env.StatusCategory == "" && env.Title == "") {
		return &element.Error{
			Kind:   element.KindForStatus("", resp.StatusCode),
			Title:  http.StatusText(resp.StatusCode),
			Detail: strings.TrimSpace(string(raw)),
			Status: resp.StatusCode,
		}
	}
	return &element.Error{
		Kind:        element.KindForStatus(env.StatusCategory, resp.StatusCode),
		Title:       env.Title,
		Detail:      env.Detail,
		FieldErrors: env.FieldErrors,
		Status:      resp.StatusCode,
	}
}
