package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/traverse"
)

// HTTPClient implements GraphClient using the archgraph HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Ingestion ---

func (c *HTTPClient) Ingest(ctx context.Context, facts io.Reader, fullResync bool) (*model.RunSummary, error) {
	path := "/v1/ingest"
	if fullResync {
		path += "?full_resync=true"
	}
	resp, err := c.do(ctx, http.MethodPost, path, "application/x-ndjson", facts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sum model.RunSummary
	if err := decode(resp, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// --- Queries ---

func (c *HTTPClient) Explain(ctx context.Context, req *ExplainRequest) (*model.Subgraph, error) {
	q := url.Values{}
	q.Set("root", req.Root)
	if req.Depth > 0 {
		q.Set("depth", strconv.Itoa(req.Depth))
	}
	if len(req.EdgeTypes) > 0 {
		types := make([]string, len(req.EdgeTypes))
		for i, t := range req.EdgeTypes {
			types[i] = string(t)
		}
		q.Set("types", strings.Join(types, ","))
	}
	if req.MaxNodes > 0 {
		q.Set("max_nodes", strconv.Itoa(req.MaxNodes))
	}
	if req.Timeout > 0 {
		q.Set("timeout", req.Timeout.String())
	}

	var sg model.Subgraph
	if err := c.doJSON(ctx, "/v1/explain?"+q.Encode(), &sg); err != nil {
		return nil, err
	}
	return &sg, nil
}

func (c *HTTPClient) ListEntities(ctx context.Context, req *ListEntitiesRequest) (*traverse.Page, error) {
	q := url.Values{}
	if len(req.Kind) > 0 {
		kinds := make([]string, len(req.Kind))
		for i, k := range req.Kind {
			kinds[i] = string(k)
		}
		q.Set("kind", strings.Join(kinds, ","))
	}
	if req.Label != "" {
		q.Set("label", req.Label)
	}
	if req.Package != "" {
		q.Set("package", req.Package)
	}
	if req.Search != "" {
		q.Set("search", req.Search)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}

	path := "/v1/entities"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page traverse.Page
	if err := c.doJSON(ctx, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) Show(ctx context.Context, key string) (*model.Node, error) {
	var n model.Node
	if err := c.doJSON(ctx, "/v1/entity?key="+url.QueryEscape(key), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *HTTPClient) Stats(ctx context.Context) (*model.GraphStats, error) {
	var stats model.GraphStats
	if err := c.doJSON(ctx, "/v1/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *HTTPClient) Generations(ctx context.Context, limit int) ([]*model.Generation, error) {
	path := "/v1/generations"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Generations []*model.Generation `json:"generations"`
	}
	if err := c.doJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Generations, nil
}

func (c *HTTPClient) Export(ctx context.Context, w io.Writer) error {
	resp, err := c.do(ctx, http.MethodGet, "/v1/export", "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading export: %w", err)
	}
	return nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, "/v1/health", &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server. It unwraps to
// the graph error matching its status code, so callers can test with
// errors.Is(err, model.ErrEntityNotFound).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return model.ErrEntityNotFound
	case http.StatusServiceUnavailable:
		return model.ErrStoreUnavailable
	}
	return nil
}

// doJSON performs a GET request and decodes the JSON response into result.
func (c *HTTPClient) doJSON(ctx context.Context, path string, result any) error {
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, result)
}

// do performs an HTTP request and converts error statuses into *APIError.
// On success the caller owns the response body.
func (c *HTTPClient) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
}

func decode(resp *http.Response, result any) error {
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
