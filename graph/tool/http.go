package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dshills/questforge/graph/model"
)

// maxBody caps how much of a response body is returned to the model.
const maxBody = 16 << 10

// HTTPTool makes GET and POST requests.
//
// Input: method ("GET" or "POST", default GET), url (required), headers,
// body. Output: status_code, headers, body.
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool creates an HTTPTool. Timeouts come from the call context.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{client: &http.Client{}}
}

// Name returns "http_request".
func (h *HTTPTool) Name() string {
	return "http_request"
}

// Spec advertises the tool to a model.
func (h *HTTPTool) Spec() model.ToolSpec {
	return model.ToolSpec{
		Name:        h.Name(),
		Description: "Fetch a web page, for example a wiki article about a monster or location.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url":    map[string]interface{}{"type": "string", "description": "Absolute URL to fetch"},
				"method": map[string]interface{}{"type": "string", "enum": []string{"GET", "POST"}},
			},
			"required": []string{"url"},
		},
	}
}

// Call executes the request described by input.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported HTTP method: %s (supported: GET, POST)", method)
	}

	var body io.Reader
	if bodyStr, ok := input["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if valueStr, ok := value.(string); ok {
				req.Header.Set(key, valueStr)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	respHeaders := make(map[string]interface{})
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}, nil
}

// SearchTool queries a reference search endpoint with GET <endpoint>?q=<query>
// and returns the response text. It is the lookup capability used while
// planning a campaign.
type SearchTool struct {
	endpoint string
	http     *HTTPTool
}

// NewSearchTool creates a SearchTool for endpoint.
func NewSearchTool(endpoint string) *SearchTool {
	return &SearchTool{endpoint: endpoint, http: NewHTTPTool()}
}

// Name returns "search_references".
func (s *SearchTool) Name() string {
	return "search_references"
}

// Spec advertises the tool to a model.
func (s *SearchTool) Spec() model.ToolSpec {
	return model.ToolSpec{
		Name:        s.Name(),
		Description: "Search tabletop role-playing references for quest, villain and setting ideas.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": "What to look up"},
			},
			"required": []string{"query"},
		},
	}
}

// Call runs the query. Non-2xx responses are errors.
func (s *SearchTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	query, ok := input["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, errors.New("query parameter required (string)")
	}
	if s.endpoint == "" {
		return nil, errors.New("no search endpoint configured")
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	out, err := s.http.Call(ctx, map[string]interface{}{"url": u.String()})
	if err != nil {
		return nil, err
	}
	status, _ := out["status_code"].(int)
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("search returned status %d", status)
	}
	return map[string]interface{}{"query": query, "results": out["body"]}, nil
}
