// Package client talks to a running vector-store service over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mike-a-ellis/issue-search/internal/issue"
	"github.com/mike-a-ellis/issue-search/internal/search"
	"github.com/mike-a-ellis/issue-search/internal/service"
)

// Per-operation bounds.
const (
	HealthTimeout  = 5 * time.Second
	RequestTimeout = 30 * time.Second
	ReindexTimeout = 10 * time.Minute
)

var (
	// ErrTimeout matches every *TimeoutError via errors.Is.
	ErrTimeout = errors.New("timeout")
	// ErrNotFound is returned when the service answers 404.
	ErrNotFound = errors.New("not found")
)

// TimeoutError reports an operation that did not complete within its bound.
type TimeoutError struct {
	Op    string
	Bound time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Bound)
}

// Is reports ErrTimeout as a match.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
	Field      string
}

func (e *StatusError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: HTTP %d (%s): %s", e.Op, e.StatusCode, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// Client calls the service. Requests are never retried.
type Client struct {
	baseURL string
	http    *http.Client

	healthTimeout  time.Duration
	requestTimeout time.Duration
	reindexTimeout time.Duration
}

// New creates a client for the service at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},

		healthTimeout:  HealthTimeout,
		requestTimeout: RequestTimeout,
		reindexTimeout: ReindexTimeout,
	}
}

// Health returns the service health. An unhealthy service still yields its
// report together with a *StatusError.
func (c *Client) Health(ctx context.Context) (*service.Health, error) {
	var h service.Health
	err := c.do(ctx, "health", c.healthTimeout, http.MethodGet, "/health", nil, &h)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusServiceUnavailable {
		return &h, err
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// Search runs a semantic search.
func (c *Client) Search(ctx context.Context, req search.Request) (*search.Results, error) {
	var res search.Results
	if err := c.do(ctx, "search", c.requestTimeout, http.MethodPost, "/search", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Index sends a batch of issues.
func (c *Client) Index(ctx context.Context, issues []issue.Issue) (*service.IndexResult, error) {
	var res service.IndexResult
	body := map[string][]issue.Issue{"issues": issues}
	if err := c.do(ctx, "index", c.requestTimeout, http.MethodPost, "/index", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SuggestLabels asks for labels for query.
func (c *Client) SuggestLabels(ctx context.Context, query string, considerTopN int) (*search.Suggestion, error) {
	var res search.Suggestion
	body := map[string]any{"query": query, "consider_top_n": considerTopN}
	if err := c.do(ctx, "suggest labels", c.requestTimeout, http.MethodPost, "/suggest_labels", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetIssue fetches one issue. Unknown ids return ErrNotFound.
func (c *Client) GetIssue(ctx context.Context, id string) (*issue.Issue, error) {
	var res issue.Issue
	if err := c.do(ctx, "get issue", c.requestTimeout, http.MethodGet, "/issue/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Reindex asks the service to rebuild its index from the CSV source.
func (c *Client) Reindex(ctx context.Context) (*service.ReindexResult, error) {
	var res service.ReindexResult
	if err := c.do(ctx, "reindex", c.reindexTimeout, http.MethodPost, "/reindex", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, op string, bound time.Duration, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return &TimeoutError{Op: op, Bound: bound}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return &TimeoutError{Op: op, Bound: bound}
		}
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %s", op, ErrNotFound, errorMessage(raw))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Op: op, StatusCode: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
			Field string `json:"field"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			se.Message, se.Field = e.Error, e.Field
		} else {
			se.Message = strings.TrimSpace(string(raw))
		}
		// /health answers 503 with a full report.
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		return se
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

func errorMessage(raw []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
