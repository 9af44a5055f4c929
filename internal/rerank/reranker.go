// Package rerank scores (query, document) pairs with a remote cross-encoder.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultModel   = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	DefaultTimeout = 30 * time.Second
)

// Config holds configuration for the rerank client.
type Config struct {
	// BaseURL of a text-embeddings-inference style server exposing POST /rerank.
	BaseURL string

	// Model is reported in health output; the server decides what it runs.
	Model string

	// Timeout bounds each rerank request.
	Timeout time.Duration
}

// Client calls a cross-encoder rerank endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

type rankedText struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// NewClient creates a rerank client. BaseURL is required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rerank: base URL is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
	}, nil
}

// ModelName returns the configured reranker model identifier.
func (c *Client) ModelName() string { return c.model }

// Timeout returns the per-request bound.
func (c *Client) Timeout() time.Duration { return c.httpClient.Timeout }

// Score returns one relevance score per document, in input order.
// Higher is more relevant. Scores are raw cross-encoder logits.
func (c *Client) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return []float64{}, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: docs, RawScores: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("reranker error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var ranked []rankedText
	if err := json.NewDecoder(resp.Body).Decode(&ranked); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(ranked) != len(docs) {
		return nil, fmt.Errorf("reranker returned %d scores for %d documents", len(ranked), len(docs))
	}

	scores := make([]float64, len(docs))
	seen := make([]bool, len(docs))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(docs) || seen[r.Index] {
			return nil, fmt.Errorf("reranker returned invalid index %d", r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}
	return scores, nil
}
