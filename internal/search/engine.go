// Package search answers semantic queries over the issue index: nearest
// neighbour retrieval, optional label filtering and cross-encoder reranking.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/mike-a-ellis/issue-search/internal/issue"
	"github.com/mike-a-ellis/issue-search/internal/storage"
)

// DefaultTimeout bounds each embedding, reranking and index call.
const DefaultTimeout = 30 * time.Second

// Embedder maps a query to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker scores each document against the query; higher is more relevant.
// Scores come back in input order.
type Reranker interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// Config bounds collaborator calls.
type Config struct {
	EmbedTimeout  time.Duration
	RerankTimeout time.Duration
	IndexTimeout  time.Duration
}

// Result is a single ranked issue.
type Result struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Labels    []string       `json:"labels"`
	State     string         `json:"state"`
	CreatedAt string         `json:"created_at,omitempty"`
	Score     float64        `json:"score"`
	Metadata  map[string]any `json:"metadata"`

	document string
}

// Results is the outcome of a search.
type Results struct {
	Results      []Result `json:"results"`
	Query        string   `json:"query"`
	TotalResults int      `json:"total_results"`
	// PoolSize is the number of candidates requested from the index.
	PoolSize int `json:"-"`
}

// Engine runs searches against an index.
type Engine struct {
	index    storage.Index
	embedder Embedder
	reranker Reranker
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates a search engine. reranker may be nil, in which case
// requests asking for reranking fail with an *UpstreamError.
func NewEngine(index storage.Index, embedder Embedder, reranker Reranker, cfg Config, logger *slog.Logger) *Engine {
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultTimeout
	}
	if cfg.RerankTimeout <= 0 {
		cfg.RerankTimeout = DefaultTimeout
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		index:    index,
		embedder: embedder,
		reranker: reranker,
		cfg:      cfg,
		logger:   logger,
	}
}

var errNoReranker = errors.New("reranker not configured")

// Search embeds the query, fetches a candidate pool, filters it by label and
// either reranks it or truncates it to TopK.
//
// Scores are 1 - cosine distance before reranking and raw reranker scores after.
func (e *Engine) Search(ctx context.Context, req Request) (*Results, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Rerank && e.reranker == nil {
		return nil, &UpstreamError{Op: "rerank", Err: errNoReranker}
	}

	start := time.Now()

	var vector []float32
	err := withTimeout(ctx, "embed query", e.cfg.EmbedTimeout, func(ctx context.Context) error {
		var err error
		vector, err = e.embedder.Embed(ctx, req.Query)
		return err
	})
	if err != nil {
		return nil, err
	}

	poolSize := req.PoolSize()
	var hits []storage.Hit
	err = withTimeout(ctx, "index query", e.cfg.IndexTimeout, func(ctx context.Context) error {
		var err error
		hits, err = e.index.Query(ctx, vector, poolSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	candidates := toResults(hits)
	candidates = filterByLabels(candidates, req.FilterLabels)

	if req.Rerank && len(candidates) > 0 {
		if err := e.rerank(ctx, req.Query, candidates); err != nil {
			return nil, err
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Score > candidates[j].Score
		})
		candidates = truncate(candidates, req.RerankTopK)
	} else {
		candidates = truncate(candidates, req.TopK)
	}

	e.logger.Debug("search complete",
		"query", req.Query,
		"pool_size", poolSize,
		"hits", len(hits),
		"results", len(candidates),
		"rerank", req.Rerank,
		"duration", time.Since(start),
	)

	return &Results{
		Results:      candidates,
		Query:        req.Query,
		TotalResults: len(candidates),
		PoolSize:     poolSize,
	}, nil
}

func (e *Engine) rerank(ctx context.Context, query string, candidates []Result) error {
	docs := make([]string, len(candidates))
	for i := range candidates {
		docs[i] = candidates[i].document
	}

	var scores []float64
	err := withTimeout(ctx, "rerank", e.cfg.RerankTimeout, func(ctx context.Context) error {
		var err error
		scores, err = e.reranker.Score(ctx, query, docs)
		return err
	})
	if err != nil {
		return err
	}
	if len(scores) != len(candidates) {
		return &UpstreamError{Op: "rerank", Err: errors.New("score count does not match candidate count")}
	}
	for i := range candidates {
		candidates[i].Score = scores[i]
	}
	return nil
}

func toResults(hits []storage.Hit) []Result {
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		iss := issue.Unflatten(h.ID, h.Document, h.Metadata)
		results = append(results, Result{
			ID:        iss.ID,
			Title:     iss.Title,
			Body:      iss.Body,
			Labels:    iss.Labels,
			State:     iss.State,
			CreatedAt: iss.CreatedAt,
			Score:     1 - h.Distance,
			Metadata:  iss.Metadata,
			document:  h.Document,
		})
	}
	return results
}

// filterByLabels keeps results sharing at least one label with filter.
// An empty filter keeps everything.
func filterByLabels(results []Result, filter []string) []Result {
	set := issue.LabelSet(filter)
	if set == nil {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if issue.HasAnyLabel(r.Labels, set) {
			kept = append(kept, r)
		}
	}
	return kept
}

func truncate(results []Result, n int) []Result {
	if len(results) > n {
		return results[:n]
	}
	return results
}
