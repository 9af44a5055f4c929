// Package service owns the process-wide handles (index, embedder, reranker)
// and exposes ingestion and search as request/response operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mike-a-ellis/issue-search/internal/ingest"
	"github.com/mike-a-ellis/issue-search/internal/issue"
	"github.com/mike-a-ellis/issue-search/internal/search"
	"github.com/mike-a-ellis/issue-search/internal/storage"
)

// Status values reported by operations.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusSuccess   = "success"
	StatusPartial   = "partial"
)

// ErrNoSource is returned by Reindex when no CSV directory is configured.
var ErrNoSource = errors.New("no CSV source directory configured")

// Config names the models and the CSV source.
type Config struct {
	CSVDir         string
	EmbeddingModel string
	RerankerModel  string
}

// Health summarizes the service state.
type Health struct {
	Status         string `json:"status"`
	Collection     string `json:"collection"`
	IndexedIssues  int    `json:"indexed_issues"`
	EmbeddingModel string `json:"embedding_model"`
	RerankerModel  string `json:"reranker_model"`
	Error          string `json:"error,omitempty"`
}

// IndexResult reports an ingestion request.
type IndexResult struct {
	Status      string   `json:"status"`
	Indexed     int      `json:"indexed"`
	Rejected    int      `json:"rejected"`
	TotalIssues int      `json:"total_issues"`
	Errors      []string `json:"errors,omitempty"`
}

// ReindexResult reports a clear-and-reload.
type ReindexResult struct {
	Status        string   `json:"status"`
	Message       string   `json:"message"`
	IndexedIssues int      `json:"indexed_issues"`
	Rejected      int      `json:"rejected"`
	Errors        []string `json:"errors,omitempty"`
}

// Service is the process-scoped service context. Create it once at startup;
// handles are never swapped while it runs.
type Service struct {
	index    storage.Index
	engine   *search.Engine
	pipeline *ingest.Pipeline
	cfg      Config
	logger   *slog.Logger

	// reloadMu serializes Reindex and Bootstrap. Reads are not blocked and may
	// observe an empty or partial index while a reload runs.
	reloadMu sync.Mutex
}

// New creates a service over already-initialized components.
func New(index storage.Index, engine *search.Engine, pipeline *ingest.Pipeline, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		index:    index,
		engine:   engine,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
	}
}

// Collection returns the index name.
func (s *Service) Collection() string { return s.index.Name() }

// Health reports the index size and model identifiers. An unreachable index
// yields an unhealthy report together with an *search.UpstreamError.
func (s *Service) Health(ctx context.Context) (*Health, error) {
	h := &Health{
		Status:         StatusHealthy,
		Collection:     s.index.Name(),
		EmbeddingModel: s.cfg.EmbeddingModel,
		RerankerModel:  s.cfg.RerankerModel,
	}

	count, err := s.count(ctx)
	if err == nil {
		err = s.index.Health(ctx)
	}
	if err != nil {
		h.Status = StatusUnhealthy
		h.Error = err.Error()
		return h, err
	}
	h.IndexedIssues = count
	return h, nil
}

// Index ingests issues and reports how many were written.
func (s *Service) Index(ctx context.Context, issues []issue.Issue) (*IndexResult, error) {
	if len(issues) == 0 {
		return nil, &search.ValidationError{Field: "issues", Message: "must not be empty"}
	}

	report := s.pipeline.Ingest(ctx, issues)
	if report.UpstreamDown() {
		return nil, &search.UpstreamError{Op: "index", Err: report.BatchErr}
	}
	total, err := s.count(ctx)
	if err != nil {
		return nil, err
	}

	return &IndexResult{
		Status:      statusOf(report),
		Indexed:     report.Accepted,
		Rejected:    report.Rejected,
		TotalIssues: total,
		Errors:      report.Errors,
	}, nil
}

// Search runs a semantic search.
func (s *Service) Search(ctx context.Context, req search.Request) (*search.Results, error) {
	return s.engine.Search(ctx, req)
}

// SuggestLabels suggests labels from the issues most similar to query.
func (s *Service) SuggestLabels(ctx context.Context, query string, considerTopN int) (*search.Suggestion, error) {
	return s.engine.SuggestLabels(ctx, query, considerTopN)
}

// GetIssue returns a stored issue. Unknown ids return storage.ErrNotFound.
func (s *Service) GetIssue(ctx context.Context, id string) (*issue.Issue, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &search.ValidationError{Field: "id", Message: "must not be empty"}
	}
	entry, err := s.index.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("issue %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, &search.UpstreamError{Op: "index get", Err: err}
	}
	iss := issue.Unflatten(entry.ID, entry.Document, entry.Metadata)
	return &iss, nil
}

// Clear removes every indexed issue.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.index.Clear(ctx); err != nil {
		return &search.UpstreamError{Op: "index clear", Err: err}
	}
	s.logger.Info("Collection cleared", "collection", s.index.Name())
	return nil
}

// Reindex clears the index and reloads it from the CSV source directory.
func (s *Service) Reindex(ctx context.Context) (*ReindexResult, error) {
	if s.cfg.CSVDir == "" {
		return nil, ErrNoSource
	}

	if _, err := os.Stat(s.cfg.CSVDir); err != nil {
		return nil, fmt.Errorf("CSV source: %w", err)
	}

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if err := s.Clear(ctx); err != nil {
		return nil, err
	}
	report, err := s.loadSource(ctx)
	if err != nil {
		return nil, err
	}
	if report.UpstreamDown() {
		return nil, &search.UpstreamError{Op: "reindex", Err: report.BatchErr}
	}
	total, err := s.count(ctx)
	if err != nil {
		return nil, err
	}

	return &ReindexResult{
		Status:        statusOf(report),
		Message:       fmt.Sprintf("Reindexed %d issues from %s", report.Accepted, s.cfg.CSVDir),
		IndexedIssues: total,
		Rejected:      report.Rejected,
		Errors:        report.Errors,
	}, nil
}

// Bootstrap loads the CSV source when the index is empty. It reports whether
// a load ran. A missing source directory is not an error.
func (s *Service) Bootstrap(ctx context.Context) (bool, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	count, err := s.count(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		s.logger.Info("Index already populated, skipping bootstrap", "issues", count)
		return false, nil
	}
	if s.cfg.CSVDir == "" {
		return false, nil
	}
	if _, err := os.Stat(s.cfg.CSVDir); err != nil {
		s.logger.Warn("CSV source not found, starting with an empty index", "dir", s.cfg.CSVDir)
		return false, nil
	}

	report, err := s.loadSource(ctx)
	if err != nil {
		return false, err
	}
	if report.UpstreamDown() {
		return false, &search.UpstreamError{Op: "bootstrap", Err: report.BatchErr}
	}
	s.logger.Info("Bootstrapped index from CSV", "accepted", report.Accepted, "rejected", report.Rejected)
	return true, nil
}

func (s *Service) loadSource(ctx context.Context) (ingest.Report, error) {
	issues, parsed, err := ingest.LoadDir(s.cfg.CSVDir)
	if err != nil {
		return parsed, err
	}
	for _, e := range parsed.Errors {
		s.logger.Warn("CSV source error", "error", e)
	}

	// Rows rejected while parsing never reach the pipeline.
	report := ingest.Report{Rejected: parsed.Rejected, Errors: parsed.Errors}
	report.Merge(s.pipeline.Ingest(ctx, issues))
	return report, nil
}

func (s *Service) count(ctx context.Context) (int, error) {
	n, err := s.index.Count(ctx)
	if err != nil {
		return 0, &search.UpstreamError{Op: "index count", Err: err}
	}
	return n, nil
}

func statusOf(r ingest.Report) string {
	if r.Rejected > 0 || len(r.Errors) > 0 {
		return StatusPartial
	}
	return StatusSuccess
}
