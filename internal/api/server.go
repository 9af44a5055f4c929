// Package api exposes the service over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mike-a-ellis/issue-search/internal/classify"
	"github.com/mike-a-ellis/issue-search/internal/issue"
	"github.com/mike-a-ellis/issue-search/internal/labels"
	"github.com/mike-a-ellis/issue-search/internal/search"
	"github.com/mike-a-ellis/issue-search/internal/service"
)

const maxBodyBytes = 32 << 20

// LabelStore manages the configured classification labels.
type LabelStore interface {
	List() ([]labels.Label, error)
	Add(name, description string) error
	Update(oldName, newName, description string) error
	Delete(name string) error
}

// Classifier assigns a configured label to an issue.
type Classifier interface {
	Classify(ctx context.Context, title, body string) (*classify.Classification, error)
}

// Options carries the optional surfaces. Nil fields leave their routes unregistered.
type Options struct {
	Labels     LabelStore
	Classifier Classifier
	// MCP is mounted at /mcp.
	MCP http.Handler
}

// Server routes HTTP requests to the service.
type Server struct {
	router chi.Router
	svc    *service.Service
	opts   Options
	logger *slog.Logger
}

// NewServer builds the router.
func NewServer(svc *service.Service, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router: chi.NewRouter(),
		svc:    svc,
		opts:   opts,
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger(s.logger))

	s.router.Get("/", landingHandler)
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/index", s.handleIndex)
	s.router.Post("/search", s.handleSearch)
	s.router.Post("/suggest_labels", s.handleSuggestLabels)
	s.router.Get("/issue/{id}", s.handleGetIssue)
	s.router.Delete("/collection", s.handleClear)
	s.router.Post("/reindex", s.handleReindex)

	if s.opts.Labels != nil {
		s.router.Route("/labels", func(r chi.Router) {
			r.Get("/", s.handleListLabels)
			r.Post("/", s.handleAddLabel)
			r.Put("/{name}", s.handleUpdateLabel)
			r.Delete("/{name}", s.handleDeleteLabel)
		})
	}
	if s.opts.Classifier != nil {
		s.router.Post("/classify", s.handleClassify)
	}
	if s.opts.MCP != nil {
		s.router.Handle("/mcp", s.opts.MCP)
		s.router.Handle("/mcp/*", s.opts.MCP)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.svc.Health(r.Context())
	if err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, h)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// IndexRequest is the body of POST /index.
type IndexRequest struct {
	Issues []issue.Issue `json:"issues"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Index(r.Context(), req.Issues)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	// Absent fields keep their defaults; explicit out-of-range values are rejected.
	req := search.NewRequest("")
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SuggestRequest is the body of POST /suggest_labels.
type SuggestRequest struct {
	Query        string `json:"query"`
	ConsiderTopN int    `json:"consider_top_n"`
}

func (s *Server) handleSuggestLabels(w http.ResponseWriter, r *http.Request) {
	req := SuggestRequest{ConsiderTopN: search.DefaultConsiderTopN}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.SuggestLabels(r.Context(), req.Query, req.ConsiderTopN)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	iss, err := s.svc.GetIssue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iss)
}

// ClearResponse is the body of DELETE /collection.
type ClearResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	IndexedIssues int    `json:"indexed_issues"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Clear(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClearResponse{
		Status:  service.StatusSuccess,
		Message: "Collection " + s.svc.Collection() + " cleared",
	})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Reindex(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LabelsResponse is the body of GET /labels.
type LabelsResponse struct {
	Labels []labels.Label `json:"labels"`
}

func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Labels.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LabelsResponse{Labels: list})
}

func (s *Server) handleAddLabel(w http.ResponseWriter, r *http.Request) {
	var l labels.Label
	if err := decodeJSON(r, &l); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.opts.Labels.Add(l.Name, l.Description); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{
		Status:  service.StatusSuccess,
		Message: "Label " + strings.TrimSpace(l.Name) + " added",
	})
}

func (s *Server) handleUpdateLabel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var l labels.Label
	if err := decodeJSON(r, &l); err != nil {
		s.writeError(w, r, err)
		return
	}
	if l.Name == "" {
		l.Name = name
	}
	if err := s.opts.Labels.Update(name, l.Name, l.Description); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Status:  service.StatusSuccess,
		Message: "Label " + name + " updated",
	})
}

func (s *Server) handleDeleteLabel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.opts.Labels.Delete(name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Status:  service.StatusSuccess,
		Message: "Label " + name + " deleted",
	})
}

// ClassifyRequest is the body of POST /classify.
type ClassifyRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.writeError(w, r, &search.ValidationError{Field: "title", Message: "must not be empty"})
		return
	}
	res, err := s.opts.Classifier.Classify(r.Context(), req.Title, req.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
