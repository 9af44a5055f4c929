package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mike-a-ellis/issue-search/internal/classify"
	"github.com/mike-a-ellis/issue-search/internal/labels"
	"github.com/mike-a-ellis/issue-search/internal/search"
	"github.com/mike-a-ellis/issue-search/internal/storage"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
}

// MessageResponse is the body of requests that only report success.
type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps err onto a status code and writes the error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	resp := ErrorResponse{Status: "error", Error: err.Error()}
	var ve *search.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var (
		ve *search.ValidationError
		ue *search.UpstreamError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, search.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, labels.ErrLabelNotFound):
		return http.StatusNotFound
	case errors.Is(err, labels.ErrLabelExists):
		return http.StatusConflict
	case errors.Is(err, labels.ErrLastLabel), errors.Is(err, labels.ErrEmptyName):
		return http.StatusUnprocessableEntity
	case errors.Is(err, classify.ErrUnknownLabel):
		return http.StatusBadGateway
	case errors.As(err, &ue):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads the request body into dst. Malformed bodies become
// validation errors so they are reported as 422 with the "body" field.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return &search.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"dur", time.Since(start),
				"remote", r.RemoteAddr,
			)
		})
	}
}
