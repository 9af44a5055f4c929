package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mike-a-ellis/issue-search/internal/api"
	"github.com/mike-a-ellis/issue-search/internal/ingest"
	"github.com/mike-a-ellis/issue-search/internal/issue"
	"github.com/mike-a-ellis/issue-search/internal/search"
	"github.com/mike-a-ellis/issue-search/internal/service"
	"github.com/mike-a-ellis/issue-search/internal/storage"
)

type fakeEmbedder struct{}

func (fakeEmbedder) vector(text string) []float32 {
	return []float32{float32(len(text)), float32(strings.Count(text, "e")), 1}
}

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return f.vector(text), nil
}

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

type fakeReranker struct{}

func (fakeReranker) Score(_ context.Context, _ string, docs []string) ([]float64, error) {
	return make([]float64, len(docs)), nil
}

func newServiceServer(t *testing.T) *httptest.Server {
	t.Helper()
	index := storage.NewMemoryIndex("issues", 0)
	engine := search.NewEngine(index, fakeEmbedder{}, fakeReranker{}, search.Config{}, nil)
	pipeline := ingest.NewPipeline(index, fakeEmbedder{}, ingest.PipelineConfig{}, nil)
	svc := service.New(index, engine, pipeline, service.Config{EmbeddingModel: "test-embed"}, nil)

	srv := httptest.NewServer(api.NewServer(svc, api.Options{}, nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(newServiceServer(t).URL + "/")

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.StatusHealthy, h.Status)
	assert.Equal(t, 0, h.IndexedIssues)

	res, err := c.Index(ctx, []issue.Issue{
		{ID: "github-1", Title: "Crash on startup", Body: "segfault", Labels: []string{"bug"}},
		{ID: "github-2", Title: "Add dark mode", Labels: []string{"feature"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 2, res.TotalIssues)

	got, err := c.GetIssue(ctx, "github-1")
	require.NoError(t, err)
	assert.Equal(t, "Crash on startup", got.Title)
	assert.Equal(t, []string{"bug"}, got.Labels)

	req := search.NewRequest("crash")
	req.Rerank = false
	results, err := c.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, results.TotalResults)

	s, err := c.SuggestLabels(ctx, "crash", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Considered)
	assert.Len(t, s.Labels, 1)
}

func TestClient_NotFound(t *testing.T) {
	c := New(newServiceServer(t).URL)

	_, err := c.GetIssue(context.Background(), "github-404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_ValidationError(t *testing.T) {
	c := New(newServiceServer(t).URL)

	req := search.NewRequest("crash")
	req.TopK = 0
	_, err := c.Search(context.Background(), req)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Equal(t, "top_k", se.Field)
}

func TestClient_ReindexWithoutSource(t *testing.T) {
	c := New(newServiceServer(t).URL)

	_, err := c.Reindex(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, se.Message, "no CSV source")
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := New(srv.URL)
	c.requestTimeout = 20 * time.Millisecond

	_, err := c.Search(context.Background(), search.NewRequest("crash"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "search", te.Op)
	assert.Equal(t, 20*time.Millisecond, te.Bound)
}

func TestClient_UnhealthyService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy","collection":"issues","error":"vector index unreachable"}`))
	}))
	t.Cleanup(srv.Close)

	h, err := New(srv.URL).Health(context.Background())
	require.Error(t, err)
	require.NotNil(t, h)
	assert.Equal(t, service.StatusUnhealthy, h.Status)
	assert.Equal(t, "vector index unreachable", h.Error)
}
