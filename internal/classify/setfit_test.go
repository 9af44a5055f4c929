package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mike-a-ellis/issue-search/internal/labels"
)

// fakeSetFitServer labels every issue with the given answers, in order.
func fakeSetFitServer(t *testing.T, answers ...string) (*httptest.Server, *setfitRequest) {
	t.Helper()
	var got setfitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/classify", r.URL.Path)
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([]map[string]string, 0, len(answers))
		for i, a := range answers {
			if i >= len(got.Issues) {
				break
			}
			out = append(out, map[string]string{
				"title":          got.Issues[i].Title,
				"body":           got.Issues[i].Body,
				"classification": a,
			})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func newSetFit(t *testing.T, srv *httptest.Server, model string) *SetFitClient {
	t.Helper()
	store := labels.NewStore(filepath.Join(t.TempDir(), "labels.yaml"))
	c, err := NewSetFitClient(store, SetFitConfig{BaseURL: srv.URL + "/", Model: model})
	require.NoError(t, err)
	return c
}

func TestSetFit_Classify(t *testing.T) {
	srv, got := fakeSetFitServer(t, "Bug")
	c := newSetFit(t, srv, "models/issues-setfit")

	res, err := c.Classify(context.Background(), "App crashes on save", "Stack trace attached")
	require.NoError(t, err)
	assert.Equal(t, &Classification{Label: "bug"}, res)
	assert.Equal(t, "models/issues-setfit", got.ModelName)
	assert.Equal(t, []IssueText{{Title: "App crashes on save", Body: "Stack trace attached"}}, got.Issues)
}

func TestSetFit_ClassifyBatchKeepsOrder(t *testing.T) {
	srv, got := fakeSetFitServer(t, "non-bug", "bug")
	c := newSetFit(t, srv, "")

	out, err := c.ClassifyBatch(context.Background(), []IssueText{
		{Title: "Add dark mode"},
		{Title: "Crash on startup", Body: "segfault"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"non-bug", "bug"}, out)
	assert.Empty(t, got.ModelName)
}

func TestSetFit_UnknownLabel(t *testing.T) {
	srv, _ := fakeSetFitServer(t, "question")
	c := newSetFit(t, srv, "")

	_, err := c.Classify(context.Background(), "How do I configure this?", "")
	assert.ErrorIs(t, err, ErrUnknownLabel)
}

func TestSetFit_CountMismatch(t *testing.T) {
	srv, _ := fakeSetFitServer(t, "bug")
	c := newSetFit(t, srv, "")

	_, err := c.ClassifyBatch(context.Background(), []IssueText{{Title: "a"}, {Title: "b"}})
	assert.ErrorContains(t, err, "1 predictions for 2 issues")
}

func TestSetFit_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Invalid model name"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	c := newSetFit(t, srv, "missing")

	_, err := c.Classify(context.Background(), "Crash", "")
	assert.ErrorContains(t, err, "status 400")
}

func TestSetFit_EmptyTitleSkipsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	}))
	t.Cleanup(srv.Close)
	c := newSetFit(t, srv, "")

	_, err := c.Classify(context.Background(), "  ", "body")
	assert.Error(t, err)

	out, err := c.ClassifyBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNewSetFitClient_RequiresBaseURL(t *testing.T) {
	_, err := NewSetFitClient(nil, SetFitConfig{})
	assert.Error(t, err)
}
