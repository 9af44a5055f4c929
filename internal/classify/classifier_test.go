package classify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mike-a-ellis/issue-search/internal/embedding"
	"github.com/mike-a-ellis/issue-search/internal/labels"
)

// fakeChatServer answers /chat/completions with the given message content.
func fakeChatServer(t *testing.T, content string, gotPrompt *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if gotPrompt != nil && len(req.Messages) > 0 {
			*gotPrompt = req.Messages[len(req.Messages)-1].Content
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClassifier(t *testing.T, srv *httptest.Server, source LabelSource) *Classifier {
	t.Helper()
	client, err := embedding.NewClient(embedding.ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	return NewClassifier(client.Client(), source, Config{}, nil)
}

func TestClassify_MapsLabelToConfiguredName(t *testing.T) {
	var prompt string
	srv := fakeChatServer(t, `{"label": "BUG", "reasoning": "It crashes."}`, &prompt)
	store := labels.NewStore(filepath.Join(t.TempDir(), "labels.yaml"))

	c := newTestClassifier(t, srv, store)
	got, err := c.Classify(context.Background(), "App crashes on save", "Stack trace attached")
	require.NoError(t, err)

	assert.Equal(t, &Classification{Label: "bug", Reasoning: "It crashes."}, got)
	assert.Contains(t, prompt, `"bug", "non-bug"`)
	assert.Contains(t, prompt, "App crashes on save")
	assert.Equal(t, DefaultModel, c.ModelName())
}

func TestClassify_UnknownLabel(t *testing.T) {
	srv := fakeChatServer(t, `{"label": "feature", "reasoning": "?"}`, nil)
	c := newTestClassifier(t, srv, labels.NewStore(filepath.Join(t.TempDir(), "labels.yaml")))

	_, err := c.Classify(context.Background(), "Add dark mode", "")
	assert.ErrorIs(t, err, ErrUnknownLabel)
}

func TestClassify_MalformedResponse(t *testing.T) {
	srv := fakeChatServer(t, `not json`, nil)
	c := newTestClassifier(t, srv, labels.NewStore(filepath.Join(t.TempDir(), "labels.yaml")))

	_, err := c.Classify(context.Background(), "title", "body")
	assert.Error(t, err)
}

type failingSource struct{}

func (failingSource) List() ([]labels.Label, error) { return nil, errors.New("disk on fire") }

func TestClassify_LabelSourceError(t *testing.T) {
	srv := fakeChatServer(t, `{}`, nil)
	c := newTestClassifier(t, srv, failingSource{})

	_, err := c.Classify(context.Background(), "title", "body")
	assert.ErrorContains(t, err, "disk on fire")

	_, err = c.Classify(context.Background(), " ", "body")
	assert.Error(t, err)
}

func TestTruncateContent(t *testing.T) {
	c := &Classifier{maxTokens: 1000, logger: slog.Default()}

	long := strings.Repeat("Content. ", 1000)
	truncated := c.truncateContent(long)
	assert.Len(t, truncated, 4000)
	assert.True(t, strings.HasPrefix(long, truncated))

	short := "Short body."
	assert.Equal(t, short, c.truncateContent(short))
}

func TestTruncateContent_MultiByte(t *testing.T) {
	c := &Classifier{maxTokens: 1, logger: slog.Default()}

	// 4-byte cap lands inside the second three-byte rune.
	truncated := c.truncateContent("日本語のバグ")
	assert.True(t, utf8.ValidString(truncated))
	assert.Equal(t, "日", truncated)

	truncated = c.truncateContent("ab🐛🐛")
	assert.True(t, utf8.ValidString(truncated))
	assert.Equal(t, "ab", truncated)
}
