package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	scores := make([]float64, len(docs))
	for i := range docs {
		scores[i] = float64(len(docs) - i)
	}
	return scores, nil
}

func connect(t *testing.T, issues ...issue.Issue) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	index := storage.NewMemoryIndex("issues", 0)
	engine := search.NewEngine(index, fakeEmbedder{}, fakeReranker{}, search.Config{}, nil)
	pipeline := ingest.NewPipeline(index, fakeEmbedder{}, ingest.PipelineConfig{}, nil)
	svc := service.New(index, engine, pipeline, service.Config{EmbeddingModel: "test-embed"}, nil)
	if len(issues) > 0 {
		_, err := svc.Index(ctx, issues)
		require.NoError(t, err)
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := NewServer(svc).MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool[T any](t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (T, *mcp.CallToolResult) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)

	var out T
	if res.StructuredContent != nil {
		raw, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out, res
}

var sampleIssues = []issue.Issue{
	{ID: "github-1", Title: "Crash on startup", Body: "segfault", Labels: []string{"bug"}, State: issue.StateOpen},
	{ID: "github-2", Title: "Add dark mode", Body: "please", Labels: []string{"feature"}, State: issue.StateClosed},
}

func TestListTools(t *testing.T) {
	cs := connect(t)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"search_issues", "suggest_labels", "get_issue", "index_status"}, names)
}

func TestSearchIssuesTool(t *testing.T) {
	cs := connect(t, sampleIssues...)

	out, res := callTool[SearchIssuesOutput](t, cs, "search_issues", map[string]any{
		"query":         "crash",
		"filter_labels": []string{"bug"},
	})
	require.False(t, res.IsError)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "github-1", out.Results[0].ID)
}

func TestSearchIssuesTool_NoResults(t *testing.T) {
	cs := connect(t)

	out, res := callTool[SearchIssuesOutput](t, cs, "search_issues", map[string]any{"query": "crash"})
	require.False(t, res.IsError)
	assert.Empty(t, out.Results)
	assert.NotEmpty(t, out.Message)
}

func TestSearchIssuesTool_InvalidQuery(t *testing.T) {
	cs := connect(t)

	_, res := callTool[SearchIssuesOutput](t, cs, "search_issues", map[string]any{"query": " "})
	assert.True(t, res.IsError)
}

func TestSearchIssuesTool_NegativeTopK(t *testing.T) {
	cs := connect(t, sampleIssues...)

	for _, args := range []map[string]any{
		{"query": "crash", "top_k": -1, "rerank": false},
		{"query": "crash", "rerank_top_k": -3},
	} {
		_, res := callTool[SearchIssuesOutput](t, cs, "search_issues", args)
		assert.True(t, res.IsError, "%v", args)
	}
}

func TestSuggestLabelsTool(t *testing.T) {
	cs := connect(t, sampleIssues...)

	out, res := callTool[search.Suggestion](t, cs, "suggest_labels", map[string]any{"query": "crash"})
	require.False(t, res.IsError)
	assert.Equal(t, 2, out.Considered)
	assert.ElementsMatch(t, []search.LabelCount{{Label: "bug", Count: 1}, {Label: "feature", Count: 1}}, out.Labels)
}

func TestGetIssueTool(t *testing.T) {
	cs := connect(t, sampleIssues...)

	out, res := callTool[GetIssueOutput](t, cs, "get_issue", map[string]any{"id": "github-2"})
	require.False(t, res.IsError)
	assert.True(t, out.Found)
	assert.Equal(t, "Add dark mode", out.Title)
	assert.Equal(t, issue.StateClosed, out.State)

	out, res = callTool[GetIssueOutput](t, cs, "get_issue", map[string]any{"id": "github-99"})
	require.False(t, res.IsError)
	assert.False(t, out.Found)
}

func TestIndexStatusTool(t *testing.T) {
	cs := connect(t, sampleIssues...)

	out, res := callTool[IndexStatusOutput](t, cs, "index_status", map[string]any{})
	require.False(t, res.IsError)
	assert.Equal(t, service.StatusHealthy, out.Status)
	assert.Equal(t, 2, out.IndexedIssues)
	assert.Equal(t, "issues", out.Collection)
	assert.Equal(t, "test-embed", out.EmbeddingModel)
}
