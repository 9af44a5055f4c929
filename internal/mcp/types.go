// Package mcp exposes issue search to MCP clients.
package mcp

import "github.com/mike-a-ellis/issue-search/internal/search"

// SearchIssuesInput defines the input parameters for the search_issues tool.
type SearchIssuesInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"the semantic search query describing the issue"`
	// TopK is the number of results to return without reranking.
	TopK int `json:"top_k,omitempty" jsonschema:"number of results without reranking, 1 to 100, default 10"`
	// Rerank toggles cross-encoder reranking. Defaults to true.
	Rerank *bool `json:"rerank,omitempty" jsonschema:"rerank candidates with the cross-encoder, default true"`
	// RerankTopK is the number of results to return after reranking.
	RerankTopK int `json:"rerank_top_k,omitempty" jsonschema:"number of results after reranking, 1 to 50, default 5"`
	// FilterLabels keeps only issues carrying at least one of these labels.
	FilterLabels []string `json:"filter_labels,omitempty" jsonschema:"keep only issues with at least one of these labels"`
}

// SearchIssuesOutput contains the search results.
type SearchIssuesOutput struct {
	Results []search.Result `json:"results"`
	// Message provides informational context (e.g., "No matching issues found").
	Message string `json:"message,omitempty"`
}

// SuggestLabelsInput defines the input parameters for the suggest_labels tool.
type SuggestLabelsInput struct {
	Query        string `json:"query" jsonschema:"title and body of the issue to label"`
	ConsiderTopN int    `json:"consider_top_n,omitempty" jsonschema:"number of similar issues to consider, default 5"`
}

// GetIssueInput defines the input parameters for the get_issue tool.
type GetIssueInput struct {
	ID string `json:"id" jsonschema:"the issue id, e.g. github-123"`
}

// GetIssueOutput contains the retrieved issue.
type GetIssueOutput struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Body      string         `json:"body,omitempty"`
	Labels    []string       `json:"labels,omitempty"`
	State     string         `json:"state,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	// Found indicates whether the issue exists.
	Found bool `json:"found"`
}

// IndexStatusInput takes no parameters.
type IndexStatusInput struct{}

// IndexStatusOutput reports the index state.
type IndexStatusOutput struct {
	Status         string `json:"status"`
	Collection     string `json:"collection"`
	IndexedIssues  int    `json:"indexed_issues"`
	EmbeddingModel string `json:"embedding_model"`
	RerankerModel  string `json:"reranker_model"`
	Error          string `json:"error,omitempty"`
}
