package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mike-a-ellis/issue-search/internal/search"
	"github.com/mike-a-ellis/issue-search/internal/service"
	"github.com/mike-a-ellis/issue-search/internal/storage"
)

// makeSearchHandler creates the search_issues tool handler.
// Unset parameters take the HTTP defaults: top_k 10, rerank on, rerank_top_k 5.
func makeSearchHandler(svc *service.Service) func(
	context.Context, *mcp.CallToolRequest, SearchIssuesInput,
) (*mcp.CallToolResult, SearchIssuesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchIssuesInput) (
		*mcp.CallToolResult, SearchIssuesOutput, error,
	) {
		sreq := search.NewRequest(input.Query)
		// Zero means the field was omitted.
		if input.TopK != 0 {
			sreq.TopK = input.TopK
		}
		if input.Rerank != nil {
			sreq.Rerank = *input.Rerank
		}
		if input.RerankTopK != 0 {
			sreq.RerankTopK = input.RerankTopK
		}
		sreq.FilterLabels = input.FilterLabels

		res, err := svc.Search(ctx, sreq)
		if err != nil {
			return nil, SearchIssuesOutput{}, fmt.Errorf("search failed: %w", err)
		}

		if len(res.Results) == 0 {
			return nil, SearchIssuesOutput{
				Results: []search.Result{},
				Message: "No matching issues found. Try broader search terms.",
			}, nil
		}
		return nil, SearchIssuesOutput{Results: res.Results}, nil
	}
}

// makeSuggestHandler creates the suggest_labels tool handler.
func makeSuggestHandler(svc *service.Service) func(
	context.Context, *mcp.CallToolRequest, SuggestLabelsInput,
) (*mcp.CallToolResult, search.Suggestion, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SuggestLabelsInput) (
		*mcp.CallToolResult, search.Suggestion, error,
	) {
		n := input.ConsiderTopN
		if n <= 0 {
			n = search.DefaultConsiderTopN
		}
		s, err := svc.SuggestLabels(ctx, input.Query, n)
		if err != nil {
			return nil, search.Suggestion{}, fmt.Errorf("label suggestion failed: %w", err)
		}
		return nil, *s, nil
	}
}

// makeGetIssueHandler creates the get_issue tool handler.
// An unknown id is reported with Found=false rather than as a tool error.
func makeGetIssueHandler(svc *service.Service) func(
	context.Context, *mcp.CallToolRequest, GetIssueInput,
) (*mcp.CallToolResult, GetIssueOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetIssueInput) (
		*mcp.CallToolResult, GetIssueOutput, error,
	) {
		iss, err := svc.GetIssue(ctx, input.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, GetIssueOutput{ID: input.ID, Found: false}, nil
		}
		if err != nil {
			return nil, GetIssueOutput{}, fmt.Errorf("failed to fetch issue: %w", err)
		}
		return nil, GetIssueOutput{
			ID:        iss.ID,
			Title:     iss.Title,
			Body:      iss.Body,
			Labels:    iss.Labels,
			State:     iss.State,
			CreatedAt: iss.CreatedAt,
			Metadata:  iss.Metadata,
			Found:     true,
		}, nil
	}
}

// makeStatusHandler creates the index_status tool handler. An unreachable
// index is reported in the output, not as a tool error.
func makeStatusHandler(svc *service.Service) func(
	context.Context, *mcp.CallToolRequest, IndexStatusInput,
) (*mcp.CallToolResult, IndexStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IndexStatusInput) (
		*mcp.CallToolResult, IndexStatusOutput, error,
	) {
		h, _ := svc.Health(ctx)
		return nil, IndexStatusOutput{
			Status:         h.Status,
			Collection:     h.Collection,
			IndexedIssues:  h.IndexedIssues,
			EmbeddingModel: h.EmbeddingModel,
			RerankerModel:  h.RerankerModel,
			Error:          h.Error,
		}, nil
	}
}
