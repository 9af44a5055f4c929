package search

import (
	"context"
	"fmt"
	"sort"
)

// Label suggestion bounds.
const (
	DefaultConsiderTopN = 5
	MaxSuggestions      = 10
	maxSuggestRerankTop = 5
)

// Reasons reported with an empty suggestion.
const (
	ReasonNoResults = "no similar issues found"
	ReasonNoLabels  = "similar issues carry no labels"
)

// LabelCount is a label and the number of similar issues carrying it.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Suggestion is the outcome of SuggestLabels. An empty Labels list always
// comes with a Reason.
type Suggestion struct {
	Query      string       `json:"query"`
	Labels     []LabelCount `json:"labels"`
	Considered int          `json:"considered"`
	Reason     string       `json:"reason,omitempty"`
}

// SuggestLabels searches with reranking forced on and tallies the labels of
// the top min(considerTopN, 5) results. Labels are ordered by count, then
// alphabetically, and capped at 10.
func (e *Engine) SuggestLabels(ctx context.Context, query string, considerTopN int) (*Suggestion, error) {
	if considerTopN < 1 || considerTopN > MaxTopK {
		return nil, &ValidationError{
			Field:   "consider_top_n",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", MaxTopK, considerTopN),
		}
	}

	req := Request{
		Query:      query,
		TopK:       considerTopN,
		Rerank:     true,
		RerankTopK: min(considerTopN, maxSuggestRerankTop),
	}
	results, err := e.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	suggestion := &Suggestion{
		Query:      query,
		Labels:     tallyLabels(results.Results),
		Considered: len(results.Results),
	}
	switch {
	case len(results.Results) == 0:
		suggestion.Reason = ReasonNoResults
	case len(suggestion.Labels) == 0:
		suggestion.Reason = ReasonNoLabels
	}
	return suggestion, nil
}

func tallyLabels(results []Result) []LabelCount {
	counts := make(map[string]int)
	for _, r := range results {
		for _, l := range r.Labels {
			counts[l]++
		}
	}

	tally := make([]LabelCount, 0, len(counts))
	for label, n := range counts {
		tally = append(tally, LabelCount{Label: label, Count: n})
	}
	sort.Slice(tally, func(i, j int) bool {
		if tally[i].Count != tally[j].Count {
			return tally[i].Count > tally[j].Count
		}
		return tally[i].Label < tally[j].Label
	})
	if len(tally) > MaxSuggestions {
		tally = tally[:MaxSuggestions]
	}
	return tally
}
