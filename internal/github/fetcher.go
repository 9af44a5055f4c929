package github

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/go-github/v81/github"
	"golang.org/x/time/rate"

	"github.com/mike-a-ellis/issue-search/internal/issue"
)

// Fetcher defaults.
const (
	DefaultPerPage           = 100
	DefaultRequestsPerSecond = 2.0
	DefaultMinRemaining      = 10
)

// FetchOptions selects which issues to fetch from a repository.
type FetchOptions struct {
	Owner string
	Repo  string

	// State is "open", "closed" or "all". Empty means "all".
	State string

	// MaxIssues stops fetching once this many issues are collected. Zero means no limit.
	MaxIssues int

	// Progress, when set, is called after each page with the running issue count.
	Progress func(fetched int)
}

// FetcherConfig tunes request pacing.
type FetcherConfig struct {
	RequestsPerSecond float64
	// MinRemaining pauses fetching until the quota resets once fewer requests remain.
	MinRemaining int
}

// IssueFetcher pages through repository issues, skipping pull requests.
type IssueFetcher struct {
	client       *Client
	limiter      *rate.Limiter
	minRemaining int
	logger       *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewIssueFetcher creates a new issue fetcher
func NewIssueFetcher(client *Client, cfg FetcherConfig, logger *slog.Logger) *IssueFetcher {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.MinRemaining <= 0 {
		cfg.MinRemaining = DefaultMinRemaining
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IssueFetcher{
		client:       client,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		minRemaining: cfg.MinRemaining,
		logger:       logger,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// Fetch lists issues newest first, 100 per page, until the last page or MaxIssues.
func (f *IssueFetcher) Fetch(ctx context.Context, opts FetchOptions) ([]issue.Issue, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("owner and repo are required")
	}
	state := opts.State
	if state == "" {
		state = "all"
	}

	listOpts := &github.IssueListByRepoOptions{
		State:     state,
		Sort:      "created",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: DefaultPerPage,
			Page:    1,
		},
	}

	var (
		issues       []issue.Issue
		pullRequests int
	)

	for {
		if err := f.limiter.Wait(ctx); err != nil {
			return issues, err
		}

		page, resp, err := f.client.Issues.ListByRepo(ctx, opts.Owner, opts.Repo, listOpts)
		if err != nil {
			return issues, fmt.Errorf("list issues of %s/%s page %d: %w", opts.Owner, opts.Repo, listOpts.ListOptions.Page, err)
		}

		for _, gh := range page {
			// The issues endpoint returns pull requests too.
			if gh.IsPullRequest() {
				pullRequests++
				continue
			}
			issues = append(issues, ToIssue(gh))
			if opts.MaxIssues > 0 && len(issues) >= opts.MaxIssues {
				break
			}
		}

		if opts.Progress != nil {
			opts.Progress(len(issues))
		}

		if opts.MaxIssues > 0 && len(issues) >= opts.MaxIssues {
			break
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}

		if err := f.waitForQuota(ctx, resp.Rate); err != nil {
			return issues, err
		}
		listOpts.ListOptions.Page = resp.NextPage
	}

	f.logger.Info("fetched issues",
		"repo", opts.Owner+"/"+opts.Repo,
		"issues", len(issues),
		"pull_requests_skipped", pullRequests,
	)
	return issues, nil
}

// waitForQuota pauses until the rate limit window resets when the remaining
// quota has dropped below the configured threshold.
func (f *IssueFetcher) waitForQuota(ctx context.Context, r github.Rate) error {
	if r.Limit == 0 || r.Remaining >= f.minRemaining {
		return nil
	}
	wait := r.Reset.Sub(f.now())
	if wait <= 0 {
		return nil
	}
	wait += time.Second

	f.logger.Warn("github rate limit low, pausing",
		"remaining", r.Remaining,
		"reset", r.Reset.Time,
		"wait", wait.Round(time.Second),
	)
	return f.sleep(ctx, wait)
}

// ToIssue converts a GitHub API issue into an issue record.
func ToIssue(gh *github.Issue) issue.Issue {
	labels := make([]string, 0, len(gh.Labels))
	for _, l := range gh.Labels {
		labels = append(labels, l.GetName())
	}

	rec := issue.Issue{
		ID:     issue.GitHubID(gh.GetNumber()),
		Title:  gh.GetTitle(),
		Body:   gh.GetBody(),
		Labels: issue.CleanLabels(labels),
		State:  gh.GetState(),
		Metadata: map[string]any{
			"number":   int64(gh.GetNumber()),
			"url":      gh.GetHTMLURL(),
			"user":     gh.GetUser().GetLogin(),
			"comments": int64(gh.GetComments()),
		},
	}
	if created := gh.GetCreatedAt(); !created.IsZero() {
		rec.CreatedAt = created.UTC().Format(time.RFC3339)
	}
	return rec
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
