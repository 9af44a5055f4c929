package github

import (
	"net/http"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// Client wraps the GitHub API client with rate limiting support
type Client struct {
	*github.Client
}

// NewClient creates a new GitHub client with optional authentication and rate limiting.
// An empty token gives an unauthenticated client (60 requests/hour).
// Secondary rate limits are handled by waiting and retrying.
func NewClient(token string) (*Client, error) {
	return newClient(nil, token)
}

func newClient(base http.RoundTripper, token string) (*Client, error) {
	// Handles both primary rate limits (5000 req/hour authenticated, 60 unauthenticated)
	// and secondary rate limits (abuse detection) with automatic retry
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(base)
	if err != nil {
		return nil, err
	}

	ghClient := github.NewClient(rateLimiter)
	if token != "" {
		ghClient = ghClient.WithAuthToken(token)
	}

	return &Client{Client: ghClient}, nil
}
