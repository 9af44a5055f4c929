package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-github/v81/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestFetcher points a fetcher at srv and records pauses instead of sleeping.
func newTestFetcher(t *testing.T, srv *httptest.Server, slept *[]time.Duration) *IssueFetcher {
	t.Helper()

	client, err := newClient(nil, "test-token")
	require.NoError(t, err)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	f := NewIssueFetcher(client, FetcherConfig{RequestsPerSecond: 1000}, nil)
	f.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return f
}

func issueJSON(number int, title string, pr bool) string {
	extra := ""
	if pr {
		extra = fmt.Sprintf(`,"pull_request":{"url":"https://api.github.com/repos/o/r/pulls/%d"}`, number)
	}
	return fmt.Sprintf(`{
		"number": %d,
		"title": %q,
		"body": "body %d",
		"state": "open",
		"html_url": "https://github.com/o/r/issues/%d",
		"comments": 2,
		"created_at": "2024-03-01T10:00:00Z",
		"user": {"login": "octocat"},
		"labels": [{"name": "bug"}, {"name": " ui "}]%s
	}`, number, title, number, number, extra)
}

func TestFetch_PaginatesAndSkipsPullRequests(t *testing.T) {
	reset := time.Now().Add(30 * time.Second).Unix()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/o/r/issues", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		assert.Equal(t, "all", r.URL.Query().Get("state"))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

		switch r.URL.Query().Get("page") {
		case "1":
			w.Header().Set("X-RateLimit-Remaining", "3")
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/o/r/issues?page=2&per_page=100&state=all>; rel="next"`, "http://"+r.Host))
			fmt.Fprintf(w, "[%s,%s]", issueJSON(3, "third", false), issueJSON(2, "a pull request", true))
		case "2":
			w.Header().Set("X-RateLimit-Remaining", "2")
			fmt.Fprintf(w, "[%s]", issueJSON(1, "first", false))
		default:
			http.Error(w, "unexpected page", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	var slept []time.Duration
	f := newTestFetcher(t, srv, &slept)

	var progress []int
	issues, err := f.Fetch(context.Background(), FetchOptions{
		Owner:    "o",
		Repo:     "r",
		Progress: func(n int) { progress = append(progress, n) },
	})
	require.NoError(t, err)

	require.Len(t, issues, 2)
	assert.Equal(t, "github-3", issues[0].ID)
	assert.Equal(t, "github-1", issues[1].ID)
	assert.Equal(t, []int{1, 2}, progress)

	// Remaining quota of 3 is below the threshold, so the fetcher waits for the reset.
	require.Len(t, slept, 1)
	assert.Greater(t, slept[0], 20*time.Second)
}

func TestFetch_StopsAtMaxIssues(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/o/r/issues?page=2>; rel="next"`, "http://"+r.Host))
		fmt.Fprintf(w, "[%s,%s,%s]", issueJSON(9, "a", false), issueJSON(8, "b", false), issueJSON(7, "c", false))
	}))
	defer srv.Close()

	var slept []time.Duration
	f := newTestFetcher(t, srv, &slept)

	issues, err := f.Fetch(context.Background(), FetchOptions{Owner: "o", Repo: "r", MaxIssues: 2})
	require.NoError(t, err)
	assert.Len(t, issues, 2)
	assert.Equal(t, 1, requests)
	assert.Empty(t, slept)
}

func TestFetch_RequiresRepo(t *testing.T) {
	f := NewIssueFetcher(&Client{Client: github.NewClient(nil)}, FetcherConfig{}, nil)
	_, err := f.Fetch(context.Background(), FetchOptions{Owner: "o"})
	assert.Error(t, err)
}

func TestToIssue(t *testing.T) {
	created := github.Timestamp{Time: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	gh := &github.Issue{
		Number:    github.Ptr(42),
		Title:     github.Ptr("Crash on save"),
		Body:      github.Ptr("### Steps\n\nclick"),
		State:     github.Ptr("closed"),
		HTMLURL:   github.Ptr("https://github.com/o/r/issues/42"),
		Comments:  github.Ptr(5),
		CreatedAt: &created,
		User:      &github.User{Login: github.Ptr("octocat")},
		Labels: []*github.Label{
			{Name: github.Ptr("bug")},
			{Name: github.Ptr("bug")},
			{Name: github.Ptr("")},
		},
	}

	iss := ToIssue(gh)
	assert.Equal(t, "github-42", iss.ID)
	assert.Equal(t, "Crash on save", iss.Title)
	assert.Equal(t, "closed", iss.State)
	assert.Equal(t, []string{"bug"}, iss.Labels)
	assert.Equal(t, "2024-03-01T10:00:00Z", iss.CreatedAt)
	assert.Equal(t, int64(42), iss.Metadata["number"])
	assert.Equal(t, "octocat", iss.Metadata["user"])
	assert.Equal(t, int64(5), iss.Metadata["comments"])
	assert.Equal(t, "https://github.com/o/r/issues/42", iss.Metadata["url"])
	require.NoError(t, iss.Validate())
}
