// Package main provides the sync CLI for loading GitHub issues into the index
// and querying a running service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mike-a-ellis/issue-search/internal/app"
	"github.com/mike-a-ellis/issue-search/internal/client"
	"github.com/mike-a-ellis/issue-search/internal/config"
	ghclient "github.com/mike-a-ellis/issue-search/internal/github"
	"github.com/mike-a-ellis/issue-search/internal/ingest"
	"github.com/mike-a-ellis/issue-search/internal/issue"
	"github.com/mike-a-ellis/issue-search/internal/search"
	"github.com/mike-a-ellis/issue-search/internal/service"
)

// remoteBatchSize is the number of issues sent per POST /index.
const remoteBatchSize = 50

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "issue-sync",
	Short: "GitHub issue indexing tool",
	Long: `CLI tool for loading GitHub issues into the issue search index and
querying a running vector-store service.

Environment variables:
  QDRANT_HOST       Qdrant hostname (default: localhost)
  QDRANT_PORT       Qdrant gRPC port (default: 6334)
  OPENAI_API_KEY    API key for embeddings
  RERANKER_URL      Cross-encoder rerank endpoint
  GITHUB_TOKEN      GitHub token for higher rate limits (optional)
  VECTOR_STORE_URL  Service URL for remote commands (default: http://localhost:8000)
  CONFIG_FILES      Comma-separated YAML config files`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(config.FilesFromEnv()...)
		if err != nil {
			return err
		}
		logger = cfg.NewLogger(os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Clear the index and reload it from the CSV directory",
	Long: `Clears the collection and reloads every *.csv file in the configured
CSV directory (CSV_DIR). With --remote the running service does the work.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

var csvCmd = &cobra.Command{
	Use:   "csv DIR",
	Short: "Ingest every CSV file in DIR without clearing the index",
	Args:  cobra.ExactArgs(1),
	RunE:  runCSV,
}

var githubCmd = &cobra.Command{
	Use:   "github",
	Short: "Fetch issues from a GitHub repository and index them",
	Long: `Fetches issues (pull requests are skipped) newest first and indexes them.

This command:
1. Pages through the repository issues, pacing requests and waiting for
   the rate limit to reset when the quota runs low
2. Converts each issue to an index record with id github-<number>
3. Embeds and stores them directly, or with --remote sends them to the
   running service in batches of 50`,
	Args: cobra.NoArgs,
	RunE: runGitHub,
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search the running service",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest QUERY",
	Short: "Suggest labels for an issue description",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSuggest,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report the running service health",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

var (
	remote bool

	ghOwner string
	ghRepo  string
	ghState string
	ghMax   int

	searchTopK       int
	searchNoRerank   bool
	searchRerankTopK int
	searchLabels     []string

	suggestTopN int
)

func init() {
	reindexCmd.Flags().BoolVar(&remote, "remote", false, "ask the running service to reindex")

	githubCmd.Flags().StringVar(&ghOwner, "owner", "", "repository owner (required)")
	githubCmd.Flags().StringVar(&ghRepo, "repo", "", "repository name (required)")
	githubCmd.Flags().StringVar(&ghState, "state", "all", "issue state: open, closed or all")
	githubCmd.Flags().IntVar(&ghMax, "max", 0, "maximum number of issues to fetch (0 = all)")
	githubCmd.Flags().BoolVar(&remote, "remote", false, "send issues to the running service")
	_ = githubCmd.MarkFlagRequired("owner")
	_ = githubCmd.MarkFlagRequired("repo")

	searchCmd.Flags().IntVar(&searchTopK, "top-k", search.DefaultTopK, "results without reranking")
	searchCmd.Flags().BoolVar(&searchNoRerank, "no-rerank", false, "skip cross-encoder reranking")
	searchCmd.Flags().IntVar(&searchRerankTopK, "rerank-top-k", search.DefaultRerankTopK, "results after reranking")
	searchCmd.Flags().StringSliceVar(&searchLabels, "label", nil, "keep only issues with one of these labels")

	suggestCmd.Flags().IntVar(&suggestTopN, "consider", search.DefaultConsiderTopN, "similar issues to consider")

	rootCmd.AddCommand(reindexCmd, csvCmd, githubCmd, searchCmd, suggestCmd, healthCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	var (
		res *service.ReindexResult
		err error
	)
	if remote {
		fmt.Printf("Asking %s to reindex...\n", cfg.Client.ServiceURL)
		res, err = client.New(cfg.Client.ServiceURL).Reindex(ctx)
	} else {
		err = withApp(ctx, func(a *app.App) error {
			fmt.Printf("Reindexing %s from %s...\n", a.Service.Collection(), cfg.Sources.CSVDir)
			var rerr error
			res, rerr = a.Service.Reindex(ctx)
			return rerr
		})
	}
	if err != nil {
		return fmt.Errorf("Reindex failed: %w", err)
	}

	fmt.Println()
	fmt.Println(res.Message)
	fmt.Printf("  Indexed issues: %d\n", res.IndexedIssues)
	fmt.Printf("  Rejected: %d\n", res.Rejected)
	printErrors(res.Errors)
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func runCSV(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	fmt.Printf("Reading CSV files from %s...\n", args[0])
	issues, parsed, err := ingest.LoadDir(args[0])
	if err != nil {
		return fmt.Errorf("Failed to read CSV files: %w", err)
	}
	fmt.Printf("  Parsed: %d, rejected: %d\n", parsed.Accepted, parsed.Rejected)
	printErrors(parsed.Errors)
	if len(issues) == 0 {
		return errors.New("no valid issues found")
	}

	return withApp(ctx, func(a *app.App) error {
		res, err := a.Service.Index(ctx, issues)
		if err != nil {
			return fmt.Errorf("Indexing failed: %w", err)
		}
		printIndexResult(res, time.Since(start))
		return nil
	})
}

func runGitHub(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	gh, err := ghclient.NewClient(cfg.GitHub.Token)
	if err != nil {
		return fmt.Errorf("Failed to create GitHub client: %w", err)
	}
	if cfg.GitHub.Token == "" {
		fmt.Println("GITHUB_TOKEN not set, using unauthenticated rate limits")
	}
	fetcher := ghclient.NewIssueFetcher(gh, ghclient.FetcherConfig{
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		MinRemaining:      cfg.GitHub.MinRemaining,
	}, logger)

	fmt.Printf("Fetching %s issues from %s/%s...\n", ghState, ghOwner, ghRepo)
	issues, err := fetcher.Fetch(ctx, ghclient.FetchOptions{
		Owner:     ghOwner,
		Repo:      ghRepo,
		State:     ghState,
		MaxIssues: ghMax,
		Progress: func(n int) {
			fmt.Printf("\r  Fetched: %d", n)
		},
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("Fetch failed: %w", err)
	}
	if len(issues) == 0 {
		fmt.Println("No issues found")
		return nil
	}

	if remote {
		return sendRemote(ctx, issues, start)
	}
	return withApp(ctx, func(a *app.App) error {
		res, err := a.Service.Index(ctx, issues)
		if err != nil {
			return fmt.Errorf("Indexing failed: %w", err)
		}
		printIndexResult(res, time.Since(start))
		return nil
	})
}

func sendRemote(ctx context.Context, issues []issue.Issue, start time.Time) error {
	c := client.New(cfg.Client.ServiceURL)
	total := service.IndexResult{Status: service.StatusSuccess}

	fmt.Printf("Sending %d issues to %s...\n", len(issues), cfg.Client.ServiceURL)
	for i := 0; i < len(issues); i += remoteBatchSize {
		end := min(i+remoteBatchSize, len(issues))
		res, err := c.Index(ctx, issues[i:end])
		if err != nil {
			return fmt.Errorf("Batch %d-%d failed: %w", i, end, err)
		}
		total.Indexed += res.Indexed
		total.Rejected += res.Rejected
		total.TotalIssues = res.TotalIssues
		total.Errors = append(total.Errors, res.Errors...)
		if res.Status != service.StatusSuccess {
			total.Status = res.Status
		}
		fmt.Printf("\r  Sent: %d/%d", end, len(issues))
	}
	fmt.Println()

	printIndexResult(&total, time.Since(start))
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	req := search.NewRequest(strings.Join(args, " "))
	req.TopK = searchTopK
	req.Rerank = !searchNoRerank
	req.RerankTopK = searchRerankTopK
	req.FilterLabels = searchLabels

	res, err := client.New(cfg.Client.ServiceURL).Search(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("Search failed: %w", err)
	}

	fmt.Printf("%d results for %q\n\n", res.TotalResults, res.Query)
	for i, r := range res.Results {
		fmt.Printf("%2d. [%.3f] %s (%s)\n", i+1, r.Score, r.Title, r.ID)
		if len(r.Labels) > 0 {
			fmt.Printf("    labels: %s\n", strings.Join(r.Labels, ", "))
		}
	}
	return nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	res, err := client.New(cfg.Client.ServiceURL).SuggestLabels(cmd.Context(), strings.Join(args, " "), suggestTopN)
	if err != nil {
		return fmt.Errorf("Label suggestion failed: %w", err)
	}

	if len(res.Labels) == 0 {
		fmt.Printf("No labels suggested: %s\n", res.Reason)
		return nil
	}
	fmt.Printf("Suggested labels (from %d similar issues):\n", res.Considered)
	for _, l := range res.Labels {
		fmt.Printf("  - %s (%d)\n", l.Label, l.Count)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	h, err := client.New(cfg.Client.ServiceURL).Health(cmd.Context())
	if h != nil {
		fmt.Printf("Status: %s\n", h.Status)
		fmt.Printf("  Collection: %s\n", h.Collection)
		fmt.Printf("  Indexed issues: %d\n", h.IndexedIssues)
		fmt.Printf("  Embedding model: %s\n", h.EmbeddingModel)
		fmt.Printf("  Reranker model: %s\n", h.RerankerModel)
	}
	if err != nil {
		return fmt.Errorf("Health check failed: %w", err)
	}
	return nil
}

func withApp(ctx context.Context, fn func(a *app.App) error) error {
	fmt.Printf("Connecting to %s index...\n", cfg.Index.Backend)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printIndexResult(res *service.IndexResult, elapsed time.Duration) {
	fmt.Println()
	fmt.Printf("Index %s!\n", res.Status)
	fmt.Printf("  Indexed: %d\n", res.Indexed)
	fmt.Printf("  Rejected: %d\n", res.Rejected)
	fmt.Printf("  Total in collection: %d\n", res.TotalIssues)
	printErrors(res.Errors)
	fmt.Printf("Total time: %s\n", elapsed.Round(time.Millisecond))
}

func printErrors(errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Errors:")
	for _, e := range errs {
		fmt.Printf("  - %s\n", e)
	}
}
