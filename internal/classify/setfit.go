package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultSetFitTimeout bounds each request to the SetFit server.
const DefaultSetFitTimeout = 30 * time.Second

// SetFitConfig configures the SetFit inference client.
type SetFitConfig struct {
	// BaseURL of a SetFit model server exposing POST /classify.
	BaseURL string

	// Model selects one of the server's configured models. Empty uses its default.
	Model string

	Timeout time.Duration
}

// IssueText is the part of an issue a SetFit model reads.
type IssueText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// SetFitClient classifies issues with a fine-tuned SetFit model served over HTTP.
// Predicted labels are checked against the configured label set.
type SetFitClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	labels     LabelSource
}

type setfitRequest struct {
	Issues    []IssueText `json:"issues"`
	ModelName string      `json:"model_name,omitempty"`
}

type setfitIssue struct {
	Title          string `json:"title"`
	Classification string `json:"classification"`
}

// NewSetFitClient creates a SetFit client. BaseURL is required.
func NewSetFitClient(source LabelSource, cfg SetFitConfig) (*SetFitClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("setfit: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSetFitTimeout
	}
	return &SetFitClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		labels:     source,
	}, nil
}

// Classify predicts the label of a single issue.
func (c *SetFitClient) Classify(ctx context.Context, title, body string) (*Classification, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("title must not be empty")
	}
	predicted, err := c.ClassifyBatch(ctx, []IssueText{{Title: title, Body: body}})
	if err != nil {
		return nil, err
	}
	return &Classification{Label: predicted[0]}, nil
}

// ClassifyBatch returns one configured label per issue, in input order.
func (c *SetFitClient) ClassifyBatch(ctx context.Context, issues []IssueText) ([]string, error) {
	if len(issues) == 0 {
		return []string{}, nil
	}

	configured, err := c.labels.List()
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	if len(configured) == 0 {
		return nil, errors.New("no labels configured")
	}

	body, err := json.Marshal(setfitRequest{Issues: issues, ModelName: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("setfit error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var classified []setfitIssue
	if err := json.NewDecoder(resp.Body).Decode(&classified); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(classified) != len(issues) {
		return nil, fmt.Errorf("setfit returned %d predictions for %d issues", len(classified), len(issues))
	}

	out := make([]string, len(classified))
	for i, p := range classified {
		name, err := matchLabel(p.Classification, configured)
		if err != nil {
			return nil, err
		}
		out[i] = name
	}
	return out, nil
}
