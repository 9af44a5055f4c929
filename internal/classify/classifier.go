// Package classify assigns one of the configured labels to an issue using a
// chat model behind an OpenAI-compatible endpoint (OpenAI, Ollama, vLLM).
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"

	"github.com/mike-a-ellis/issue-search/internal/labels"
)

const (
	// DefaultModel is a small local model served by Ollama.
	DefaultModel = "llama3.2"

	// DefaultMaxTokens is the maximum body length before truncation (in tokens).
	DefaultMaxTokens = 4000
)

// ErrUnknownLabel is returned when the model answers with a label that is not configured.
var ErrUnknownLabel = errors.New("model returned an unknown label")

// LabelSource lists the labels an issue may be classified into.
type LabelSource interface {
	List() ([]labels.Label, error)
}

// Classification is the model's answer.
type Classification struct {
	Label     string `json:"label"`
	Reasoning string `json:"reasoning"`
}

// Classifier labels issues with a chat completion model.
type Classifier struct {
	client    *openai.Client
	labels    LabelSource
	model     string
	maxTokens int
	logger    *slog.Logger
}

// Config selects the chat model and body truncation limit.
type Config struct {
	Model     string
	MaxTokens int
}

// NewClassifier creates a classifier with the given OpenAI-compatible client.
func NewClassifier(client *openai.Client, source LabelSource, cfg Config, logger *slog.Logger) *Classifier {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		client:    client,
		labels:    source,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

// ModelName returns the chat model identifier.
func (c *Classifier) ModelName() string { return c.model }

// Classify asks the model for the best label for an issue.
func (c *Classifier) Classify(ctx context.Context, title, body string) (*Classification, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("title must not be empty")
	}

	configured, err := c.labels.List()
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	if len(configured) == 0 {
		return nil, errors.New("no labels configured")
	}

	system, user := buildPrompt(configured, title, c.truncateContent(body))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	result, err := parseResponse(resp.Choices[0].Message.Content, configured)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("classified issue", "title", title, "label", result.Label)
	return result, nil
}

// parseResponse decodes the model output and maps the label onto its configured spelling.
func parseResponse(content string, configured []labels.Label) (*Classification, error) {
	var result Classification
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	name, err := matchLabel(result.Label, configured)
	if err != nil {
		return nil, err
	}
	result.Label = name
	return &result, nil
}

// matchLabel maps a model answer onto its configured spelling.
func matchLabel(answer string, configured []labels.Label) (string, error) {
	trimmed := strings.TrimSpace(answer)
	for _, l := range configured {
		if strings.EqualFold(l.Name, trimmed) {
			return l.Name, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLabel, answer)
}

func buildPrompt(configured []labels.Label, title, body string) (system, user string) {
	names := make([]string, len(configured))
	var explanations strings.Builder
	for i, l := range configured {
		names[i] = fmt.Sprintf("%q", l.Name)
		fmt.Fprintf(&explanations, "The %q label: %s\n", l.Name, l.Description)
	}
	list := strings.Join(names, ", ")

	system = "You are an expert at triaging GitHub issues. You answer with JSON only."
	user = fmt.Sprintf(`Classify the GitHub issue below with exactly one of these labels: %s.

%s
Issue title: %s

Issue body:
%s

Respond in JSON format:
{"label": one of %s, "reasoning": "one or two sentences"}`, list, explanations.String(), title, body, list)
	return system, user
}

// truncateContent truncates content to fit within token limits.
// Uses rough estimate of 4 characters per token.
func (c *Classifier) truncateContent(content string) string {
	maxChars := c.maxTokens * 4
	if len(content) <= maxChars {
		return content
	}

	c.logger.Warn("Truncating issue body",
		"from_chars", len(content),
		"to_chars", maxChars,
		"max_tokens", c.maxTokens,
	)
	// Cut on a rune boundary.
	for maxChars > 0 && !utf8.RuneStart(content[maxChars]) {
		maxChars--
	}
	return content[:maxChars]
}
