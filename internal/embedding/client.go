package embedding

import (
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ClientConfig selects the OpenAI-compatible endpoint serving embeddings.
// An empty BaseURL means the public OpenAI API, which requires an API key.
// Local runners (Ollama, text-embeddings-inference) accept any key.
type ClientConfig struct {
	APIKey  string
	BaseURL string
}

// Client wraps the OpenAI client for embedding generation.
type Client struct {
	client *openai.Client
}

// NewClient creates an OpenAI-compatible client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" && cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{
		// Retries are handled by the embedder (429 only).
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		opts = append(opts, option.WithAPIKey("unused"))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)
	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client for use in other packages (e.g., classification).
func (c *Client) Client() *openai.Client {
	return c.client
}
