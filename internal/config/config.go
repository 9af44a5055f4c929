// Package config loads service configuration from optional YAML files and
// environment variables. Precedence: environment, then later files, then
// earlier files, then `default` tags.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Index backends.
const (
	BackendQdrant = "qdrant"
	BackendMemory = "memory"
)

// Config is the full service configuration.
type Config struct {
	Port       int    `yaml:"port" default:"8000" validate:"min=1,max=65535"`
	LogLevel   string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	// Optional values that may legitimately be false or zero are pointers, so
	// a later file can reset what an earlier one set. Read them through the
	// accessor methods.
	ServerMode *bool `yaml:"server_mode"`

	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	LLM       LLMConfig       `yaml:"llm"`
	SetFit    SetFitConfig    `yaml:"setfit"`
	GitHub    GitHubConfig    `yaml:"github"`
	Sources   SourceConfig    `yaml:"sources"`
	Client    ClientConfig    `yaml:"client"`
}

type IndexConfig struct {
	Backend    string `yaml:"backend" default:"qdrant" validate:"oneof=qdrant memory"`
	Host       string `yaml:"host" default:"localhost" validate:"required"`
	Port       int    `yaml:"port" default:"6334" validate:"min=1,max=65535"`
	APIKey     string `yaml:"api_key"`
	UseTLS     *bool  `yaml:"use_tls"`
	Collection string `yaml:"collection" default:"github_issues" validate:"required"`
	BatchSize  int    `yaml:"batch_size" default:"100" validate:"min=1"`
	// Timeout bounds each index call made while serving a search.
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

type EmbeddingConfig struct {
	// BaseURL of an OpenAI-compatible API. Empty means api.openai.com.
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model" default:"text-embedding-3-small" validate:"required"`
	Dimension int           `yaml:"dimension" default:"1536" validate:"min=1"`
	BatchSize int           `yaml:"batch_size" default:"500" validate:"min=1,max=2048"`
	Timeout   time.Duration `yaml:"timeout" default:"30s"`
}

type RerankConfig struct {
	BaseURL string        `yaml:"base_url" default:"http://localhost:8081" validate:"required,url"`
	Model   string        `yaml:"model" default:"cross-encoder/ms-marco-MiniLM-L-6-v2"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

type LLMConfig struct {
	BaseURL   string `yaml:"base_url" default:"http://localhost:11434/v1" validate:"required,url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model" default:"llama3.2"`
	MaxTokens int    `yaml:"max_tokens" default:"4000" validate:"min=1"`
}

// SetFitConfig points /classify at a SetFit inference server instead of the LLM.
type SetFitConfig struct {
	// BaseURL empty keeps the LLM classifier.
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

type GitHubConfig struct {
	Token             string  `yaml:"token"`
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"2"`
	MinRemaining      int     `yaml:"min_remaining" default:"10"`
}

type SourceConfig struct {
	CSVDir          string `yaml:"csv_dir" default:"data"`
	LabelsFile      string `yaml:"labels_file" default:"config/labels.yaml"`
	IngestBatchSize int    `yaml:"ingest_batch_size" default:"100" validate:"min=1"`
	// OutlineDepth limits the heading levels stored as body outline; 0 disables it.
	OutlineDepth *int `yaml:"outline_depth" validate:"omitempty,min=0,max=6"`
}

// DefaultOutlineDepth applies when no outline_depth is configured.
const DefaultOutlineDepth = 3

// InServerMode reports whether MCP is served over HTTP only.
func (c *Config) InServerMode() bool { return c.ServerMode != nil && *c.ServerMode }

// TLS reports whether the Qdrant connection uses TLS.
func (c IndexConfig) TLS() bool { return c.UseTLS != nil && *c.UseTLS }

// Outline returns the configured outline depth.
func (c SourceConfig) Outline() int {
	if c.OutlineDepth == nil {
		return DefaultOutlineDepth
	}
	return *c.OutlineDepth
}

type ClientConfig struct {
	ServiceURL string `yaml:"service_url" default:"http://localhost:8000" validate:"required,url"`
}

// Load reads the given YAML files in order, applies environment overrides,
// fills defaults and validates the result.
func Load(files ...string) (*Config, error) {
	var cfg Config
	if err := loadFiles(files, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	defaults.SetDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FilesFromEnv returns the comma-separated CONFIG_FILES list.
func FilesFromEnv() []string {
	var files []string
	for _, f := range strings.Split(os.Getenv("CONFIG_FILES"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}

func loadFiles(files []string, target *Config) error {
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		// Decode each file into a fresh value; yaml alone would not deep-merge.
		layer := reflect.New(reflect.TypeOf(target).Elem()).Interface()
		if err := yaml.Unmarshal(raw, layer); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		// WithoutDereference lets an explicit false or 0 override an earlier layer.
		if err := mergo.Merge(target, layer, mergo.WithOverride, mergo.WithoutDereference); err != nil {
			return fmt.Errorf("merge config %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks the `validate` tags of cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setInt(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setBool(&cfg.ServerMode, "SERVER_MODE")

	setString(&cfg.Index.Backend, "INDEX_BACKEND")
	setString(&cfg.Index.Host, "QDRANT_HOST")
	setInt(&cfg.Index.Port, "QDRANT_PORT")
	setString(&cfg.Index.APIKey, "QDRANT_API_KEY")
	setBool(&cfg.Index.UseTLS, "QDRANT_USE_TLS")
	setString(&cfg.Index.Collection, "COLLECTION_NAME")

	setString(&cfg.Embedding.BaseURL, "EMBEDDING_BASE_URL")
	setString(&cfg.Embedding.APIKey, "OPENAI_API_KEY")
	setString(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&cfg.Embedding.Dimension, "EMBEDDING_DIMENSION")

	setString(&cfg.Rerank.BaseURL, "RERANKER_URL")
	setString(&cfg.Rerank.Model, "RERANKER_MODEL")

	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.LLM.Model, "LLM_MODEL")

	setString(&cfg.SetFit.BaseURL, "SETFIT_URL")
	setString(&cfg.SetFit.Model, "SETFIT_MODEL")

	setString(&cfg.GitHub.Token, "GITHUB_TOKEN")

	setString(&cfg.Sources.CSVDir, "CSV_DIR")
	setString(&cfg.Sources.LabelsFile, "LABELS_FILE")

	setString(&cfg.Client.ServiceURL, "VECTOR_STORE_URL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst **bool, key string) {
	if v := os.Getenv(key); v != "" {
		b := v == "true"
		*dst = &b
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

// NewLogger builds the process logger at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
