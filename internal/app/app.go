// Package app builds the process-wide components from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mike-a-ellis/issue-search/internal/api"
	"github.com/mike-a-ellis/issue-search/internal/classify"
	"github.com/mike-a-ellis/issue-search/internal/config"
	"github.com/mike-a-ellis/issue-search/internal/embedding"
	"github.com/mike-a-ellis/issue-search/internal/ingest"
	"github.com/mike-a-ellis/issue-search/internal/labels"
	"github.com/mike-a-ellis/issue-search/internal/markdown"
	"github.com/mike-a-ellis/issue-search/internal/rerank"
	"github.com/mike-a-ellis/issue-search/internal/search"
	"github.com/mike-a-ellis/issue-search/internal/service"
	"github.com/mike-a-ellis/issue-search/internal/storage"
)

// App holds the initialized components. Close releases the index connection.
type App struct {
	Index      storage.Index
	Embedder   *embedding.Embedder
	Reranker   *rerank.Client
	Pipeline   *ingest.Pipeline
	Engine     *search.Engine
	Service    *service.Service
	Labels     *labels.Store
	Classifier *classify.Classifier
	// SetFit is nil unless a SetFit server is configured.
	SetFit *classify.SetFitClient
}

// New connects to the index and the model endpoints described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	embeddingClient, err := embedding.NewClient(embedding.ClientConfig{
		APIKey:  cfg.Embedding.APIKey,
		BaseURL: cfg.Embedding.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(embeddingClient, embedding.Config{
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
	})

	reranker, err := rerank.NewClient(rerank.Config{
		BaseURL: cfg.Rerank.BaseURL,
		Model:   cfg.Rerank.Model,
		Timeout: cfg.Rerank.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reranker: %w", err)
	}

	index, err := newIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var outliner *markdown.Outliner
	if depth := cfg.Sources.Outline(); depth > 0 {
		outliner = markdown.NewOutliner(depth)
	}
	pipeline := ingest.NewPipeline(index, embedder, ingest.PipelineConfig{
		BatchSize: cfg.Sources.IngestBatchSize,
		Outliner:  outliner,
	}, logger)

	engine := search.NewEngine(index, embedder, reranker, search.Config{
		EmbedTimeout:  cfg.Embedding.Timeout,
		RerankTimeout: reranker.Timeout(),
		IndexTimeout:  cfg.Index.Timeout,
	}, logger)

	svc := service.New(index, engine, pipeline, service.Config{
		CSVDir:         cfg.Sources.CSVDir,
		EmbeddingModel: embedder.ModelName(),
		RerankerModel:  reranker.ModelName(),
	}, logger)

	store := labels.NewStore(cfg.Sources.LabelsFile)

	llmClient, err := embedding.NewClient(embedding.ClientConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	classifier := classify.NewClassifier(llmClient.Client(), store, classify.Config{
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
	}, logger)

	var setfit *classify.SetFitClient
	if cfg.SetFit.BaseURL != "" {
		setfit, err = classify.NewSetFitClient(store, classify.SetFitConfig{
			BaseURL: cfg.SetFit.BaseURL,
			Model:   cfg.SetFit.Model,
			Timeout: cfg.SetFit.Timeout,
		})
		if err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("failed to create SetFit client: %w", err)
		}
	}

	return &App{
		Index:      index,
		Embedder:   embedder,
		Reranker:   reranker,
		Pipeline:   pipeline,
		Engine:     engine,
		Service:    svc,
		Labels:     store,
		Classifier: classifier,
		SetFit:     setfit,
	}, nil
}

// IssueClassifier returns the SetFit client when one is configured and the
// LLM classifier otherwise.
func (a *App) IssueClassifier() api.Classifier {
	if a.SetFit != nil {
		return a.SetFit
	}
	return a.Classifier
}

// Close releases the index connection.
func (a *App) Close() error {
	return a.Index.Close()
}

func newIndex(ctx context.Context, cfg *config.Config) (storage.Index, error) {
	switch cfg.Index.Backend {
	case config.BackendMemory:
		return storage.NewMemoryIndex(cfg.Index.Collection, cfg.Embedding.Dimension), nil
	case config.BackendQdrant:
		index, err := storage.NewQdrantIndex(ctx, storage.QdrantConfig{
			Host:       cfg.Index.Host,
			Port:       cfg.Index.Port,
			APIKey:     cfg.Index.APIKey,
			UseTLS:     cfg.Index.TLS(),
			Collection: cfg.Index.Collection,
			Dimension:  cfg.Embedding.Dimension,
			BatchSize:  cfg.Index.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		if err := index.EnsureCollection(ctx); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("failed to ensure collection: %w", err)
		}
		return index, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}
