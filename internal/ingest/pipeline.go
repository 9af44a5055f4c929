package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/mike-a-ellis/issue-search/internal/issue"
	"github.com/mike-a-ellis/issue-search/internal/markdown"
	"github.com/mike-a-ellis/issue-search/internal/storage"
)

// DefaultBatchSize bounds how many issues are embedded and upserted per request.
const DefaultBatchSize = 100

// Embedder maps texts to vectors, preserving order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// PipelineConfig tunes the ingestion pipeline.
type PipelineConfig struct {
	BatchSize int

	// Outliner, when set, stores the heading outline of each body under
	// the markdown.MetadataKey metadata key.
	Outliner *markdown.Outliner
}

// Pipeline validates issues, embeds them in batches and upserts them into the index.
type Pipeline struct {
	index     storage.Index
	embedder  Embedder
	outliner  *markdown.Outliner
	batchSize int
	logger    *slog.Logger
}

// NewPipeline creates a new ingestion pipeline with the given components.
func NewPipeline(index storage.Index, embedder Embedder, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		index:     index,
		embedder:  embedder,
		outliner:  cfg.Outliner,
		batchSize: cfg.BatchSize,
		logger:    logger,
	}
}

// Ingest writes issues to the index. Invalid records and failed batches are
// logged and counted; later batches still run.
func (p *Pipeline) Ingest(ctx context.Context, issues []issue.Issue) Report {
	start := time.Now()
	var report Report

	valid := make([]issue.Issue, 0, len(issues))
	for _, iss := range issues {
		iss.Metadata = maps.Clone(iss.Metadata)
		if err := iss.Validate(); err != nil {
			p.logger.Warn("Skipping invalid issue", "id", iss.ID, "error", err)
			report.Reject(1, "%v", err)
			continue
		}
		p.addOutline(&iss)
		valid = append(valid, iss)
	}

	for i := 0; i < len(valid); i += p.batchSize {
		end := min(i+p.batchSize, len(valid))
		batch := valid[i:end]

		if err := ctx.Err(); err != nil {
			report.Reject(len(valid)-i, "batch %d-%d: %v", i, len(valid), err)
			break
		}

		if err := p.writeBatch(ctx, batch); err != nil {
			p.logger.Warn("Failed to index batch", "start", i, "end", end, "error", err)
			report.FailBatch(len(batch), err, "batch %d-%d: %v", i, end, err)
			continue
		}
		report.Accepted += len(batch)
		p.logger.Debug("Indexed batch", "start", i, "end", end)
	}

	report.Duration = time.Since(start)
	p.logger.Info("Ingestion complete",
		"accepted", report.Accepted,
		"rejected", report.Rejected,
		"duration", report.Duration,
	)
	return report
}

func (p *Pipeline) writeBatch(ctx context.Context, batch []issue.Issue) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Document()
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vectors))
	}

	entries := make([]storage.Entry, len(batch))
	for i := range batch {
		document, metadata := batch[i].Flatten()
		entries[i] = storage.Entry{
			ID:       batch[i].ID,
			Vector:   vectors[i],
			Document: document,
			Metadata: metadata,
		}
	}
	return p.index.Upsert(ctx, entries)
}

func (p *Pipeline) addOutline(iss *issue.Issue) {
	if p.outliner == nil || iss.Body == "" {
		return
	}
	sections, err := p.outliner.Sections(iss.Body)
	if err != nil {
		p.logger.Debug("Outline failed, skipping", "id", iss.ID, "error", err)
		return
	}
	if sections == "" {
		return
	}
	if iss.Metadata == nil {
		iss.Metadata = make(map[string]any)
	}
	iss.Metadata[markdown.MetadataKey] = sections
}
