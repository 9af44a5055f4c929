package storage

import "context"

// DefaultCollection is the collection holding all indexed issues.
const DefaultCollection = "github_issues"

// DefaultBatchSize bounds the number of points sent in a single upsert request.
const DefaultBatchSize = 100

// Entry is one indexed issue: its id, embedding, the stored document text
// and a flat map of scalar metadata (string, int64, float64 values only).
type Entry struct {
	ID       string
	Vector   []float32
	Document string
	Metadata map[string]any
}

// Hit is an entry returned from a nearest-neighbour query.
// Distance is a cosine distance, 0 for identical direction.
type Hit struct {
	Entry
	Distance float64
}

// Index is a persistent nearest-neighbour store keyed by issue id.
//
// Upsert is idempotent: writing an id twice replaces the earlier entry.
// Query never returns more entries than are indexed and returns an empty
// slice for an empty index.
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Count(ctx context.Context) (int, error)
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Get(ctx context.Context, id string) (*Entry, error)
	Clear(ctx context.Context) error
	Health(ctx context.Context) error
	Name() string
	Close() error
}
