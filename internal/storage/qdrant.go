package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mike-a-ellis/issue-search/internal/issue"
)

// pointNamespace seeds the deterministic UUIDs used as Qdrant point ids.
// Qdrant only accepts UUIDs or unsigned integers, so issue ids are mapped
// through UUIDv5 and the original id is kept in the payload.
var pointNamespace = uuid.MustParse("6f1c2f7e-3c1b-4c55-9a4e-1f0d8f4e2a17")

// QdrantConfig configures the Qdrant connection and collection layout.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
	BatchSize  int
}

// QdrantIndex implements Index on a single Qdrant collection with cosine distance.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	batchSize  int
}

var _ Index = (*QdrantIndex)(nil)

// NewQdrantIndex connects to Qdrant and validates health with retry.
// It fails fast if Qdrant stays unreachable.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant: vector dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	idx := &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		batchSize:  cfg.BatchSize,
	}

	if err := idx.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrIndexUnreachable, err)
	}

	return idx, nil
}

// newRetryBackoff is shared by health checks and upserts.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(b, ctx)
}

func (q *QdrantIndex) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error {
		return q.Health(ctx)
	}, newRetryBackoff(ctx))
}

// Name returns the collection name.
func (q *QdrantIndex) Name() string {
	return q.collection
}

// Health performs a single health check against Qdrant.
func (q *QdrantIndex) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection and its payload indexes when missing.
// Idempotent.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == q.collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for _, field := range []string{issue.KeyIssueID, issue.KeyState} {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

// Clear drops and recreates the collection. Concurrent reads see an empty
// index while the collection is missing.
func (q *QdrantIndex) Clear(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return q.EnsureCollection(ctx)
}

// Close closes the Qdrant client connection.
func (q *QdrantIndex) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// collectionMissing reports whether err is Qdrant's answer for an absent collection.
func collectionMissing(err error) bool {
	return status.Code(err) == codes.NotFound
}

// PointID maps an issue id to its Qdrant point id.
func PointID(issueID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(issueID)).String()
}

func (q *QdrantIndex) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	return backoff.Retry(func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if collectionMissing(err) {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrCollectionMissing, err))
		}
		return err
	}, newRetryBackoff(ctx))
}

// Upsert writes entries in batches. Entries sharing an id replace each other.
func (q *QdrantIndex) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	for i, e := range entries {
		if len(e.Vector) != q.dimension {
			return fmt.Errorf("%w: entry %d (%s) has %d dimensions, expected %d",
				ErrDimensionMismatch, i, e.ID, len(e.Vector), q.dimension)
		}
	}

	for i := 0; i < len(entries); i += q.batchSize {
		end := min(i+q.batchSize, len(entries))

		batch := entries[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, e := range batch {
			payload := make(map[string]any, len(e.Metadata)+2)
			for k, v := range e.Metadata {
				payload[k] = v
			}
			payload[issue.KeyIssueID] = e.ID
			payload[issue.KeyDocument] = e.Document

			points[j] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(PointID(e.ID)),
				Vectors: qdrant.NewVectors(e.Vector...),
				Payload: qdrant.NewValueMap(payload),
			}
		}

		if err := q.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// Count returns the exact number of indexed issues. A missing collection
// counts as empty.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if collectionMissing(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// Query returns up to k nearest neighbours. k is clamped to the current count.
// Qdrant reports cosine similarity; it is converted to a distance as 1 - score.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if len(vector) != q.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), q.dimension)
	}

	count, err := q.Count(ctx)
	if err != nil {
		return nil, err
	}
	k = min(k, count)
	if k <= 0 {
		return []Hit{}, nil
	}

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if collectionMissing(err) {
		return []Hit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Entry:    entryFromPayload(r.Payload),
			Distance: 1 - float64(r.Score),
		})
	}
	return hits, nil
}

// Get retrieves a single issue entry. Returns ErrNotFound for unknown ids.
func (q *QdrantIndex) Get(ctx context.Context, id string) (*Entry, error) {
	result, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(PointID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if collectionMissing(err) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, ErrCollectionMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get point: %w", err)
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}

	e := entryFromPayload(result[0].Payload)
	if e.ID == "" {
		e.ID = id
	}
	return &e, nil
}

// entryFromPayload splits a point payload back into id, document and scalar metadata.
func entryFromPayload(payload map[string]*qdrant.Value) Entry {
	e := Entry{Metadata: make(map[string]any, len(payload))}
	for k, v := range payload {
		switch k {
		case issue.KeyIssueID:
			e.ID = v.GetStringValue()
		case issue.KeyDocument:
			e.Document = v.GetStringValue()
		default:
			if scalar, ok := scalarValue(v); ok {
				e.Metadata[k] = scalar
			}
		}
	}
	return e
}

func scalarValue(v *qdrant.Value) (any, bool) {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue, true
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue, true
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue, true
	default:
		return nil, false
	}
}
