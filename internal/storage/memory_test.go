package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id string, vec ...float32) Entry {
	return Entry{
		ID:       id,
		Vector:   vec,
		Document: id + "\n\nbody",
		Metadata: map[string]any{"title": id, "state": "open", "labels": "bug"},
	}
}

func TestMemoryIndex_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex("", 2)

	require.NoError(t, idx.Upsert(ctx, []Entry{entry("a", 1, 0), entry("b", 0, 1)}))
	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	replaced := entry("a", 0, 1)
	replaced.Document = "a\n\nnew body"
	require.NoError(t, idx.Upsert(ctx, []Entry{replaced}))

	count, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "re-upserting an id must not add an entry")

	got, err := idx.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a\n\nnew body", got.Document)
}

func TestMemoryIndex_QueryOrderAndClamp(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex("", 2)
	require.NoError(t, idx.Upsert(ctx, []Entry{
		entry("far", -1, 0),
		entry("near", 1, 0.1),
		entry("mid", 0, 1),
	}))

	hits, err := idx.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3, "k is clamped to the index size")
	assert.Equal(t, "near", hits[0].ID)
	assert.Equal(t, "mid", hits[1].ID)
	assert.Equal(t, "far", hits[2].ID)
	assert.InDelta(t, 2.0, hits[2].Distance, 1e-9)

	hits, err = idx.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestMemoryIndex_EmptyQuery(t *testing.T) {
	idx := NewMemoryIndex("", 3)

	hits, err := idx.Query(context.Background(), []float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestMemoryIndex_DimensionValidation(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex("", 2)

	err := idx.Upsert(ctx, []Entry{entry("a", 1, 2, 3)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	require.NoError(t, idx.Upsert(ctx, []Entry{entry("a", 1, 2)}))
	_, err = idx.Query(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMemoryIndex_GetNotFoundAndClear(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex("issues", 2)
	require.NoError(t, idx.Upsert(ctx, []Entry{entry("a", 1, 0)}))

	_, err := idx.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, idx.Clear(ctx))
	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, "issues", idx.Name())
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0.0, CosineDistance([]float32{1, 1}, []float32{2, 2}), 1e-9)
	assert.InDelta(t, 1.0, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 1.0, CosineDistance([]float32{0, 0}, []float32{0, 1}))
}
