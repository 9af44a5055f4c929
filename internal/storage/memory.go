package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process Index using exact cosine distance.
// Used for local development and tests; contents are lost on restart.
type MemoryIndex struct {
	mu        sync.RWMutex
	name      string
	dimension int
	entries   map[string]Entry
	order     []string // insertion order, for stable ties
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty index. A dimension of 0 accepts any
// vector length, fixed by the first upsert.
func NewMemoryIndex(name string, dimension int) *MemoryIndex {
	if name == "" {
		name = DefaultCollection
	}
	return &MemoryIndex{
		name:      name,
		dimension: dimension,
		entries:   make(map[string]Entry),
	}
}

func (m *MemoryIndex) Name() string { return m.name }

func (m *MemoryIndex) Health(ctx context.Context) error { return nil }

func (m *MemoryIndex) Close() error { return nil }

func (m *MemoryIndex) Upsert(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range entries {
		if m.dimension == 0 {
			m.dimension = len(e.Vector)
		}
		if len(e.Vector) != m.dimension {
			return fmt.Errorf("%w: entry %d (%s) has %d dimensions, expected %d",
				ErrDimensionMismatch, i, e.ID, len(e.Vector), m.dimension)
		}
	}

	for _, e := range entries {
		if _, exists := m.entries[e.ID]; !exists {
			m.order = append(m.order, e.ID)
		}
		m.entries[e.ID] = copyEntry(e)
	}
	return nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 || k <= 0 {
		return []Hit{}, nil
	}
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), m.dimension)
	}

	hits := make([]Hit, 0, len(m.entries))
	for _, id := range m.order {
		e := m.entries[id]
		hits = append(hits, Hit{
			Entry:    copyEntry(e),
			Distance: CosineDistance(vector, e.Vector),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})

	return hits[:min(k, len(hits))], nil
}

func (m *MemoryIndex) Get(ctx context.Context, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := copyEntry(e)
	return &c, nil
}

func (m *MemoryIndex) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]Entry)
	m.order = nil
	return nil
}

// CosineDistance returns 1 - cosine similarity. Zero vectors are treated as
// maximally distant from everything.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func copyEntry(e Entry) Entry {
	c := Entry{
		ID:       e.ID,
		Document: e.Document,
		Vector:   append([]float32(nil), e.Vector...),
		Metadata: make(map[string]any, len(e.Metadata)),
	}
	for k, v := range e.Metadata {
		c.Metadata[k] = v
	}
	return c
}
