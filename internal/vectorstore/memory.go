package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used by tests for the sync engine,
// retrieval engine, and automation manager, so they can be exercised
// without a live Qdrant instance.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record
	dim  int
}

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{recs: map[string]Record{}, dim: dim}
}

func (m *MemoryStore) Upsert(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, false, nil
	}
	cp := rec
	return &cp, true, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []SearchResult
	for _, rec := range m.recs {
		if !matchesFilter(rec, filter) {
			continue
		}
		results = append(results, SearchResult{
			ID:       rec.ID,
			Score:    cosineSimilarity(embedding, rec.Embedding),
			Content:  rec.Content,
			Metadata: rec.Metadata,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func matchesFilter(rec Record, filter map[string]string) bool {
	for key, val := range filter {
		switch key {
		case "layer":
			layer, _ := rec.Metadata.Custom["layer"].(string)
			if layer != val {
				return false
			}
		case "user_id":
			if rec.Metadata.UserID != val {
				return false
			}
		case "agent_id":
			if rec.Metadata.AgentID != val {
				return false
			}
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (m *MemoryStore) Dimension() int { return m.dim }
func (m *MemoryStore) Close() error   { return nil }

var _ Store = (*MemoryStore)(nil)
