package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexmem/internal/cortextypes"
)

func TestVIDDeterministic(t *testing.T) {
	a := VID("cortex://session/t1/timeline", cortextypes.LayerAbstract)
	b := VID("cortex://session/t1/timeline", cortextypes.LayerAbstract)
	assert.Equal(t, a, b)

	c := VID("cortex://session/t1/timeline", cortextypes.LayerOverview)
	assert.NotEqual(t, a, c)
}

func TestMemoryStoreUpsertAndGet(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	rec := Record{ID: "id1", Embedding: []float32{1, 0, 0}, Content: "hello"}
	require.NoError(t, s.Upsert(ctx, rec))

	got, ok, err := s.Get(ctx, "id1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
}

func TestMemoryStoreSearchRanksBySimilarity(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, Record{ID: "close", Embedding: []float32{1, 0, 0}}))
	require.NoError(t, s.Upsert(ctx, Record{ID: "far", Embedding: []float32{0, 1, 0}}))

	results, err := s.Search(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0].ID)
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, Record{ID: "id1", Embedding: []float32{1, 0, 0}}))
	require.NoError(t, s.Delete(ctx, "id1"))
	_, ok, err := s.Get(ctx, "id1")
	require.NoError(t, err)
	assert.False(t, ok)
}
