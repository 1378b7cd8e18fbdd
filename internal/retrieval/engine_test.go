package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexmem/internal/config"
	"cortexmem/internal/cortextypes"
	"cortexmem/internal/cortexuri"
	"cortexmem/internal/storage"
	"cortexmem/internal/vectorstore"
)

type keywordEmbedder struct{}

// embed maps a string to a crude 3-dim vector so that "oauth"-flavoured
// text and "database"-flavoured text land far apart under cosine
// similarity, without needing a real embedding backend.
func (keywordEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = embedKeywords(in)
	}
	return out, nil
}

func embedKeywords(s string) []float32 {
	oauth, db, other := float32(0), float32(0), float32(0.01)
	lower := s
	if contains(lower, "oauth") || contains(lower, "authentication") {
		oauth = 1
	}
	if contains(lower, "database") || contains(lower, "postgres") {
		db = 1
	}
	return []float32{oauth, db, other}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		match := true
		for j := 0; j < len(sub); j++ {
			a, b := s[i+j], sub[j]
			if a >= 'A' && a <= 'Z' {
				a += 32
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func retrievalCfg() config.RetrievalConfig {
	return config.RetrievalConfig{TopK: 5, MinScore: 0.1, MaxCandidates: 20, L0Weight: 0.2, L1Weight: 0.3, L2Weight: 0.5}
}

func TestSearchVectorPathRanksMatchingCandidate(t *testing.T) {
	fs, err := storage.New(t.TempDir())
	require.NoError(t, err)
	store := vectorstore.NewMemoryStore(3)
	ctx := context.Background()

	oauthMsg, err := cortexuri.Parse("cortex://session/s1/timeline/2026-03/msg1.md")
	require.NoError(t, err)
	require.NoError(t, fs.Write(oauthMsg, "OAuth 2.0 is a secure authentication protocol."))
	oauthDir := oauthMsg.DirectoryURI()
	require.NoError(t, fs.Write(oauthDir.WithResource(storage.AbstractFile), "OAuth authentication overview"))

	dbMsg, err := cortexuri.Parse("cortex://session/s2/timeline/2026-03/msg1.md")
	require.NoError(t, err)
	require.NoError(t, fs.Write(dbMsg, "PostgreSQL database configuration and schema design."))
	dbDir := dbMsg.DirectoryURI()
	require.NoError(t, fs.Write(dbDir.WithResource(storage.AbstractFile), "Database setup overview"))

	embedder := keywordEmbedder{}
	for _, seed := range []struct {
		uri     *cortexuri.URI
		layer   cortextypes.Layer
		content string
	}{
		{oauthDir, cortextypes.LayerAbstract, "OAuth authentication overview"},
		{dbDir, cortextypes.LayerAbstract, "Database setup overview"},
		{oauthMsg, cortextypes.LayerDetail, "OAuth 2.0 is a secure authentication protocol."},
		{dbMsg, cortextypes.LayerDetail, "PostgreSQL database configuration and schema design."},
	} {
		vec, _ := embedder.Embed(ctx, []string{seed.content})
		require.NoError(t, store.Upsert(ctx, vectorstore.Record{
			ID:       vectorstore.VID(seed.uri.String(), seed.layer),
			Embedding: vec[0],
			Content:  seed.content,
			Metadata: cortextypes.MemoryMetadata{URI: seed.uri.String(), MemoryType: cortextypes.MemoryConversational},
		}))
	}

	engine := NewEngine(fs, store, embedder, retrievalCfg())
	scope, err := cortexuri.Parse("cortex://session")
	require.NoError(t, err)

	result, err := engine.Search(ctx, "OAuth authentication security", scope, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Results)
	assert.Contains(t, result.Results[0].URI, "s1")
	assert.GreaterOrEqual(t, len(result.Trace.Steps), 3)
}

func TestSearchFilesystemOnlyFallback(t *testing.T) {
	fs, err := storage.New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	msg, err := cortexuri.Parse("cortex://session/s1/timeline/2026-03/msg1.md")
	require.NoError(t, err)
	require.NoError(t, fs.Write(msg, "OAuth 2.0 is a secure authentication protocol."))
	require.NoError(t, fs.Write(msg.DirectoryURI().WithResource(storage.AbstractFile), "OAuth authentication overview"))

	engine := NewEngine(fs, nil, nil, retrievalCfg())
	scope, err := cortexuri.Parse("cortex://session")
	require.NoError(t, err)

	result, err := engine.Search(ctx, "OAuth authentication", scope, Options{MinScore: 0.1})
	require.NoError(t, err)
	require.NotEmpty(t, result.Results)
	assert.Contains(t, result.Results[0].URI, "msg1")
}
