package layers

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexmem/internal/config"
	"cortexmem/internal/cortextypes"
	"cortexmem/internal/cortexuri"
	"cortexmem/internal/llmclient"
	"cortexmem/internal/storage"
)

func newTestManager(t *testing.T, generator Generator) (*Manager, *storage.Filesystem) {
	t.Helper()
	fs, err := storage.New(t.TempDir())
	require.NoError(t, err)
	cfg := config.LayerConfig{
		Abstract: config.AbstractLayerConfig{MaxChars: 50, TargetSentences: 1},
		Overview: config.OverviewLayerConfig{MaxChars: 500},
	}
	return NewManager(fs, generator, cfg), fs
}

func TestLoadGeneratesAndPersistsAbstract(t *testing.T) {
	fake := &llmclient.Fake{Response: "This is a short abstract."}
	mgr, fs := newTestManager(t, NewLLMGenerator(fake, 8000))
	ctx := context.Background()

	u, err := cortexuri.Parse("cortex://session/t1/timeline/2026-02/13_msg.md")
	require.NoError(t, err)
	require.NoError(t, fs.Write(u, "# Title\n\nThis is a paragraph about OAuth."))

	got, err := mgr.Load(ctx, u, cortextypes.LayerAbstract)
	require.NoError(t, err)
	assert.Contains(t, got, "abstract")
	assert.Equal(t, 1, fake.Calls)

	abstractURI := u.DirectoryURI().WithResource(storage.AbstractFile)
	exists, err := fs.Exists(abstractURI)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLoadIsIdempotent(t *testing.T) {
	fake := &llmclient.Fake{Response: "abstract text"}
	mgr, fs := newTestManager(t, NewLLMGenerator(fake, 8000))
	ctx := context.Background()

	u, err := cortexuri.Parse("cortex://session/t1/timeline/2026-02/13_msg.md")
	require.NoError(t, err)
	require.NoError(t, fs.Write(u, "content"))

	first, err := mgr.Load(ctx, u, cortextypes.LayerAbstract)
	require.NoError(t, err)
	second, err := mgr.Load(ctx, u, cortextypes.LayerAbstract)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.Calls)
}

func TestLoadConcurrentSingleFlight(t *testing.T) {
	fake := &llmclient.Fake{Response: "abstract"}
	mgr, fs := newTestManager(t, NewLLMGenerator(fake, 8000))
	ctx := context.Background()

	u, err := cortexuri.Parse("cortex://session/t1/timeline/2026-02/13_msg.md")
	require.NoError(t, err)
	require.NoError(t, fs.Write(u, "content"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = mgr.Load(ctx, u, cortextypes.LayerAbstract)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fake.Calls)
}

func TestLoadNoLLMFallsBackToRuleBased(t *testing.T) {
	mgr, fs := newTestManager(t, nil)
	ctx := context.Background()

	u, err := cortexuri.Parse("cortex://session/t1/timeline/2026-02/13_msg.md")
	require.NoError(t, err)
	require.NoError(t, fs.Write(u, "# Title\n\nThis is a paragraph."))

	got, err := mgr.Load(ctx, u, cortextypes.LayerAbstract)
	require.NoError(t, err)
	assert.Contains(t, got, "This is a paragraph")
	assert.LessOrEqual(t, len([]rune(got)), 50)
}

func TestGenerateRegeneratesOversizedAbstract(t *testing.T) {
	mgr, fs := newTestManager(t, nil)
	ctx := context.Background()
	u, err := cortexuri.Parse("cortex://session/t1/timeline/2026-02/13_msg.md")
	require.NoError(t, err)
	require.NoError(t, fs.Write(u, "short"))

	oversized := strings.Repeat("x", 1000)
	require.NoError(t, fs.Write(u.DirectoryURI().WithResource(storage.AbstractFile), oversized))

	got, err := mgr.Load(ctx, u, cortextypes.LayerAbstract)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(got)), 50)
}

func TestGenerateAllWritesContentThenL0AndL1(t *testing.T) {
	mgr, fs := newTestManager(t, nil)
	ctx := context.Background()

	u, err := cortexuri.Parse("cortex://user/alice/memories/fact.md")
	require.NoError(t, err)

	require.NoError(t, mgr.GenerateAll(ctx, u, "Alice prefers dark roast coffee over light roast."))

	content, err := fs.Read(u)
	require.NoError(t, err)
	assert.Equal(t, "Alice prefers dark roast coffee over light roast.", content)

	abstractExists, err := fs.Exists(u.DirectoryURI().WithResource(storage.AbstractFile))
	require.NoError(t, err)
	assert.True(t, abstractExists)

	overviewExists, err := fs.Exists(u.DirectoryURI().WithResource(storage.OverviewFile))
	require.NoError(t, err)
	assert.True(t, overviewExists)
}

func TestGenerateTimelineLayersAtRootOnly(t *testing.T) {
	mgr, fs := newTestManager(t, nil)
	ctx := context.Background()

	timeline, err := cortexuri.Parse("cortex://session/t1/timeline")
	require.NoError(t, err)
	msg, err := cortexuri.Parse("cortex://session/t1/timeline/2026-02/13_msg.md")
	require.NoError(t, err)
	require.NoError(t, fs.Write(msg, "User asked about OAuth security."))

	require.NoError(t, mgr.GenerateTimelineLayers(ctx, timeline))

	abstractExists, err := fs.Exists(timeline.WithResource(storage.AbstractFile))
	require.NoError(t, err)
	assert.True(t, abstractExists)

	dayDirAbstract := msg.DirectoryURI().WithResource(storage.AbstractFile)
	dayExists, err := fs.Exists(dayDirAbstract)
	require.NoError(t, err)
	assert.False(t, dayExists, "day subdirectory must not get its own layer files")
}
