package optimizer

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexmem/internal/cortexerr"
	"cortexmem/internal/cortextypes"
	"cortexmem/internal/cortexuri"
	"cortexmem/internal/storage"
)

// setModTime back-dates the on-disk file for u, since the filesystem
// adapter doesn't expose a write path for arbitrary mtimes.
func setModTime(t *testing.T, fs *storage.Filesystem, u *cortexuri.URI, when time.Time) {
	t.Helper()
	p, err := u.ToFilePath(fs.Root)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(p, when, when))
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *storage.Filesystem) {
	t.Helper()
	fs, err := storage.New(t.TempDir())
	require.NoError(t, err)
	return NewManager(fs, cfg, nil, nil), fs
}

func writeMemory(t *testing.T, fs *storage.Filesystem, uriStr, content string) *cortexuri.URI {
	t.Helper()
	u, err := cortexuri.Parse(uriStr)
	require.NoError(t, err)
	require.NoError(t, fs.Write(u, content))
	return u
}

func TestDetectorFindsDuplicates(t *testing.T) {
	mgr, fs := newTestManager(t, Config{MinQualityChars: 5})
	writeMemory(t, fs, "cortex://user/alice/memories/a.md", "I really like black coffee in the morning.")
	writeMemory(t, fs, "cortex://user/alice/memories/b.md", "I really like black coffee in the morning.")
	writeMemory(t, fs, "cortex://user/alice/memories/c.md", "I prefer a completely different beverage.")

	issues, err := mgr.detector.detectIssues(context.Background(), cortextypes.NewFilters())
	require.NoError(t, err)

	var dup *cortextypes.Issue
	for i := range issues {
		if issues[i].Kind == cortextypes.IssueDuplicate {
			dup = &issues[i]
		}
	}
	require.NotNil(t, dup)
	assert.Len(t, dup.AffectedMemories, 2)
}

func TestDetectorFindsLowQuality(t *testing.T) {
	mgr, fs := newTestManager(t, Config{MinQualityChars: 50})
	writeMemory(t, fs, "cortex://user/alice/memories/short.md", "hi")

	issues, err := mgr.detector.detectIssues(context.Background(), cortextypes.NewFilters())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, cortextypes.IssueLowQuality, issues[0].Kind)
}

func TestDeduplicationStrategyOnlyProducesMergeActions(t *testing.T) {
	mgr, fs := newTestManager(t, DefaultConfig())
	writeMemory(t, fs, "cortex://user/alice/memories/a.md", "Duplicate content shared across two memory files.")
	writeMemory(t, fs, "cortex://user/alice/memories/b.md", "Duplicate content shared across two memory files.")
	writeMemory(t, fs, "cortex://user/alice/memories/c.md", "hi")

	plan, err := mgr.CreatePlan(context.Background(), cortextypes.StrategyDeduplication)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Actions)
	for _, a := range plan.Actions {
		assert.Equal(t, "Merge", a.Kind)
	}
}

func TestOptimizeDryRunLeavesFilesUntouched(t *testing.T) {
	mgr, fs := newTestManager(t, Config{MinQualityChars: 50, MaxActionsPerPlan: 100})
	u := writeMemory(t, fs, "cortex://user/alice/memories/short.md", "hi")

	req := cortextypes.OptimizationRequest{Strategy: cortextypes.StrategyQuality, DryRun: true}
	result, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, cortextypes.JobCompleted, result.Status)
	assert.NotEmpty(t, result.ActionsPerformed)

	exists, err := fs.Exists(u)
	require.NoError(t, err)
	assert.True(t, exists, "dry run must not delete the file")
}

func TestOptimizeQualityStrategyDeletesUndersizedMemory(t *testing.T) {
	mgr, fs := newTestManager(t, Config{MinQualityChars: 50, MaxActionsPerPlan: 100})
	u := writeMemory(t, fs, "cortex://user/alice/memories/short.md", "hi")

	req := cortextypes.OptimizationRequest{Strategy: cortextypes.StrategyQuality}
	result, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, cortextypes.JobCompleted, result.Status)

	exists, err := fs.Exists(u)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestConservativeModeDropsDeleteActions(t *testing.T) {
	mgr, fs := newTestManager(t, Config{MinQualityChars: 50, MaxActionsPerPlan: 100})
	u := writeMemory(t, fs, "cortex://user/alice/memories/short.md", "hi")

	req := cortextypes.OptimizationRequest{Strategy: cortextypes.StrategyQuality, ConservativeMode: true}
	result, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, result.ActionsPerformed)

	exists, err := fs.Exists(u)
	require.NoError(t, err)
	assert.True(t, exists, "conservative mode must not delete")
}

func TestArchiveSetsSidecarFlag(t *testing.T) {
	mgr, fs := newTestManager(t, Config{StalenessDays: 1, CriticalStalenessDays: 3650, MinQualityChars: 1, MaxActionsPerPlan: 100})
	u := writeMemory(t, fs, "cortex://user/alice/memories/old.md", "An old memory about a past trip to the mountains.")
	old := time.Now().Add(-48 * time.Hour)
	setModTime(t, fs, u, old)

	req := cortextypes.OptimizationRequest{Strategy: cortextypes.StrategyRelevance}
	result, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, result.ActionsPerformed)
	assert.Equal(t, "Archive", result.ActionsPerformed[0].Kind)

	sc, err := loadSidecar(fs, u.DirectoryURI())
	require.NoError(t, err)
	meta, ok := sc["old.md"]
	require.True(t, ok)
	assert.Equal(t, true, meta.Custom["archived"])
}

func TestOptimizeRejectsReusedJobID(t *testing.T) {
	mgr, fs := newTestManager(t, Config{MinQualityChars: 1, MaxActionsPerPlan: 100})
	writeMemory(t, fs, "cortex://user/alice/memories/a.md", "some ordinary content here")

	req := cortextypes.OptimizationRequest{JobID: "job-dup", Strategy: cortextypes.StrategyFull}
	_, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)

	_, err = mgr.Optimize(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cortexerr.ErrBusy), "expected a Busy error, got %v", err)
}

func TestStatusTracksCompletedJob(t *testing.T) {
	mgr, fs := newTestManager(t, Config{MinQualityChars: 1, MaxActionsPerPlan: 100})
	writeMemory(t, fs, "cortex://user/alice/memories/a.md", "some ordinary content here")

	req := cortextypes.OptimizationRequest{JobID: "job-1", Strategy: cortextypes.StrategyFull}
	_, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)

	statuses := mgr.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "job-1", statuses[0].JobID)
	assert.Equal(t, cortextypes.JobCompleted, statuses[0].Status)
}
