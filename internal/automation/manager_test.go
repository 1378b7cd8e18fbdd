package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexmem/internal/cortextypes"
	"cortexmem/internal/extraction"
	"cortexmem/internal/syncengine"
)

type fakeIndexer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeIndexer) SyncSession(ctx context.Context, threadID string) (syncengine.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, threadID)
	return syncengine.Stats{IndexedFiles: 1}, nil
}

func (f *fakeIndexer) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeExtractor) ExtractSession(ctx context.Context, threadID, userID, agentID string) (extraction.Artefact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, threadID)
	return extraction.Artefact{ThreadID: threadID}, nil
}

func (f *fakeExtractor) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func TestMessageAddedBatchesUntilTimerFires(t *testing.T) {
	indexer := &fakeIndexer{}
	cfg := Config{IndexOnMessage: false, IndexBatchDelaySeconds: 0}
	mgr := NewManager(indexer, nil, nil, nil, cfg)
	mgr.cfg.IndexBatchDelaySeconds = 0 // fire almost immediately

	events := make(chan cortextypes.MemoryEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx, events)

	events <- cortextypes.MemoryEvent{Kind: "MessageAdded", SessionID: "thread-1"}

	waitFor(t, time.Second, func() bool { return len(indexer.snapshot()) == 1 })
	assert.Equal(t, []string{"thread-1"}, indexer.snapshot())
}

func TestMessageAddedIndexesImmediatelyWhenRealtime(t *testing.T) {
	indexer := &fakeIndexer{}
	cfg := Config{IndexOnMessage: true}
	mgr := NewManager(indexer, nil, nil, nil, cfg)

	events := make(chan cortextypes.MemoryEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx, events)

	events <- cortextypes.MemoryEvent{Kind: "MessageAdded", SessionID: "thread-2"}

	waitFor(t, time.Second, func() bool { return len(indexer.snapshot()) == 1 })
}

func TestClosedRunsExtractionBeforeIndexing(t *testing.T) {
	indexer := &fakeIndexer{}
	extractor := &fakeExtractor{}
	cfg := DefaultConfig()
	mgr := NewManager(indexer, extractor, nil, nil, cfg)

	events := make(chan cortextypes.MemoryEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx, events)

	events <- cortextypes.MemoryEvent{Kind: "Closed", SessionID: "thread-3"}

	waitFor(t, time.Second, func() bool {
		return len(indexer.snapshot()) == 1 && len(extractor.snapshot()) == 1
	})
	assert.Equal(t, []string{"thread-3"}, extractor.snapshot())
	assert.Equal(t, []string{"thread-3"}, indexer.snapshot())
}

func TestClosedSkipsExtractionWhenDisabled(t *testing.T) {
	indexer := &fakeIndexer{}
	extractor := &fakeExtractor{}
	cfg := DefaultConfig()
	cfg.AutoExtract = false
	mgr := NewManager(indexer, extractor, nil, nil, cfg)

	events := make(chan cortextypes.MemoryEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx, events)

	events <- cortextypes.MemoryEvent{Kind: "Closed", SessionID: "thread-4"}

	waitFor(t, time.Second, func() bool { return len(indexer.snapshot()) == 1 })
	assert.Empty(t, extractor.snapshot())
}

func TestRunReturnsWhenChannelClosed(t *testing.T) {
	indexer := &fakeIndexer{}
	mgr := NewManager(indexer, nil, nil, nil, DefaultConfig())

	events := make(chan cortextypes.MemoryEvent)
	done := make(chan error, 1)
	go func() { done <- mgr.Run(context.Background(), events) }()

	close(events)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "Run did not return after channel close")
	}
}

func TestRunDrainsPendingSessionsWhenChannelCloses(t *testing.T) {
	indexer := &fakeIndexer{}
	cfg := DefaultConfig()
	cfg.IndexBatchDelaySeconds = 3600 // long enough that only shutdown drains it
	mgr := NewManager(indexer, nil, nil, nil, cfg)

	events := make(chan cortextypes.MemoryEvent)
	done := make(chan error, 1)
	go func() { done <- mgr.Run(context.Background(), events) }()

	events <- cortextypes.MemoryEvent{Kind: "MessageAdded", SessionID: "thread-pending"}
	close(events)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "Run did not return after channel close")
	}
	waitFor(t, time.Second, func() bool { return len(indexer.snapshot()) == 1 })
	assert.Equal(t, []string{"thread-pending"}, indexer.snapshot())
}

func TestRunDrainsPendingSessionsWhenContextCancelled(t *testing.T) {
	indexer := &fakeIndexer{}
	cfg := DefaultConfig()
	cfg.IndexBatchDelaySeconds = 3600
	mgr := NewManager(indexer, nil, nil, nil, cfg)

	events := make(chan cortextypes.MemoryEvent)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx, events) }()

	events <- cortextypes.MemoryEvent{Kind: "MessageAdded", SessionID: "thread-cancelled"}
	time.Sleep(20 * time.Millisecond) // let handleEvent land before cancelling
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "Run did not return after context cancellation")
	}
	waitFor(t, time.Second, func() bool { return len(indexer.snapshot()) == 1 })
	assert.Equal(t, []string{"thread-cancelled"}, indexer.snapshot())
}

func TestNewRedisPendingStoreReturnsNilWhenUnconfigured(t *testing.T) {
	store, err := NewRedisPendingStore("", "")
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestNilRedisPendingStoreMethodsAreNoOps(t *testing.T) {
	var store *RedisPendingStore
	require.NoError(t, store.Add(context.Background(), "thread-x"))
	due, err := store.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestInProcessPendingStoreDrainsOnce(t *testing.T) {
	store := newInProcessPendingStore()
	require.NoError(t, store.Add(context.Background(), "a"))
	require.NoError(t, store.Add(context.Background(), "b"))
	require.NoError(t, store.Add(context.Background(), "a"))

	due, err := store.DrainAll(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, due)

	due, err = store.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, due)
}
