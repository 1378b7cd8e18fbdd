package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexmem/internal/config"
	"cortexmem/internal/cortextypes"
	"cortexmem/internal/cortexuri"
	"cortexmem/internal/layers"
	"cortexmem/internal/session"
	"cortexmem/internal/storage"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *session.Manager, *storage.Filesystem) {
	t.Helper()
	fs, err := storage.New(t.TempDir())
	require.NoError(t, err)
	sessions := session.NewManager(fs, nil)
	return NewManager(fs, sessions, NewRuleBasedExtractor(), nil, cfg), sessions, fs
}

func TestExtractSessionWithNoMessagesReturnsEmptyArtefact(t *testing.T) {
	mgr, sessions, _ := newTestManager(t, DefaultConfig())
	_, err := sessions.CreateSession("thread-empty")
	require.NoError(t, err)

	artefact, err := mgr.ExtractSession(context.Background(), "thread-empty", "", "")
	require.NoError(t, err)
	assert.Empty(t, artefact.Facts)
	assert.Empty(t, artefact.Decisions)
	assert.Empty(t, artefact.Entities)
}

func TestExtractSessionPersistsArtefactAndProjectsMemories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConfidence = 0.4
	cfg.ProjectionConfidence = 0.4
	mgr, sessions, fs := newTestManager(t, cfg)

	_, err := sessions.CreateSession("thread-1")
	require.NoError(t, err)
	_, err = sessions.AppendMessage("thread-1", session.NewMessage(cortextypes.RoleUser, "Let's use PostgreSQL for storage."), "alice")
	require.NoError(t, err)
	_, err = sessions.AppendMessage("thread-1", session.NewMessage(cortextypes.RoleAssistant, "Go is a statically typed language."), "")
	require.NoError(t, err)

	artefact, err := mgr.ExtractSession(context.Background(), "thread-1", "alice", "agent-1")
	require.NoError(t, err)
	assert.NotEmpty(t, artefact.Facts)
	assert.NotEmpty(t, artefact.Decisions)

	extractionsURI := (&cortexuri.URI{Dimension: cortexuri.DimensionSession, ID: "thread-1"}).Child("extractions")
	extractionFiles, err := fs.List(extractionsURI)
	require.NoError(t, err)
	assert.NotEmpty(t, extractionFiles)

	userMemoriesURI := (&cortexuri.URI{Dimension: cortexuri.DimensionUser, ID: "alice"}).Child("memories")
	userFiles, err := fs.List(userMemoriesURI)
	require.NoError(t, err)
	assert.NotEmpty(t, userFiles)

	agentMemoriesURI := (&cortexuri.URI{Dimension: cortexuri.DimensionAgent, ID: "agent-1"}).Child("memories")
	agentFiles, err := fs.List(agentMemoriesURI)
	require.NoError(t, err)
	assert.NotEmpty(t, agentFiles)
}

func TestProjectUsesLayerGeneratorWhenConfigured(t *testing.T) {
	fs, err := storage.New(t.TempDir())
	require.NoError(t, err)
	sessions := session.NewManager(fs, nil)
	layerMgr := layers.NewManager(fs, nil, config.LayerConfig{
		Abstract: config.AbstractLayerConfig{MaxChars: 200, TargetSentences: 2},
		Overview: config.OverviewLayerConfig{MaxChars: 1000},
	})

	cfg := DefaultConfig()
	cfg.MinConfidence = 0.4
	cfg.ProjectionConfidence = 0.4
	mgr := NewManager(fs, sessions, NewRuleBasedExtractor(), layerMgr, cfg)

	_, err = sessions.CreateSession("thread-2")
	require.NoError(t, err)
	_, err = sessions.AppendMessage("thread-2", session.NewMessage(cortextypes.RoleUser, "Redis is a fast in-memory store."), "bob")
	require.NoError(t, err)

	_, err = mgr.ExtractSession(context.Background(), "thread-2", "bob", "")
	require.NoError(t, err)

	userMemoriesURI := (&cortexuri.URI{Dimension: cortexuri.DimensionUser, ID: "bob"}).Child("memories")
	files, err := fs.List(userMemoriesURI)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	abstractExists, err := fs.Exists(userMemoriesURI.WithResource(storage.AbstractFile))
	require.NoError(t, err)
	assert.True(t, abstractExists, "GenerateAll should eagerly persist L0 alongside the projected memory")

	overviewExists, err := fs.Exists(userMemoriesURI.WithResource(storage.OverviewFile))
	require.NoError(t, err)
	assert.True(t, overviewExists, "GenerateAll should eagerly persist L1 alongside the projected memory")
}
