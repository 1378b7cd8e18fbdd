// Package syncengine walks the cortex:// filesystem and brings the
// vector store up to date with it: every L2 blob gets a vector record,
// every directory's L0/L1 companion files get one each, and already
// indexed ids are skipped (§4.4 "Sync engine").
package syncengine

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"cortexmem/internal/cortextypes"
	"cortexmem/internal/cortexuri"
	"cortexmem/internal/layers"
	"cortexmem/internal/storage"
	"cortexmem/internal/vectorstore"
)

// Embedder is the narrow embedding dependency the sync engine needs.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Config selects which dimensions a full sync walks.
type Config struct {
	AutoIndex     bool
	SyncUsers     bool
	SyncAgents    bool
	SyncSessions  bool
	SyncResources bool
}

func DefaultConfig() Config {
	return Config{AutoIndex: true, SyncUsers: true, SyncAgents: true, SyncSessions: true, SyncResources: true}
}

// Stats accumulates per-file outcomes across a sync run.
type Stats struct {
	TotalFiles   int
	IndexedFiles int
	SkippedFiles int
	ErrorFiles   int
}

func (s *Stats) Add(other Stats) {
	s.TotalFiles += other.TotalFiles
	s.IndexedFiles += other.IndexedFiles
	s.SkippedFiles += other.SkippedFiles
	s.ErrorFiles += other.ErrorFiles
}

// Manager is the sync engine.
type Manager struct {
	fs       *storage.Filesystem
	embedder Embedder
	store    vectorstore.Store
	layerMgr *layers.Manager
	cfg      Config
}

func NewManager(fs *storage.Filesystem, embedder Embedder, store vectorstore.Store, layerMgr *layers.Manager, cfg Config) *Manager {
	return &Manager{fs: fs, embedder: embedder, store: store, layerMgr: layerMgr, cfg: cfg}
}

// SyncAll walks every enabled dimension and returns the aggregate stats.
func (m *Manager) SyncAll(ctx context.Context) (Stats, error) {
	log.Info().Msg("starting full sync to vector store")
	var total Stats

	if m.cfg.SyncUsers {
		stats, err := m.syncDirectory(ctx, &cortexuri.URI{Dimension: cortexuri.DimensionUser}, cortextypes.MemorySemantic, false)
		if err != nil {
			return total, err
		}
		total.Add(stats)
	}
	if m.cfg.SyncAgents {
		stats, err := m.syncDirectory(ctx, &cortexuri.URI{Dimension: cortexuri.DimensionAgent}, cortextypes.MemorySemantic, false)
		if err != nil {
			return total, err
		}
		total.Add(stats)
	}
	if m.cfg.SyncSessions {
		stats, err := m.syncDirectory(ctx, &cortexuri.URI{Dimension: cortexuri.DimensionSession}, cortextypes.MemoryConversational, true)
		if err != nil {
			return total, err
		}
		total.Add(stats)
	}
	if m.cfg.SyncResources {
		resourcesRoot := &cortexuri.URI{Dimension: cortexuri.DimensionResources}
		entries, err := m.fs.List(resourcesRoot)
		if err == nil && len(entries) > 0 {
			stats, err := m.syncDirectory(ctx, resourcesRoot, cortextypes.MemorySemantic, false)
			if err != nil {
				return total, err
			}
			total.Add(stats)
		}
	}

	log.Info().
		Int("total", total.TotalFiles).Int("indexed", total.IndexedFiles).
		Int("skipped", total.SkippedFiles).Int("errors", total.ErrorFiles).
		Msg("sync completed")
	return total, nil
}

// SyncSession indexes a single session's timeline, for the automation
// manager's real-time and batched per-session indexing paths (§4.3) —
// a narrower entry point than SyncAll's whole-dimension sweep.
func (m *Manager) SyncSession(ctx context.Context, threadID string) (Stats, error) {
	root := &cortexuri.URI{Dimension: cortexuri.DimensionSession, ID: threadID}
	return m.syncDirectory(ctx, root, cortextypes.MemoryConversational, true)
}

// syncDirectory recursively indexes every .md file under dirURI. When
// timelineAware is true, it first generates the session's timeline L0/L1
// the moment it reaches a timeline root, before descending into it —
// invariant 6's "never summarise the day subdirectories themselves".
func (m *Manager) syncDirectory(ctx context.Context, dirURI *cortexuri.URI, memType cortextypes.MemoryType, timelineAware bool) (Stats, error) {
	var stats Stats

	if timelineAware && dirURI.IsSessionTimelineRoot() {
		if err := m.layerMgr.GenerateTimelineLayers(ctx, dirURI); err != nil {
			log.Warn().Err(err).Str("uri", dirURI.String()).Msg("failed to generate timeline layers")
		}
	}

	entries, err := m.fs.List(dirURI)
	if err != nil {
		return stats, nil // dimension or subtree not created yet; nothing to sync
	}

	if err := m.syncDirectoryLayer(ctx, dirURI, memType, cortextypes.LayerAbstract, storage.AbstractFile); err != nil {
		log.Warn().Err(err).Str("uri", dirURI.String()).Msg("failed to sync L0")
	}
	if err := m.syncDirectoryLayer(ctx, dirURI, memType, cortextypes.LayerOverview, storage.OverviewFile); err != nil {
		log.Warn().Err(err).Str("uri", dirURI.String()).Msg("failed to sync L1")
	}

	for _, entry := range entries {
		child := dirURI.Child(entry.Name)
		if entry.IsDir {
			sub, err := m.syncDirectory(ctx, child, memType, timelineAware)
			if err != nil {
				return stats, err
			}
			stats.Add(sub)
			continue
		}
		if strings.HasPrefix(entry.Name, ".") || !strings.HasSuffix(entry.Name, ".md") || entry.Name == storage.IndexFile {
			continue
		}
		indexed, err := m.syncFile(ctx, child, memType)
		stats.TotalFiles++
		switch {
		case err != nil:
			log.Warn().Err(err).Str("uri", child.String()).Msg("failed to sync file")
			stats.ErrorFiles++
		case indexed:
			stats.IndexedFiles++
		default:
			stats.SkippedFiles++
		}
	}
	return stats, nil
}

// syncFile indexes one L2 blob plus its directory's L0/L1 companions (if
// present), skipping any vector id already in the store.
func (m *Manager) syncFile(ctx context.Context, fileURI *cortexuri.URI, memType cortextypes.MemoryType) (bool, error) {
	l2ID := vectorstore.VID(fileURI.String(), cortextypes.LayerDetail)
	if indexed, err := m.isIndexed(ctx, l2ID); err != nil {
		return false, err
	} else if indexed {
		return false, nil
	}

	content, err := m.fs.Read(fileURI)
	if err != nil {
		return false, err
	}
	if err := m.indexOne(ctx, l2ID, fileURI, content, memType, cortextypes.LayerDetail); err != nil {
		return false, err
	}

	dirURI := fileURI.DirectoryURI()
	if err := m.syncDirectoryLayer(ctx, dirURI, memType, cortextypes.LayerAbstract, storage.AbstractFile); err != nil {
		log.Warn().Err(err).Str("uri", dirURI.String()).Msg("failed to sync L0")
	}
	if err := m.syncDirectoryLayer(ctx, dirURI, memType, cortextypes.LayerOverview, storage.OverviewFile); err != nil {
		log.Warn().Err(err).Str("uri", dirURI.String()).Msg("failed to sync L1")
	}

	return true, nil
}

func (m *Manager) syncDirectoryLayer(ctx context.Context, dirURI *cortexuri.URI, memType cortextypes.MemoryType, layer cortextypes.Layer, filename string) error {
	content, err := m.fs.Read(dirURI.Child(filename))
	if err != nil {
		return nil // layer file not generated yet; not an error
	}
	id := vectorstore.VID(dirURI.String(), layer)
	indexed, err := m.isIndexed(ctx, id)
	if err != nil {
		return err
	}
	if indexed {
		return nil
	}
	return m.indexOne(ctx, id, dirURI, content, memType, layer)
}

func (m *Manager) indexOne(ctx context.Context, id string, uri *cortexuri.URI, content string, memType cortextypes.MemoryType, layer cortextypes.Layer) error {
	embeddings, err := m.embedder.Embed(ctx, []string{content})
	if err != nil {
		return err
	}
	var vec []float32
	if len(embeddings) > 0 {
		vec = embeddings[0]
	}
	rec := vectorstore.Record{
		ID:        id,
		Embedding: vec,
		Content:   content,
		Metadata:  m.parseMetadata(uri, memType, layer),
	}
	return m.store.Upsert(ctx, rec)
}

func (m *Manager) isIndexed(ctx context.Context, id string) (bool, error) {
	_, ok, err := m.store.Get(ctx, id)
	if err != nil {
		log.Debug().Err(err).Str("id", id).Msg("error checking if indexed")
		return false, nil
	}
	return ok, nil
}

// parseMetadata extracts dimension-scoped identifiers from uri, matching
// sync.rs's parse_metadata: dimension determines which of user_id/agent_id/
// run_id gets populated from the joined path beyond the dimension.
func (m *Manager) parseMetadata(uri *cortexuri.URI, memType cortextypes.MemoryType, layer cortextypes.Layer) cortextypes.MemoryMetadata {
	meta := cortextypes.NewMemoryMetadata(memType)
	meta.URI = uri.String()
	meta.Hash = contentHash(uri.String())
	meta.ImportanceScore = 0.5

	path := joinPath(uri)
	switch uri.Dimension {
	case cortexuri.DimensionUser:
		meta.UserID = path
	case cortexuri.DimensionAgent:
		meta.AgentID = path
	case cortexuri.DimensionSession:
		meta.RunID = path
	}

	meta.Custom = map[string]any{
		"uri":   uri.String(),
		"path":  path,
		"layer": string(layer),
	}
	return meta
}

func joinPath(uri *cortexuri.URI) string {
	var parts []string
	for _, p := range []string{uri.ID, uri.Category, uri.Subcategory, uri.Resource} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// contentHash is a fast, non-cryptographic FNV-1a hash (see SPEC_FULL.md
// Supplemented Features — distinct from Memory.ComputeHash's MD5).
// parseMetadata applies it to the URI string, not the file content, and
// no later sync compares it: an id already in the store is skipped
// whether or not the file has changed.
func contentHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 16)
}
