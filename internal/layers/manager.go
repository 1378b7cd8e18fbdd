package layers

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/singleflight"

	"cortexmem/internal/config"
	"cortexmem/internal/cortextypes"
	"cortexmem/internal/cortexuri"
	"cortexmem/internal/storage"
)

// Manager implements the layer manager's contract: Load, GenerateAll,
// GenerateTimelineLayers, with size caps and a per-directory
// single-flight guard on generation (§4.2 Concurrency).
type Manager struct {
	fs        *storage.Filesystem
	generator Generator
	fallback  Generator
	cfg       config.LayerConfig
	group     singleflight.Group
}

func NewManager(fs *storage.Filesystem, generator Generator, cfg config.LayerConfig) *Manager {
	return &Manager{fs: fs, generator: generator, fallback: NewRuleBasedGenerator(), cfg: cfg}
}

// Load returns the current content for layer on uri, generating and
// persisting it first if missing or oversized. L2 is simply read(uri);
// L0/L1 are generated for uri's containing directory.
func (m *Manager) Load(ctx context.Context, uri *cortexuri.URI, layer cortextypes.Layer) (string, error) {
	if layer == cortextypes.LayerDetail {
		return m.fs.Read(uri)
	}

	dir := uri.DirectoryURI()
	key := dir.String() + "#" + string(layer)

	existing, oversized, err := m.readExisting(dir, layer)
	if err == nil && existing != "" && !oversized {
		return existing, nil
	}

	result, err, _ := m.group.Do(key, func() (any, error) {
		// Re-check inside the single-flight slot: a sibling caller may
		// have just finished generating while we waited for the lock.
		existing, oversized, _ := m.readExisting(dir, layer)
		if existing != "" && !oversized {
			return existing, nil
		}
		return m.generateForDirectory(ctx, dir, layer)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (m *Manager) readExisting(dir *cortexuri.URI, layer cortextypes.Layer) (content string, oversized bool, err error) {
	filename := layerFilename(layer)
	content, err = m.fs.Read(dir.WithResource(filename))
	if err != nil {
		return "", false, err
	}
	cap := m.maxChars(layer)
	oversized = cap > 0 && len([]rune(content)) > cap
	return content, oversized, nil
}

func layerFilename(layer cortextypes.Layer) string {
	if layer == cortextypes.LayerAbstract {
		return storage.AbstractFile
	}
	return storage.OverviewFile
}

func (m *Manager) maxChars(layer cortextypes.Layer) int {
	if layer == cortextypes.LayerAbstract {
		return m.cfg.Abstract.MaxChars
	}
	return m.cfg.Overview.MaxChars
}

// generateForDirectory collects all L2 content in dir, generates the
// requested layer (LLM first, rule-based fallback on failure or absent
// client), persists it, and returns it.
func (m *Manager) generateForDirectory(ctx context.Context, dir *cortexuri.URI, layer cortextypes.Layer) (string, error) {
	content, err := m.collectContent(dir)
	if err != nil {
		return "", err
	}

	var generated string
	if m.generator != nil {
		generated, err = m.runGenerator(ctx, m.generator, content, layer)
	} else {
		err = errNoGenerator
	}
	if err != nil {
		generated, err = m.runGenerator(ctx, m.fallback, content, layer)
		if err != nil {
			return "", err
		}
	}

	if err := m.fs.Write(dir.WithResource(layerFilename(layer)), generated); err != nil {
		return "", err
	}
	return generated, nil
}

func (m *Manager) runGenerator(ctx context.Context, g Generator, content string, layer cortextypes.Layer) (string, error) {
	if layer == cortextypes.LayerAbstract {
		return g.GenerateAbstract(ctx, content, m.cfg.Abstract)
	}
	return g.GenerateOverview(ctx, content, m.cfg.Overview)
}

// collectContent concatenates every non-hidden markdown blob directly
// under dir (non-recursive; GenerateTimelineLayers handles the
// session-scope recursive union separately).
func (m *Manager) collectContent(dir *cortexuri.URI) (string, error) {
	entries, err := m.fs.List(dir)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir || strings.HasPrefix(e.Name, ".") || !strings.HasSuffix(e.Name, ".md") {
			continue
		}
		text, err := m.fs.Read(dir.WithResource(e.Name))
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

// GenerateAll writes L2 then generates and persists L0 and L1.
func (m *Manager) GenerateAll(ctx context.Context, uri *cortexuri.URI, content string) error {
	if err := m.fs.Write(uri, content); err != nil {
		return err
	}
	if _, err := m.Load(ctx, uri, cortextypes.LayerAbstract); err != nil {
		return err
	}
	if _, err := m.Load(ctx, uri, cortextypes.LayerOverview); err != nil {
		return err
	}
	return nil
}

// GenerateTimelineLayers summarises the union of all L2 blobs below
// timelineURI (a session's timeline root) into one L0 and one L1 at the
// timeline root, never recursing into day subdirectories — invariant 6.
func (m *Manager) GenerateTimelineLayers(ctx context.Context, timelineURI *cortexuri.URI) error {
	content, err := m.collectTimelineContent(timelineURI)
	if err != nil {
		return err
	}

	key := timelineURI.String() + "#timeline"
	_, err, _ = m.group.Do(key, func() (any, error) {
		var genErr error
		abstract, genErr := m.runGenerator(ctx, m.generatorOrFallback(), content, cortextypes.LayerAbstract)
		if genErr != nil {
			abstract, genErr = m.runGenerator(ctx, m.fallback, content, cortextypes.LayerAbstract)
			if genErr != nil {
				return nil, genErr
			}
		}
		if werr := m.fs.Write(timelineURI.WithResource(storage.AbstractFile), abstract); werr != nil {
			return nil, werr
		}

		overview, genErr := m.runGenerator(ctx, m.generatorOrFallback(), content, cortextypes.LayerOverview)
		if genErr != nil {
			overview, genErr = m.runGenerator(ctx, m.fallback, content, cortextypes.LayerOverview)
			if genErr != nil {
				return nil, genErr
			}
		}
		return nil, m.fs.Write(timelineURI.WithResource(storage.OverviewFile), overview)
	})
	return err
}

func (m *Manager) generatorOrFallback() Generator {
	if m.generator != nil {
		return m.generator
	}
	return m.fallback
}

// collectTimelineContent walks every day subdirectory under timelineURI
// (YYYY-MM/DD) and concatenates message blobs, skipping the root-level
// .abstract.md/.overview.md themselves.
func (m *Manager) collectTimelineContent(timelineURI *cortexuri.URI) (string, error) {
	var sb strings.Builder
	months, err := m.fs.List(timelineURI)
	if err != nil {
		return "", err
	}
	for _, month := range months {
		if !month.IsDir {
			continue
		}
		monthURI := timelineURI.Child(month.Name)
		days, err := m.fs.List(monthURI)
		if err != nil {
			continue
		}
		for _, day := range days {
			dayURI := monthURI.Child(day.Name)
			if day.IsDir {
				files, err := m.fs.List(dayURI)
				if err != nil {
					continue
				}
				for _, f := range files {
					if f.IsDir || f.Name == storage.IndexFile {
						continue
					}
					text, err := m.fs.Read(dayURI.Child(f.Name))
					if err == nil {
						sb.WriteString(text)
						sb.WriteString("\n\n")
					}
				}
			} else {
				text, err := m.fs.Read(monthURI.Child(day.Name))
				if err == nil {
					sb.WriteString(text)
					sb.WriteString("\n\n")
				}
			}
		}
	}
	return sb.String(), nil
}

var errNoGenerator = errors.New("no LLM generator configured")
