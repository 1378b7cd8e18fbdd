package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"cortexmem/internal/cortexuri"
	"cortexmem/internal/session"
	"cortexmem/internal/storage"
)

// LayerGenerator is the narrow layers.Manager dependency project uses to
// eagerly materialise L0/L1 alongside a newly projected memory, instead of
// leaving it to the retrieval engine's lazy Load.
type LayerGenerator interface {
	GenerateAll(ctx context.Context, uri *cortexuri.URI, content string) error
}

// Manager drives extraction over a session's stored timeline: read the
// messages, run the configured Extractor, persist the artefact, and
// project above-threshold items into the user/agent memory dimensions.
type Manager struct {
	fs        *storage.Filesystem
	sessions  *session.Manager
	extractor Extractor
	layers    LayerGenerator
	cfg       Config
}

// NewManager builds an extraction manager. layerGen may be nil, in which
// case projected memories are written as plain L2 blobs and their L0/L1
// are generated lazily on first Load, same as any other resource file.
func NewManager(fs *storage.Filesystem, sessions *session.Manager, extractor Extractor, layerGen LayerGenerator, cfg Config) *Manager {
	return &Manager{fs: fs, sessions: sessions, extractor: extractor, layers: layerGen, cfg: cfg}
}

// ExtractSession reads threadID's timeline, extracts facts/decisions/
// entities, persists the artefact under the session's extractions/
// directory and, when userID/agentID are non-empty, projects
// high-confidence facts and decisions into cortex://user/<uid>/memories
// and cortex://agent/<aid>/memories respectively.
func (m *Manager) ExtractSession(ctx context.Context, threadID, userID, agentID string) (Artefact, error) {
	conversation, sourceURIs, err := m.loadConversation(threadID)
	if err != nil {
		return Artefact{}, err
	}

	artefact := Artefact{ThreadID: threadID}

	if conversation == "" {
		return artefact, m.save(threadID, artefact)
	}

	if m.cfg.ExtractFacts {
		facts, err := m.extractor.ExtractFacts(ctx, conversation)
		if err != nil {
			return artefact, err
		}
		artefact.Facts = filterAndTag(facts, m.cfg.MinConfidence, sourceURIs)
	}
	if m.cfg.ExtractDecisions {
		decisions, err := m.extractor.ExtractDecisions(ctx, conversation)
		if err != nil {
			return artefact, err
		}
		artefact.Decisions = filterAndTag(decisions, m.cfg.MinConfidence, sourceURIs)
	}
	if m.cfg.ExtractEntities {
		entities, err := m.extractor.ExtractEntities(ctx, conversation)
		if err != nil {
			return artefact, err
		}
		artefact.Entities = filterAndTag(entities, m.cfg.MinConfidence, sourceURIs)
	}

	if err := m.save(threadID, artefact); err != nil {
		return artefact, err
	}

	if userID != "" {
		n, err := m.project(ctx, userID, cortexuri.DimensionUser, threadID, artefact.Facts, "User Memory")
		if err != nil {
			log.Warn().Err(err).Str("thread_id", threadID).Msg("failed to project user memories")
		} else {
			log.Info().Str("thread_id", threadID).Int("count", n).Msg("projected user memories")
		}
	}
	if agentID != "" {
		n, err := m.project(ctx, agentID, cortexuri.DimensionAgent, threadID, artefact.Decisions, "Agent Memory (Decision)")
		if err != nil {
			log.Warn().Err(err).Str("thread_id", threadID).Msg("failed to project agent memories")
		} else {
			log.Info().Str("thread_id", threadID).Int("count", n).Msg("projected agent memories")
		}
	}

	return artefact, nil
}

func filterAndTag(items []Item, minConfidence float64, sourceURIs []string) []Item {
	var out []Item
	for _, it := range items {
		if it.Confidence < minConfidence {
			continue
		}
		it.SourceURIs = sourceURIs
		out = append(out, it)
	}
	return out
}

// loadConversation collects threadID's timeline messages into a single
// numbered conversation transcript plus the list of source message URIs,
// reusing the session package's own markdown round trip instead of
// re-parsing message blobs.
func (m *Manager) loadConversation(threadID string) (string, []string, error) {
	uris, err := m.sessions.ListMessages(threadID)
	if err != nil {
		return "", nil, err
	}
	if len(uris) == 0 {
		return "", nil, nil
	}

	var b strings.Builder
	for i, uriStr := range uris {
		u, err := cortexuri.Parse(uriStr)
		if err != nil {
			continue
		}
		content, err := m.fs.Read(u)
		if err != nil {
			continue
		}
		msg, err := session.ParseMessage(content)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, msg.Role, msg.Content)
	}
	return b.String(), uris, nil
}

func (m *Manager) save(threadID string, artefact Artefact) error {
	root := &cortexuri.URI{Dimension: cortexuri.DimensionSession, ID: threadID}
	filename := time.Now().UTC().Format("20060102_150405") + ".md"
	uri := root.Child("extractions").Child(filename)
	return m.fs.Write(uri, artefact.ToMarkdown())
}

// project writes each item above the projection confidence floor as a
// standalone memory file under cortex://<dimension>/<entityID>/memories,
// matching the dimensions internal/optimizer's detector scans.
func (m *Manager) project(ctx context.Context, entityID string, dimension cortexuri.Dimension, threadID string, items []Item, heading string) (int, error) {
	root := &cortexuri.URI{Dimension: dimension, ID: entityID}
	count := 0
	for _, it := range items {
		if it.Confidence < m.cfg.ProjectionConfidence {
			continue
		}
		uri := root.Child("memories").Child(uuid.NewString() + ".md")
		content := fmt.Sprintf(
			"# %s\n\n**Source**: %s\n**Extracted**: %s\n**Confidence**: %.2f\n\n## Content\n\n%s\n",
			heading, threadID, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"), it.Confidence, it.Content,
		)
		var writeErr error
		if m.layers != nil {
			writeErr = m.layers.GenerateAll(ctx, uri, content)
		} else {
			writeErr = m.fs.Write(uri, content)
		}
		if writeErr != nil {
			return count, writeErr
		}
		count++
	}
	return count, nil
}
