// Package automation implements the automation manager (§4.3): a single
// event-loop goroutine that consumes session lifecycle events and
// drives real-time or debounced-batch indexing, close-time extraction,
// and an optional startup layer-generation sweep.
package automation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"cortexmem/internal/cortextypes"
	"cortexmem/internal/extraction"
	"cortexmem/internal/syncengine"
)

// Config mirrors the original's AutomationConfig. DefaultUserID and
// DefaultAgentID stand in for the per-message participant identity the
// session/message model doesn't carry through to extraction yet —
// matching the original's own hardcoded "default" placeholder.
type Config struct {
	AutoIndex                   bool
	AutoExtract                 bool
	IndexOnMessage              bool
	IndexOnClose                bool
	IndexBatchDelaySeconds      int
	AutoGenerateLayersOnStartup bool
	DefaultUserID               string
	DefaultAgentID              string
}

func DefaultConfig() Config {
	return Config{
		AutoIndex:                   true,
		AutoExtract:                 true,
		IndexOnMessage:              false,
		IndexOnClose:                true,
		IndexBatchDelaySeconds:      2,
		AutoGenerateLayersOnStartup: false,
		DefaultUserID:               "default",
		DefaultAgentID:              "default",
	}
}

// Indexer is the narrow per-session indexing dependency.
type Indexer interface {
	SyncSession(ctx context.Context, threadID string) (syncengine.Stats, error)
}

// Extractor is the narrow close-time extraction dependency.
type Extractor interface {
	ExtractSession(ctx context.Context, threadID, userID, agentID string) (extraction.Artefact, error)
}

// LayerSweeper ensures every directory's L0/L1 companions exist; used
// only for the optional startup sweep.
type LayerSweeper interface {
	SyncAll(ctx context.Context) (syncengine.Stats, error)
}

// Manager is the automation event loop. It owns no goroutine until Run
// is called.
type Manager struct {
	indexer   Indexer
	extractor Extractor
	sweeper   LayerSweeper
	pending   PendingStore
	cfg       Config
}

// NewManager builds a Manager. store may be nil, in which case the
// pending-session set lives in process memory (matching the original's
// single-process HashSet); pass a *RedisPendingStore to let several
// automation-manager processes share debounce state.
func NewManager(indexer Indexer, extractor Extractor, sweeper LayerSweeper, store PendingStore, cfg Config) *Manager {
	if store == nil {
		store = newInProcessPendingStore()
	}
	return &Manager{indexer: indexer, extractor: extractor, sweeper: sweeper, pending: store, cfg: cfg}
}

// Run consumes events until the channel is closed or ctx is cancelled,
// implementing the original's `tokio::select!` loop: a nil timer
// channel blocks forever in a select, exactly like the Rust branch that
// awaits `std::future::pending` when no batch timer is armed.
func (m *Manager) Run(ctx context.Context, events <-chan cortextypes.MemoryEvent) error {
	log.Info().
		Bool("auto_index", m.cfg.AutoIndex).Bool("auto_extract", m.cfg.AutoExtract).
		Bool("index_on_message", m.cfg.IndexOnMessage).Bool("index_on_close", m.cfg.IndexOnClose).
		Msg("starting automation manager")

	if m.cfg.AutoGenerateLayersOnStartup && m.sweeper != nil {
		go m.runStartupSweep(ctx)
	} else if m.cfg.AutoGenerateLayersOnStartup {
		log.Warn().Msg("auto_generate_layers_on_startup enabled but no layer sweeper configured")
	}

	batchDelay := time.Duration(m.cfg.IndexBatchDelaySeconds) * time.Second
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				m.drainAndFlush(ctx)
				return nil
			}
			if err := m.handleEvent(ctx, ev, batchDelay, &timer, &timerC); err != nil {
				log.Warn().Err(err).Str("kind", ev.Kind).Str("session_id", ev.SessionID).Msg("failed to handle event")
			}
		case <-timerC:
			timer = nil
			timerC = nil
			due, err := m.pending.DrainAll(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("failed to drain pending sessions")
				break
			}
			if len(due) > 0 {
				m.flushBatch(ctx, due)
			}
		case <-ctx.Done():
			m.drainAndFlush(context.Background())
			return ctx.Err()
		}
	}
}

func (m *Manager) runStartupSweep(ctx context.Context) {
	log.Info().Msg("running startup layer-generation sweep")
	stats, err := m.sweeper.SyncAll(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("startup layer sweep failed")
		return
	}
	log.Info().Int("total", stats.TotalFiles).Int("indexed", stats.IndexedFiles).Msg("startup layer sweep complete")
}

func (m *Manager) handleEvent(ctx context.Context, ev cortextypes.MemoryEvent, batchDelay time.Duration, timer **time.Timer, timerC *<-chan time.Time) error {
	switch ev.Kind {
	case "MessageAdded":
		if m.cfg.IndexOnMessage {
			log.Info().Str("session_id", ev.SessionID).Msg("real-time indexing session")
			return m.indexSession(ctx, ev.SessionID)
		}
		if err := m.pending.Add(ctx, ev.SessionID); err != nil {
			return err
		}
		if *timer == nil {
			*timer = time.NewTimer(batchDelay)
			*timerC = (*timer).C
		}
		return nil

	case "Closed":
		if !m.cfg.IndexOnClose {
			return nil
		}
		log.Info().Str("session_id", ev.SessionID).Msg("session closed, running close-time processing")

		// Extraction runs first so its projected memories participate in
		// this session's own indexing pass.
		if m.cfg.AutoExtract && m.extractor != nil {
			if _, err := m.extractor.ExtractSession(ctx, ev.SessionID, m.cfg.DefaultUserID, m.cfg.DefaultAgentID); err != nil {
				log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("extraction failed")
			}
		}
		if m.cfg.AutoIndex {
			return m.indexSession(ctx, ev.SessionID)
		}
		return nil

	default:
		return nil
	}
}

// drainAndFlush indexes every still-pending session before the event loop
// exits, per the "when the timer fires or the channel closes, drain P"
// rule — shutdown must not silently lose a debounced batch. It uses a
// fresh, short-lived context since ctx may already be cancelled.
func (m *Manager) drainAndFlush(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(detachedContext(ctx), 5*time.Second)
	defer cancel()
	due, err := m.pending.DrainAll(drainCtx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to drain pending sessions on shutdown")
		return
	}
	if len(due) > 0 {
		m.flushBatch(drainCtx, due)
	}
}

// detachedContext strips ctx's cancellation while keeping its values, so
// a shutdown drain isn't aborted by the very cancellation that triggered it.
func detachedContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (m *Manager) flushBatch(ctx context.Context, sessionIDs []string) {
	log.Info().Int("count", len(sessionIDs)).Msg("flushing batch")
	for _, id := range sessionIDs {
		if err := m.indexSession(ctx, id); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("failed to index session")
		}
	}
}

func (m *Manager) indexSession(ctx context.Context, threadID string) error {
	stats, err := m.indexer.SyncSession(ctx, threadID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", threadID).Msg("failed to index session")
		return err
	}
	log.Info().Str("session_id", threadID).
		Int("indexed", stats.IndexedFiles).Int("skipped", stats.SkippedFiles).Int("errors", stats.ErrorFiles).
		Msg("session indexed")
	return nil
}
