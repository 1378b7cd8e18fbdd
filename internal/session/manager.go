package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"cortexmem/internal/cortexerr"
	"cortexmem/internal/cortextypes"
	"cortexmem/internal/cortexuri"
	"cortexmem/internal/storage"
)

// Status is a session's lifecycle state (invariant 7: monotonic
// active → closed → archived, reverse transitions rejected).
type Status string

const (
	StatusActive   Status = "active"
	StatusClosed   Status = "closed"
	StatusArchived Status = "archived"
)

var statusRank = map[Status]int{StatusActive: 0, StatusClosed: 1, StatusArchived: 2}

// Metadata is a session's `.session.json` payload.
type Metadata struct {
	ThreadID     string     `json:"thread_id"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	MessageCount int        `json:"message_count"`
	Participants []string   `json:"participants,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Title        string     `json:"title,omitempty"`
	Description  string     `json:"description,omitempty"`
}

func newMetadata(threadID string) Metadata {
	now := time.Now().UTC()
	return Metadata{ThreadID: threadID, Status: StatusActive, CreatedAt: now, UpdatedAt: now}
}

// transitionTo enforces invariant 7's monotonic status ordering.
func (m *Metadata) transitionTo(next Status) error {
	if statusRank[next] < statusRank[m.Status] {
		return cortexerr.Input("cannot transition session %s from %s back to %s", m.ThreadID, m.Status, next)
	}
	m.Status = next
	m.UpdatedAt = time.Now().UTC()
	if next == StatusClosed {
		now := time.Now().UTC()
		m.ClosedAt = &now
	}
	return nil
}

func (m *Metadata) addParticipant(id string) {
	for _, p := range m.Participants {
		if p == id {
			return
		}
	}
	m.Participants = append(m.Participants, id)
	m.UpdatedAt = time.Now().UTC()
}

// Manager is the session + message store.
type Manager struct {
	fs     *storage.Filesystem
	events chan<- cortextypes.MemoryEvent
}

// NewManager builds a session manager. events may be nil if no automation
// pipeline is listening; sends are non-blocking and dropped with a
// warning if the channel is full, since the filesystem write itself must
// never stall on a slow consumer.
func NewManager(fs *storage.Filesystem, events chan<- cortextypes.MemoryEvent) *Manager {
	return &Manager{fs: fs, events: events}
}

func sessionRoot(threadID string) *cortexuri.URI {
	return &cortexuri.URI{Dimension: cortexuri.DimensionSession, ID: threadID}
}

func metadataURI(threadID string) *cortexuri.URI {
	return sessionRoot(threadID).Child(storage.SessionFile)
}

func timelineRoot(threadID string) *cortexuri.URI {
	return sessionRoot(threadID).Child("timeline")
}

// CreateSession writes a fresh .session.json for threadID if one does
// not already exist, returning the existing metadata otherwise.
func (m *Manager) CreateSession(threadID string) (Metadata, error) {
	existing, err := m.readMetadata(threadID)
	if err == nil {
		return existing, nil
	}
	meta := newMetadata(threadID)
	return meta, m.writeMetadata(meta)
}

func (m *Manager) readMetadata(threadID string) (Metadata, error) {
	raw, err := m.fs.Read(metadataURI(threadID))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return Metadata{}, cortexerr.Storage(err, "parse session metadata for %s", threadID)
	}
	return meta, nil
}

func (m *Manager) writeMetadata(meta Metadata) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return cortexerr.Storage(err, "marshal session metadata for %s", meta.ThreadID)
	}
	return m.fs.Write(metadataURI(meta.ThreadID), string(raw))
}

// AppendMessage persists msg under the session's timeline and bumps the
// session's message count, then emits MessageAdded.
func (m *Manager) AppendMessage(threadID string, msg Message, participantID string) (string, error) {
	meta, err := m.readMetadata(threadID)
	if err != nil {
		meta = newMetadata(threadID)
	}
	if meta.Status != StatusActive {
		return "", cortexerr.Input("session %s is %s, cannot append messages", threadID, meta.Status)
	}

	uri, err := m.writeMessageBlob(threadID, msg)
	if err != nil {
		return "", err
	}

	meta.MessageCount++
	if participantID != "" {
		meta.addParticipant(participantID)
	}
	meta.UpdatedAt = time.Now().UTC()
	if err := m.writeMetadata(meta); err != nil {
		return "", err
	}

	m.emit(cortextypes.MemoryEvent{Kind: "MessageAdded", SessionID: threadID, MessageID: msg.ID})
	return uri, nil
}

// writeMessageBlob materialises msg at timeline/YYYY-MM/DD/HH_MM_SS_<id8>.md,
// disambiguating with a numeric suffix on the rare second+id-prefix
// collision (invariant 5: append-only, never overwritten).
func (m *Manager) writeMessageBlob(threadID string, msg Message) (string, error) {
	yearMonth := msg.Timestamp.Format("2006-01")
	day := msg.Timestamp.Format("02")
	id8 := msg.ID
	if len(id8) > 8 {
		id8 = id8[:8]
	}
	base := fmt.Sprintf("%s_%s", msg.Timestamp.Format("15_04_05"), id8)

	dayURI := timelineRoot(threadID).Child(yearMonth).Child(day)
	filename := base + ".md"
	uri := dayURI.Child(filename)

	for attempt := 1; attempt < 1000; attempt++ {
		exists, err := m.fs.Exists(uri)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		filename = fmt.Sprintf("%s-%d.md", base, attempt)
		uri = dayURI.Child(filename)
	}

	if err := m.fs.Write(uri, msg.ToMarkdown()); err != nil {
		return "", err
	}
	return uri.String(), nil
}

// ListMessages returns every message URI under the session's timeline, in
// filesystem order (which reflects wall-clock + id-prefix ordering per
// the ordering guarantee in §5).
func (m *Manager) ListMessages(threadID string) ([]string, error) {
	var uris []string
	root := timelineRoot(threadID)
	exists, err := m.fs.Exists(root)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	months, err := m.fs.List(root)
	if err != nil {
		return nil, err
	}
	for _, month := range months {
		if !month.IsDir {
			continue
		}
		monthURI := root.Child(month.Name)
		days, err := m.fs.List(monthURI)
		if err != nil {
			continue
		}
		for _, day := range days {
			if !day.IsDir {
				continue
			}
			dayURI := monthURI.Child(day.Name)
			files, err := m.fs.List(dayURI)
			if err != nil {
				continue
			}
			for _, f := range files {
				if f.IsDir || f.Name == storage.IndexFile {
					continue
				}
				uris = append(uris, dayURI.Child(f.Name).String())
			}
		}
	}
	return uris, nil
}

// CloseSession transitions the session to closed and emits Closed.
func (m *Manager) CloseSession(threadID string) error {
	meta, err := m.readMetadata(threadID)
	if err != nil {
		return err
	}
	if err := meta.transitionTo(StatusClosed); err != nil {
		return err
	}
	if err := m.writeMetadata(meta); err != nil {
		return err
	}
	if _, err := m.RegenerateTimelineIndexes(threadID); err != nil {
		log.Warn().Err(err).Str("session_id", threadID).Msg("failed to regenerate timeline indexes on close")
	}
	m.emit(cortextypes.MemoryEvent{Kind: "Closed", SessionID: threadID})
	return nil
}

// ArchiveSession transitions a closed session to archived.
func (m *Manager) ArchiveSession(threadID string) error {
	meta, err := m.readMetadata(threadID)
	if err != nil {
		return err
	}
	if err := meta.transitionTo(StatusArchived); err != nil {
		return err
	}
	return m.writeMetadata(meta)
}

func (m *Manager) emit(ev cortextypes.MemoryEvent) {
	if m.events == nil {
		return
	}
	select {
	case m.events <- ev:
	default:
		log.Warn().Str("kind", ev.Kind).Str("session_id", ev.SessionID).Msg("event channel full, dropping session event")
	}
}
