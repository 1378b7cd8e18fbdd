// Package cortextypes holds the data model shared across cortexmem
// subsystems: memories, messages, filters, events, layer records.
package cortextypes

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies a memory record.
type MemoryType string

const (
	MemoryPersonal   MemoryType = "personal"
	MemoryProcedural MemoryType = "procedural"
	MemoryFactual    MemoryType = "factual"
	MemoryEpisodic   MemoryType = "episodic"
	MemorySemantic   MemoryType = "semantic"
	MemoryConversational MemoryType = "conversational"
)

// ParseMemoryType maps a free-form tag to a MemoryType, defaulting to
// Semantic when unrecognised.
func ParseMemoryType(s string) MemoryType {
	switch MemoryType(s) {
	case MemoryPersonal, MemoryProcedural, MemoryFactual, MemoryEpisodic, MemorySemantic, MemoryConversational:
		return MemoryType(s)
	default:
		return MemorySemantic
	}
}

// Layer is one of the three abstraction layers.
type Layer string

const (
	LayerAbstract Layer = "L0"
	LayerOverview Layer = "L1"
	LayerDetail   Layer = "L2"
)

// MemoryMetadata is the companion metadata of a Memory record (§3).
type MemoryMetadata struct {
	URI             string         `json:"uri,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	AgentID         string         `json:"agent_id,omitempty"`
	RunID           string         `json:"run_id,omitempty"`
	ActorID         string         `json:"actor_id,omitempty"`
	Role            string         `json:"role,omitempty"`
	MemoryType      MemoryType     `json:"memory_type"`
	Hash            string         `json:"hash,omitempty"`
	ImportanceScore float64        `json:"importance_score"`
	Entities        []string       `json:"entities,omitempty"`
	Topics          []string       `json:"topics,omitempty"`
	Custom          map[string]any `json:"custom,omitempty"`
}

func NewMemoryMetadata(memType MemoryType) MemoryMetadata {
	return MemoryMetadata{MemoryType: memType, Custom: map[string]any{}}
}

func (m MemoryMetadata) WithUserID(id string) MemoryMetadata    { m.UserID = id; return m }
func (m MemoryMetadata) WithAgentID(id string) MemoryMetadata   { m.AgentID = id; return m }
func (m MemoryMetadata) WithRunID(id string) MemoryMetadata     { m.RunID = id; return m }
func (m MemoryMetadata) WithActorID(id string) MemoryMetadata   { m.ActorID = id; return m }
func (m MemoryMetadata) WithRole(role string) MemoryMetadata    { m.Role = role; return m }
func (m MemoryMetadata) WithImportance(score float64) MemoryMetadata {
	m.ImportanceScore = score
	return m
}

func (m *MemoryMetadata) AddEntity(e string) {
	for _, existing := range m.Entities {
		if existing == e {
			return
		}
	}
	m.Entities = append(m.Entities, e)
}

func (m *MemoryMetadata) AddTopic(t string) {
	for _, existing := range m.Topics {
		if existing == t {
			return
		}
	}
	m.Topics = append(m.Topics, t)
}

// Memory is the vector-adapter unit described in §3.
type Memory struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  MemoryMetadata `json:"metadata"`
}

// NewMemory builds a memory with a fresh id and the given content, and
// computes its content hash.
func NewMemory(content string, meta MemoryMetadata) Memory {
	now := time.Now().UTC()
	meta.Hash = ComputeHash(content)
	return Memory{
		ID:        uuid.NewString(),
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  meta,
	}
}

// ComputeHash is the persisted content-fingerprint used in
// metadata.hash. MD5 is sufficient here — it is never used for anything
// security-sensitive, only change detection across writes.
func ComputeHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ScoredMemory pairs a Memory with a retrieval/relevance score.
type ScoredMemory struct {
	Memory Memory
	Score  float64
}

// MemoryResult is the external retrieval result shape (§6).
type MemoryResult struct {
	URI     string  `json:"uri"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
	Layer   Layer   `json:"layer"`
}

// MemoryAction is an action the optimiser can perform on a memory.
type MemoryAction struct {
	Kind    string   `json:"kind"` // Merge | Delete | Update | Reclassify | Archive
	IDs     []string `json:"ids,omitempty"`
	ID      string   `json:"id,omitempty"`
	Changes map[string]any `json:"changes,omitempty"`
}

// MemoryEvent is emitted by the session subsystem and consumed by the
// automation manager.
type MemoryEvent struct {
	Kind      string // "MessageAdded" | "Closed"
	SessionID string
	MessageID string
}

// Filters constrains a memory query.
type Filters struct {
	UserID     string
	AgentID    string
	RunID      string
	MemoryType *MemoryType
}

func NewFilters() Filters { return Filters{} }

func (f Filters) ForUser(id string) Filters  { f.UserID = id; return f }
func (f Filters) ForAgent(id string) Filters { f.AgentID = id; return f }
func (f Filters) ForRun(id string) Filters   { f.RunID = id; return f }
func (f Filters) WithMemoryType(t MemoryType) Filters { f.MemoryType = &t; return f }

// MessageRole is the role of an LLM conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is an LLM chat message, distinct from a session Message.
type Message struct {
	Role    MessageRole
	Content string
	Name    string
}

func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }
func SystemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }

func (m Message) WithName(name string) Message { m.Name = name; return m }
