// Package session implements the session + message store (§3, §6): an
// append-only per-session timeline of markdown message blobs plus
// `.session.json` metadata with monotonic status transitions.
package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cortexmem/internal/cortextypes"
)

// Message is one immutable entry in a session's timeline.
type Message struct {
	ID        string
	Role      cortextypes.MessageRole
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

func NewMessage(role cortextypes.MessageRole, content string) Message {
	return Message{ID: uuid.NewString(), Role: role, Content: content, Timestamp: time.Now().UTC()}
}

var roleEmoji = map[cortextypes.MessageRole]string{
	cortextypes.RoleUser:      "👤",
	cortextypes.RoleAssistant: "🤖",
	cortextypes.RoleSystem:    "⚙️",
}

// ToMarkdown renders the message blob per spec.md's "Message blob format".
func (m Message) ToMarkdown() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# %s %s\n\n", roleEmoji[m.Role], capitalize(string(m.Role))))
	b.WriteString(fmt.Sprintf("**ID**: `%s`\n", m.ID))
	b.WriteString(fmt.Sprintf("**Timestamp**: %s\n\n", m.Timestamp.Format("2006-01-02 15:04:05")+" UTC"))
	b.WriteString("## Content\n\n")
	b.WriteString(m.Content)
	b.WriteString("\n\n")
	if len(m.Metadata) > 0 {
		if js, err := json.MarshalIndent(m.Metadata, "", "  "); err == nil {
			b.WriteString("## Metadata\n\n```json\n")
			b.Write(js)
			b.WriteString("\n```\n")
		}
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ParseMessage recovers a Message from a rendered blob. Parsing is
// best-effort: the round trip through markdown is lossy for metadata
// ordering but preserves id, role, timestamp and content.
func ParseMessage(content string) (Message, error) {
	m := Message{}
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "**ID**:") {
			parts := strings.SplitN(line, "`", 3)
			if len(parts) >= 2 {
				m.ID = parts[1]
			}
		}
		if strings.HasPrefix(line, "**Timestamp**:") {
			raw := strings.TrimSpace(strings.TrimPrefix(line, "**Timestamp**:"))
			raw = strings.TrimSuffix(raw, " UTC")
			if ts, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
				m.Timestamp = ts
			}
		}
	}
	switch {
	case strings.Contains(content, "👤"):
		m.Role = cortextypes.RoleUser
	case strings.Contains(content, "🤖"):
		m.Role = cortextypes.RoleAssistant
	default:
		m.Role = cortextypes.RoleSystem
	}

	if start := strings.Index(content, "## Content"); start >= 0 {
		rest := content[start+len("## Content"):]
		end := strings.Index(rest, "## Metadata")
		if end < 0 {
			end = len(rest)
		}
		m.Content = strings.TrimSpace(rest[:end])
	}
	return m, nil
}
