package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultThreadTitle is the title assigned until a user message arrives.
const DefaultThreadTitle = "Untitled Thread"

// titleMaxLen caps auto-derived titles before the ellipsis is appended.
const titleMaxLen = 30

// Thread is an ordered conversation with aggregated metrics. A thread owns
// its messages; messages own their attachments.
type Thread struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Source     map[string]any `json:"source,omitempty"`
	Messages   []*Message     `json:"messages"`
	Metrics    ThreadMetrics  `json:"metrics"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewThread creates an empty thread with a generated id.
func NewThread() *Thread {
	now := time.Now().UTC()
	return &Thread{
		ID:        uuid.NewString(),
		Title:     DefaultThreadTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a message, assigning its sequence and folding its
// metrics into the thread totals. A system message is placed at index 0
// with sequence 0; other roles get the next 1-indexed sequence. The thread
// title is derived from the first user message while still at the default.
func (t *Thread) AddMessage(m *Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	} else {
		m.Timestamp = m.Timestamp.UTC()
	}

	if m.Role == RoleSystem {
		m.Sequence = 0
		if len(t.Messages) > 0 && t.Messages[0].Role == RoleSystem {
			t.Messages[0] = m
		} else {
			t.Messages = append([]*Message{m}, t.Messages...)
		}
	} else {
		m.Sequence = t.nextSequence()
		t.Messages = append(t.Messages, m)
	}
	m.EnsureID()

	if m.Role == RoleUser && t.Title == DefaultThreadTitle {
		if text := m.Content.AsText(); text != "" {
			t.Title = deriveTitle(text)
		}
	}

	t.Metrics.AddMessage(m.Metrics)
	t.UpdatedAt = time.Now().UTC()
}

// EnsureSystemPrompt sets the system message, replacing any existing one.
// It is idempotent when the content already matches.
func (t *Thread) EnsureSystemPrompt(content string) {
	if sys := t.SystemMessage(); sys != nil && sys.Content.AsText() == content {
		return
	}
	t.AddMessage(NewMessage(RoleSystem, TextContent(content)))
}

// SystemMessage returns the system message, or nil when absent.
func (t *Thread) SystemMessage() *Message {
	if len(t.Messages) > 0 && t.Messages[0].Role == RoleSystem {
		return t.Messages[0]
	}
	return nil
}

// LastUserMessage returns the most recent user message, or nil.
func (t *Thread) LastUserMessage() *Message {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleUser {
			return t.Messages[i]
		}
	}
	return nil
}

// MessagesAfter returns the messages appended after the given count,
// preserving order. Used to report the new messages produced by a turn.
func (t *Thread) MessagesAfter(n int) []*Message {
	if n >= len(t.Messages) {
		return nil
	}
	out := make([]*Message, len(t.Messages)-n)
	copy(out, t.Messages[n:])
	return out
}

// GetMessagesForChatCompletion projects all messages in stored order.
func (t *Thread) GetMessagesForChatCompletion() []ChatMessage {
	out := make([]ChatMessage, 0, len(t.Messages))
	for _, m := range t.Messages {
		out = append(out, m.ToChatCompletionMessage())
	}
	return out
}

// Touch rewrites updated_at. Stores call this after mutating message rows.
func (t *Thread) Touch() {
	t.UpdatedAt = time.Now().UTC()
}

// Normalize rewrites all timestamps to UTC. Applied after deserialization so
// threads loaded from any backend compare structurally equal.
func (t *Thread) Normalize() {
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	for _, m := range t.Messages {
		m.Timestamp = m.Timestamp.UTC()
		m.Metrics.Timing.StartedAt = m.Metrics.Timing.StartedAt.UTC()
		m.Metrics.Timing.EndedAt = m.Metrics.Timing.EndedAt.UTC()
	}
}

func (t *Thread) nextSequence() int {
	max := 0
	for _, m := range t.Messages {
		if m.Role != RoleSystem && m.Sequence > max {
			max = m.Sequence
		}
	}
	return max + 1
}

func deriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleMaxLen {
		return text
	}
	return string(runes[:titleMaxLen]) + "..."
}
