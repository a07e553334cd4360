package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallTypeFunction is the only tool-call type emitted by chat models.
const ToolCallTypeFunction = "function"

// AttrToolAttributes is the reserved message attribute key holding a tool's
// declared attributes when its result is recorded.
const AttrToolAttributes = "tool_attributes"

// ToolCallFunction names the tool and carries its arguments as a JSON string.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a model-emitted request to run a tool.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// Message is one turn in a thread. System messages hold sequence 0; other
// roles are 1-indexed in insertion order.
type Message struct {
	ID          string         `json:"id,omitempty"`
	Role        Role           `json:"role"`
	Sequence    int            `json:"sequence"`
	Content     Content        `json:"content"`
	Name        string         `json:"name,omitempty"`
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	Attachments []*Attachment  `json:"attachments,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Source      map[string]any `json:"source,omitempty"`
	Metrics     MessageMetrics `json:"metrics"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewMessage creates a message with a UTC timestamp.
func NewMessage(role Role, content Content) *Message {
	return &Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// ComputeID derives the message identity by hashing the canonical JSON
// encoding of the identifying fields. Two messages with the same role,
// sequence, content, timestamp, name, and source hash to the same id, so
// the id survives serialization round-trips.
func (m *Message) ComputeID() string {
	fields := map[string]any{
		"role":      string(m.Role),
		"sequence":  m.Sequence,
		"content":   m.Content.canonical(),
		"timestamp": m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if m.Name != "" {
		fields["name"] = m.Name
	}
	if m.Source != nil {
		fields["source"] = m.Source
	}
	// encoding/json writes map keys in sorted order, which makes the
	// encoding canonical.
	encoded, err := json.Marshal(fields)
	if err != nil {
		encoded = fmt.Appendf(nil, "%s:%d:%s", m.Role, m.Sequence, m.Timestamp.UTC())
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// EnsureID fills the id from ComputeID when unset.
func (m *Message) EnsureID() {
	if m.ID == "" {
		m.ID = m.ComputeID()
	}
}

// ChatMessage is the chat-completion projection of a Message.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content"`
	Sequence   int        `json:"sequence"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToChatCompletionMessage projects the message for the model. User messages
// gain two augmentations from their attachments: processed image attachments
// become image_url parts, and document attachments with extracted text,
// overview, or error fields are summarized into the text. The stored content
// is never modified; only the projection is.
func (m *Message) ToChatCompletionMessage() ChatMessage {
	cm := ChatMessage{
		Role:       m.Role,
		Content:    m.Content,
		Sequence:   m.Sequence,
		Name:       m.Name,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
	if m.Role != RoleUser || len(m.Attachments) == 0 {
		return cm
	}

	text := m.Content.AsText()
	var imageParts []ContentPart
	for _, att := range m.Attachments {
		pc := att.ProcessedContent
		if pc == nil {
			continue
		}
		if stringField(pc, "type") == "image" {
			data := stringField(pc, "content")
			mime := stringField(pc, "mime_type")
			if data != "" {
				if mime == "" {
					mime = "image/png"
				}
				imageParts = append(imageParts, ContentPart{
					Type:     PartTypeImageURL,
					ImageURL: &ImageURL{URL: "data:" + mime + ";base64," + data},
				})
			}
			continue
		}
		summary := summarizeProcessed(att.Filename, pc)
		if summary != "" {
			text += summary
		}
	}

	if len(imageParts) > 0 {
		parts := make([]ContentPart, 0, len(imageParts)+1)
		if text != "" {
			parts = append(parts, ContentPart{Type: PartTypeText, Text: text})
		}
		parts = append(parts, imageParts...)
		cm.Content = Content{Parts: parts}
	} else {
		cm.Content = TextContent(text)
	}
	return cm
}

// summarizeProcessed renders a document attachment's processed content as a
// text block appended to the user message projection. Whichever of overview,
// extracted text, and error are present are preserved.
func summarizeProcessed(filename string, pc map[string]any) string {
	overview := stringField(pc, "overview")
	extracted := stringField(pc, "text")
	errText := stringField(pc, "error")
	if overview == "" && extracted == "" && errText == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n--- File: %s ---", filename)
	if overview != "" {
		fmt.Fprintf(&b, "\nOverview: %s", overview)
	}
	if extracted != "" {
		fmt.Fprintf(&b, "\nContent: %s", extracted)
	}
	if errText != "" {
		fmt.Fprintf(&b, "\nError: %s", errText)
	}
	return b.String()
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
