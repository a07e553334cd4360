package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content part types for multimodal messages.
const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

// ImageURL wraps an image reference, typically a data URL for inline bytes.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one typed element of a multimodal message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Content is a message body: either a plain text string or a list of typed
// parts. It serializes to whichever form it holds, matching the chat
// completions wire shape.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent builds a plain-text content value.
func TextContent(s string) Content {
	return Content{Text: s}
}

// PartsContent builds a multimodal content value.
func PartsContent(parts ...ContentPart) Content {
	return Content{Parts: parts}
}

// IsParts reports whether the content is the multimodal list form.
func (c Content) IsParts() bool {
	return c.Parts != nil
}

// IsEmpty reports whether the content carries no text and no parts.
func (c Content) IsEmpty() bool {
	return c.Text == "" && len(c.Parts) == 0
}

// AsText flattens the content to plain text. For the parts form, text parts
// are joined with newlines and image parts are skipped.
func (c Content) AsText() string {
	if !c.IsParts() {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type != PartTypeText || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// MarshalJSON emits a string for the text form and an array for the parts form.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsParts() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either a string or a list of typed parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("content parts: %w", err)
		}
		*c = Content{Parts: parts}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("content text: %w", err)
	}
	*c = Content{Text: s}
	return nil
}

// canonical returns the generic JSON value used for id hashing.
func (c Content) canonical() any {
	if !c.IsParts() {
		return c.Text
	}
	parts := make([]any, 0, len(c.Parts))
	for _, p := range c.Parts {
		m := map[string]any{"type": p.Type}
		if p.Text != "" {
			m["text"] = p.Text
		}
		if p.ImageURL != nil {
			m["image_url"] = map[string]any{"url": p.ImageURL.URL}
		}
		parts = append(parts, m)
	}
	return parts
}
