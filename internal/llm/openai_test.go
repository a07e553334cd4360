package llm

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tyler-agent/tyler/pkg/models"
)

func TestConvertMessagesText(t *testing.T) {
	msgs := []models.ChatMessage{
		{Role: models.RoleSystem, Content: models.TextContent("be helpful")},
		{Role: models.RoleUser, Content: models.TextContent("hi")},
	}
	out := convertMessages(msgs)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "be helpful" {
		t.Fatalf("system message = %+v", out[0])
	}
}

func TestConvertMessagesMultimodal(t *testing.T) {
	msgs := []models.ChatMessage{{
		Role: models.RoleUser,
		Content: models.PartsContent(
			models.ContentPart{Type: models.PartTypeText, Text: "what is this"},
			models.ContentPart{Type: models.PartTypeImageURL,
				ImageURL: &models.ImageURL{URL: "data:image/png;base64,AAAA"}},
		),
	}}
	out := convertMessages(msgs)
	if len(out[0].MultiContent) != 2 {
		t.Fatalf("multi content parts = %d", len(out[0].MultiContent))
	}
	if out[0].MultiContent[1].Type != openai.ChatMessagePartTypeImageURL {
		t.Fatalf("second part type = %v", out[0].MultiContent[1].Type)
	}
	if out[0].Content != "" {
		t.Fatalf("content must be empty when multi content is used")
	}
}

func TestConvertMessagesToolRoundTrip(t *testing.T) {
	msgs := []models.ChatMessage{
		{
			Role:    models.RoleAssistant,
			Content: models.Content{},
			ToolCalls: []models.ToolCall{{
				ID:   "call_1",
				Type: models.ToolCallTypeFunction,
				Function: models.ToolCallFunction{
					Name:      "get_weather",
					Arguments: `{"city":"Paris"}`,
				},
			}},
		},
		{
			Role:       models.RoleTool,
			Content:    models.TextContent("sunny"),
			ToolCallID: "call_1",
			Name:       "get_weather",
		},
	}
	out := convertMessages(msgs)
	if len(out[0].ToolCalls) != 1 || out[0].ToolCalls[0].Function.Name != "get_weather" {
		t.Fatalf("tool calls = %+v", out[0].ToolCalls)
	}
	if out[1].Role != "tool" || out[1].ToolCallID != "call_1" {
		t.Fatalf("tool message = %+v", out[1])
	}
}

func TestBuildRequestStreamOptions(t *testing.T) {
	p := &OpenAIProvider{}
	req := Request{Model: "gpt-4o", Temperature: 0.3}

	batch := p.buildRequest(req, false)
	if batch.Stream || batch.StreamOptions != nil {
		t.Fatalf("batch request must not enable streaming: %+v", batch)
	}

	stream := p.buildRequest(req, true)
	if !stream.Stream || stream.StreamOptions == nil || !stream.StreamOptions.IncludeUsage {
		t.Fatalf("stream request must include usage: %+v", stream)
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI("", "", nil); err == nil {
		t.Fatal("expected error without api key")
	}
}
