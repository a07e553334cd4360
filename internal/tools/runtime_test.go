package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/tyler-agent/tyler/pkg/models"
)

func echoTool(name string) Tool {
	return Tool{
		Definition: Definition{
			Name:        name,
			Description: "echoes its input",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
				"required": []any{"text"},
			},
		},
		Run: func(ctx context.Context, args map[string]any) (*Result, error) {
			text, _ := args["text"].(string)
			return &Result{Content: "echo: " + text}, nil
		},
	}
}

func call(name, arguments string) models.ToolCall {
	return models.ToolCall{
		ID:   "call_1",
		Type: models.ToolCallTypeFunction,
		Function: models.ToolCallFunction{
			Name:      name,
			Arguments: arguments,
		},
	}
}

func TestExecuteToolCallSuccess(t *testing.T) {
	rt := NewRuntime(nil)
	if err := rt.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	msg := rt.ExecuteToolCall(context.Background(), call("echo", `{"text":"hi"}`))
	if msg.Role != models.RoleTool {
		t.Fatalf("role = %s", msg.Role)
	}
	if msg.ToolCallID != "call_1" || msg.Name != "echo" {
		t.Fatalf("identity fields wrong: %+v", msg)
	}
	if msg.Content.AsText() != "echo: hi" {
		t.Fatalf("content = %q", msg.Content.AsText())
	}
}

func TestExecuteToolCallErrorsBecomeContent(t *testing.T) {
	rt := NewRuntime(nil)

	failing := Tool{
		Definition: Definition{Name: "fail"},
		Run: func(ctx context.Context, args map[string]any) (*Result, error) {
			return nil, fmt.Errorf("backend unavailable")
		},
	}
	panicking := Tool{
		Definition: Definition{Name: "panic"},
		Run: func(ctx context.Context, args map[string]any) (*Result, error) {
			panic("boom")
		},
	}
	for _, tool := range []Tool{failing, panicking} {
		if err := rt.Register(tool); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	cases := []struct {
		name string
		call models.ToolCall
		want string
	}{
		{"implementation error", call("fail", "{}"), "Error executing tool: backend unavailable"},
		{"panic recovered", call("panic", "{}"), "Error executing tool: panic: boom"},
		{"unknown tool", call("missing", "{}"), "Error executing tool: tool not found: missing"},
		{"invalid arguments json", call("fail", "{not json"), "Error executing tool: invalid arguments"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := rt.ExecuteToolCall(context.Background(), tc.call)
			if !strings.HasPrefix(msg.Content.AsText(), tc.want) {
				t.Fatalf("content = %q, want prefix %q", msg.Content.AsText(), tc.want)
			}
		})
	}
}

func TestExecuteToolCallEmptyArguments(t *testing.T) {
	rt := NewRuntime(nil)
	tool := Tool{
		Definition: Definition{Name: "noargs"},
		Run: func(ctx context.Context, args map[string]any) (*Result, error) {
			if args == nil {
				t.Fatalf("expected empty map, got nil")
			}
			return &Result{Content: "ok"}, nil
		},
	}
	if err := rt.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	msg := rt.ExecuteToolCall(context.Background(), call("noargs", ""))
	if msg.Content.AsText() != "ok" {
		t.Fatalf("content = %q", msg.Content.AsText())
	}
}

func TestExecuteToolCallSchemaViolation(t *testing.T) {
	rt := NewRuntime(nil)
	if err := rt.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	msg := rt.ExecuteToolCall(context.Background(), call("echo", `{"wrong":"field"}`))
	if !strings.HasPrefix(msg.Content.AsText(), "Error executing tool: arguments do not match schema") {
		t.Fatalf("content = %q", msg.Content.AsText())
	}
}

func TestRegisterInvalidSchemaFails(t *testing.T) {
	rt := NewRuntime(nil)
	bad := Tool{
		Definition: Definition{
			Name:       "bad",
			Parameters: map[string]any{"type": "object", "properties": "not-a-map"},
		},
		Run: func(ctx context.Context, args map[string]any) (*Result, error) { return nil, nil },
	}
	if err := rt.Register(bad); err == nil {
		t.Fatal("expected schema compile error")
	}
}

func TestRegisterDuplicateKeepsDefinition(t *testing.T) {
	rt := NewRuntime(nil)
	if err := rt.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	replacement := Tool{
		Definition: Definition{Name: "echo", Description: "different description"},
		Run: func(ctx context.Context, args map[string]any) (*Result, error) {
			return &Result{Content: "replaced"}, nil
		},
	}
	if err := rt.Register(replacement); err != nil {
		t.Fatalf("Register() replacement error = %v", err)
	}

	// The new implementation runs, but the original definition is kept.
	msg := rt.ExecuteToolCall(context.Background(), call("echo", `{"text":"x"}`))
	if msg.Content.AsText() != "replaced" {
		t.Fatalf("implementation not replaced: %q", msg.Content.AsText())
	}
	for _, tool := range rt.ForChatCompletion() {
		if tool.Function.Name == "echo" && tool.Function.Description != "echoes its input" {
			t.Fatalf("definition was overwritten: %q", tool.Function.Description)
		}
	}
}

func TestInterruptAttribute(t *testing.T) {
	rt := NewRuntime(nil)
	if err := rt.Register(echoTool("halt")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if rt.IsInterrupt("halt") {
		t.Fatal("tool should not be interrupt before attributes are set")
	}
	if err := rt.RegisterAttributes("halt", map[string]any{AttrType: TypeInterrupt}); err != nil {
		t.Fatalf("RegisterAttributes() error = %v", err)
	}
	if !rt.IsInterrupt("halt") {
		t.Fatal("interrupt attribute not honored")
	}
	if err := rt.RegisterAttributes("nope", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestExecuteToolCallArtifacts(t *testing.T) {
	rt := NewRuntime(nil)
	artifact := Tool{
		Definition: Definition{Name: "make-file"},
		Run: func(ctx context.Context, args map[string]any) (*Result, error) {
			return &Result{
				Content: "created report.txt",
				Files: []*models.Attachment{
					{Filename: "report.txt", Content: []byte("data")},
				},
			}, nil
		},
	}
	if err := rt.Register(artifact); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	msg := rt.ExecuteToolCall(context.Background(), call("make-file", "{}"))
	if len(msg.Attachments) != 1 || msg.Attachments[0].Filename != "report.txt" {
		t.Fatalf("artifact not attached: %+v", msg.Attachments)
	}
}

func TestForChatCompletionKeepsRegistrationOrder(t *testing.T) {
	rt := NewRuntime(nil)
	names := []string{"zeta", "alpha", "mid", "beta", "omega"}
	for _, name := range names {
		if err := rt.Register(echoTool(name)); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	// Re-registering must not change the position.
	if err := rt.Register(echoTool("alpha")); err != nil {
		t.Fatalf("Register(alpha) again error = %v", err)
	}

	defs := rt.ForChatCompletion()
	if len(defs) != len(names) {
		t.Fatalf("expected %d tools, got %d", len(names), len(defs))
	}
	for i, name := range names {
		if defs[i].Function.Name != name {
			t.Fatalf("tool %d = %q, want %q", i, defs[i].Function.Name, name)
		}
	}
	for i, name := range rt.Names() {
		if name != names[i] {
			t.Fatalf("Names()[%d] = %q, want %q", i, name, names[i])
		}
	}
}

func TestForChatCompletion(t *testing.T) {
	rt := NewRuntime(nil)
	if err := rt.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	defs := rt.ForChatCompletion()
	if len(defs) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(defs))
	}
	if defs[0].Function.Name != "echo" || defs[0].Function.Parameters == nil {
		t.Fatalf("unexpected definition: %+v", defs[0])
	}
}
