package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tyler-agent/tyler/pkg/models"
)

// MaxToolArgsSize caps the JSON arguments accepted for a single call.
const MaxToolArgsSize = 10 << 20

// Runtime holds registered tools and executes model-issued tool calls.
// Execution never returns an error to the agent loop: failures and panics
// become tool message content so the conversation can continue.
type Runtime struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	// order keeps registration order so the tool list presented to the
	// model is stable across calls.
	order      []string
	validators map[string]*jsonschema.Schema
	logger     *slog.Logger
}

// NewRuntime creates an empty tool runtime.
func NewRuntime(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		tools:      map[string]*Tool{},
		validators: map[string]*jsonschema.Schema{},
		logger:     logger.With("component", "tools"),
	}
}

// Register adds a tool. The parameters schema is compiled up front so a
// malformed definition fails here instead of mid-conversation. Registering
// a name twice keeps the original definition and replaces only the
// implementation.
func (r *Runtime) Register(tool Tool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Run == nil {
		return fmt.Errorf("tool %s has no implementation", tool.Definition.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Definition.Name
	if existing, ok := r.tools[name]; ok {
		existing.Run = tool.Run
		r.logger.Debug("replaced tool implementation", "tool", name)
		return nil
	}

	validator, err := compileSchema(name, tool.Definition.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}

	t := tool
	r.tools[name] = &t
	r.order = append(r.order, name)
	if validator != nil {
		r.validators[name] = validator
	}
	return nil
}

// RegisterAttributes attaches runtime attributes to a registered tool.
func (r *Runtime) RegisterAttributes(name string, attrs map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tool, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if tool.Attributes == nil {
		tool.Attributes = map[string]any{}
	}
	for k, v := range attrs {
		tool.Attributes[k] = v
	}
	return nil
}

// Attributes returns a tool's attributes, or nil when the tool is unknown
// or carries none.
func (r *Runtime) Attributes(name string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok || tool.Attributes == nil {
		return nil
	}
	out := make(map[string]any, len(tool.Attributes))
	for k, v := range tool.Attributes {
		out[k] = v
	}
	return out
}

// IsInterrupt reports whether a tool is marked to halt further tool
// processing in the current turn.
func (r *Runtime) IsInterrupt(name string) bool {
	attrs := r.Attributes(name)
	if attrs == nil {
		return false
	}
	t, _ := attrs[AttrType].(string)
	return t == TypeInterrupt
}

// Has reports whether a tool is registered.
func (r *Runtime) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names in registration order.
func (r *Runtime) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// ExecuteToolCall runs one model-issued tool call and returns the tool
// message carrying its result. Decode failures, validation failures,
// implementation errors, and panics all become message content prefixed
// with "Error executing tool: ".
func (r *Runtime) ExecuteToolCall(ctx context.Context, call models.ToolCall) *models.Message {
	msg := models.NewMessage(models.RoleTool, models.Content{})
	msg.ToolCallID = call.ID
	msg.Name = call.Function.Name

	result, err := r.execute(ctx, call)
	if err != nil {
		r.logger.Warn("tool call failed", "tool", call.Function.Name, "error", err)
		msg.Content = models.TextContent("Error executing tool: " + err.Error())
		return msg
	}

	msg.Content = models.TextContent(result.Content)
	msg.Attachments = result.Files
	return msg
}

func (r *Runtime) execute(ctx context.Context, call models.ToolCall) (result *Result, err error) {
	name := call.Function.Name

	r.mu.RLock()
	tool, ok := r.tools[name]
	validator := r.validators[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}

	if len(call.Function.Arguments) > MaxToolArgsSize {
		return nil, fmt.Errorf("arguments exceed %d bytes", MaxToolArgsSize)
	}

	args := map[string]any{}
	if raw := call.Function.Arguments; raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %v", err)
		}
	}

	if validator != nil {
		var doc any
		// Re-decode through the validator's expected generic form.
		data, _ := json.Marshal(args)
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid arguments: %v", err)
		}
		if err := validator.Validate(doc); err != nil {
			return nil, fmt.Errorf("arguments do not match schema: %v", err)
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	res, err := tool.Run(ctx, args)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &Result{}
	}
	return res, nil
}

// ForChatCompletion renders the registered tools in the form the
// chat-completions API expects, in registration order.
func (r *Runtime) ForChatCompletion() []openai.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		params := tool.Definition.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Definition.Name,
				Description: tool.Definition.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("serialize schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	url := "tyler://tools/" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("invalid parameters schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters schema: %w", err)
	}
	return schema, nil
}
