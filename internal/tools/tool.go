// Package tools implements the tool runtime: registration with schema
// validation, attribute metadata, builtin tool modules, and execution of
// model-issued tool calls into tool messages.
package tools

import (
	"context"

	"github.com/tyler-agent/tyler/pkg/models"
)

// Attribute keys and values recognized by the agent loop.
const (
	// AttrType marks a tool's behavioral class.
	AttrType = "type"
	// TypeInterrupt halts further tool processing in the current turn.
	TypeInterrupt = "interrupt"
)

// Definition describes a tool to the model in chat-completions form.
type Definition struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object for the tool's arguments.
	Parameters map[string]any
}

// Result is what an implementation returns. Files become attachments on
// the resulting tool message.
type Result struct {
	Content string
	Files   []*models.Attachment
}

// Func is a tool implementation. Arguments arrive already decoded from the
// model's JSON string.
type Func func(ctx context.Context, args map[string]any) (*Result, error)

// Tool pairs a definition with its implementation.
type Tool struct {
	Definition Definition
	Run        Func
	// Attributes carry runtime metadata such as the interrupt marker or
	// the originating MCP server.
	Attributes map[string]any
}
