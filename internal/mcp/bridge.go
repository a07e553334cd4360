package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tyler-agent/tyler/internal/tools"
)

// Attribute keys attached to bridged tools.
const (
	AttrSource       = "source"
	AttrServer       = "server"
	AttrOriginalName = "original_name"
	SourceMCP        = "mcp"
)

// Bridge connects configured MCP servers and registers their tools in the
// local runtime under namespaced names.
type Bridge struct {
	runtime *tools.Runtime
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
	// defs holds the namespaced definitions registered per server, in
	// registration order.
	defs map[string][]tools.Definition
	// order remembers connect order so Cleanup can tear down in reverse.
	order []string
}

// NewBridge creates a bridge that registers into the given runtime.
func NewBridge(runtime *tools.Runtime, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		runtime: runtime,
		logger:  logger.With("component", "mcp"),
		clients: map[string]*Client{},
		defs:    map[string][]tools.Definition{},
	}
}

// Initialize connects every configured server and registers its tools. A
// failure on a server marked Required aborts initialization; failures on
// optional servers are logged and skipped.
func (b *Bridge) Initialize(ctx context.Context, configs []ServerConfig) error {
	for i := range configs {
		cfg := configs[i]
		if err := b.connectServer(ctx, &cfg); err != nil {
			if cfg.Required {
				b.Cleanup()
				return fmt.Errorf("required server %s: %w", cfg.Name, err)
			}
			b.logger.Warn("skipping unavailable server", "server", cfg.Name, "error", err)
		}
	}
	return nil
}

func (b *Bridge) connectServer(ctx context.Context, cfg *ServerConfig) error {
	client, err := NewClient(cfg, b.logger)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}

	registered := 0
	for _, remote := range client.Tools() {
		if err := b.registerTool(cfg.Name, client, remote); err != nil {
			client.Close()
			b.mu.Lock()
			delete(b.defs, cfg.Name)
			b.mu.Unlock()
			return err
		}
		registered++
	}

	b.mu.Lock()
	b.clients[cfg.Name] = client
	b.order = append(b.order, cfg.Name)
	b.mu.Unlock()

	b.logger.Info("bridged server", "server", cfg.Name, "tools", registered)
	return nil
}

func (b *Bridge) registerTool(server string, client *Client, remote *RemoteTool) error {
	name := NamespacedName(server, remote.Name)

	var params map[string]any
	if len(remote.InputSchema) > 0 {
		if err := json.Unmarshal(remote.InputSchema, &params); err != nil {
			return fmt.Errorf("tool %s: invalid input schema: %w", remote.Name, err)
		}
	}

	originalName := remote.Name
	tool := tools.Tool{
		Definition: tools.Definition{
			Name:        name,
			Description: remote.Description,
			Parameters:  params,
		},
		Run: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
			result, err := client.CallTool(ctx, originalName, args)
			if err != nil {
				return nil, err
			}
			if result.IsError {
				return nil, fmt.Errorf("%s", result.Text())
			}
			return &tools.Result{Content: result.Text()}, nil
		},
	}
	if err := b.runtime.Register(tool); err != nil {
		return err
	}
	if err := b.runtime.RegisterAttributes(name, map[string]any{
		AttrSource:       SourceMCP,
		AttrServer:       server,
		AttrOriginalName: originalName,
	}); err != nil {
		return err
	}

	b.mu.Lock()
	b.defs[server] = append(b.defs[server], tool.Definition)
	b.mu.Unlock()
	return nil
}

// ToolsForAgent returns the namespaced definitions registered for the
// named servers, in registration order. Unknown server names contribute
// nothing.
func (b *Bridge) ToolsForAgent(servers []string) []tools.Definition {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []tools.Definition
	for _, server := range servers {
		out = append(out, b.defs[server]...)
	}
	return out
}

// Clients returns the connected clients keyed by server name.
func (b *Bridge) Clients() map[string]*Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]*Client, len(b.clients))
	for k, v := range b.clients {
		out[k] = v
	}
	return out
}

// Cleanup closes all connected servers in reverse connect order.
func (b *Bridge) Cleanup() {
	b.mu.Lock()
	order := b.order
	clients := b.clients
	b.order = nil
	b.clients = map[string]*Client{}
	b.defs = map[string][]tools.Definition{}
	b.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		client, ok := clients[name]
		if !ok {
			continue
		}
		if err := client.Close(); err != nil {
			b.logger.Warn("error closing server", "server", name, "error", err)
		}
	}
}

// NamespacedName builds the local registration name for a remote tool:
// "<server>-<tool>" with every character outside [A-Za-z0-9_-] replaced by
// an underscore.
func NamespacedName(server, tool string) string {
	return sanitize(server) + "-" + sanitize(tool)
}

func sanitize(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
