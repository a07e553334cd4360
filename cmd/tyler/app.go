package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/tyler-agent/tyler/internal/agent"
	"github.com/tyler-agent/tyler/internal/filestore"
	"github.com/tyler-agent/tyler/internal/llm"
	"github.com/tyler-agent/tyler/internal/mcp"
	"github.com/tyler-agent/tyler/internal/router"
	"github.com/tyler-agent/tyler/internal/service"
	"github.com/tyler-agent/tyler/internal/threadstore"
	"github.com/tyler-agent/tyler/internal/tools"
)

// chatOptions carries the chat command's flags into app construction.
type chatOptions struct {
	agentName string
	model     string
	purpose   string
	mcpConfig string
	stream    bool
}

// app bundles the wired runtime for one CLI invocation.
type app struct {
	service *service.Service
	store   threadstore.Store
	files   *filestore.LocalStore
	bridge  *mcp.Bridge
}

// newApp wires stores, the provider, the tool runtime, and one agent from
// the environment and flags.
func newApp(ctx context.Context, opts chatOptions, logger *slog.Logger) (*app, error) {
	store, err := threadstore.NewFromEnv(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("thread store: %w", err)
	}

	files, err := filestore.NewLocalStore(filestore.ConfigFromEnv(logger), logger)
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}

	provider, err := llm.NewOpenAIFromEnv(logger)
	if err != nil {
		return nil, err
	}

	runtime := tools.NewRuntime(logger)
	deps := tools.ModuleDeps{Blobs: files}
	for _, module := range []string{tools.ModuleWeb, tools.ModuleFiles} {
		if err := runtime.LoadModule(module, deps); err != nil {
			return nil, err
		}
	}

	var bridge *mcp.Bridge
	if opts.mcpConfig != "" {
		servers, err := loadMCPServers(opts.mcpConfig)
		if err != nil {
			return nil, err
		}
		bridge = mcp.NewBridge(runtime, logger)
		if err := bridge.Initialize(ctx, servers); err != nil {
			return nil, fmt.Errorf("mcp: %w", err)
		}
	}

	ag := agent.New(agent.Config{
		Name:      opts.agentName,
		ModelName: opts.model,
		Purpose:   opts.purpose,
	}, provider, runtime, store, files, logger)

	registry := router.NewRegistry()
	registry.Register(ag)
	rt := router.New(registry, provider, store, logger)

	return &app{
		service: service.New(store, rt, ag.Name(), logger),
		store:   store,
		files:   files,
		bridge:  bridge,
	}, nil
}

// newStoreOnlyApp wires just the stores, for thread and file inspection
// commands that never talk to the model.
func newStoreOnlyApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	store, err := threadstore.NewFromEnv(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("thread store: %w", err)
	}
	files, err := filestore.NewLocalStore(filestore.ConfigFromEnv(logger), logger)
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &app{store: store, files: files}, nil
}

func (a *app) close() {
	if a.bridge != nil {
		a.bridge.Cleanup()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("closing thread store", "error", err)
		}
	}
}

// loadMCPServers reads a JSON file holding a list of server configs.
func loadMCPServers(path string) ([]mcp.ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}
	var servers []mcp.ServerConfig
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil, fmt.Errorf("parse mcp config %s: %w", path, err)
	}
	return servers, nil
}
