package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tyler-agent/tyler/internal/llm"
	"github.com/tyler-agent/tyler/internal/threadstore"
	"github.com/tyler-agent/tyler/pkg/models"
)

// ClassifierModel is the model used for agent-selection completions.
const ClassifierModel = "gpt-4o-mini"

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// Router picks an agent name for a thread. Mentions in the last user
// message win; otherwise a classifier completion decides. The router never
// mutates the thread.
type Router struct {
	registry *Registry
	provider llm.Provider
	store    threadstore.Store
	logger   *slog.Logger
}

// New creates a router. The provider may be nil, in which case routing
// falls back to mention matching only.
func New(registry *Registry, provider llm.Provider, store threadstore.Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		provider: provider,
		store:    store,
		logger:   logger.With("component", "router"),
	}
}

// Registry returns the router's agent registry.
func (r *Router) Registry() *Registry {
	return r.registry
}

// RouteByID loads a thread and routes it. A missing thread is an error;
// an unroutable thread returns "".
func (r *Router) RouteByID(ctx context.Context, threadID string) (string, error) {
	if r.store == nil {
		return "", fmt.Errorf("no thread store configured")
	}
	thread, err := r.store.Get(ctx, threadID)
	if err != nil {
		return "", err
	}
	if thread == nil {
		return "", fmt.Errorf("%w: %s", threadstore.ErrThreadNotFound, threadID)
	}
	return r.Route(ctx, thread)
}

// Route returns the name of the agent that should handle the thread, or ""
// when no agent can be selected.
func (r *Router) Route(ctx context.Context, thread *models.Thread) (string, error) {
	last := thread.LastUserMessage()
	if last == nil {
		return "", nil
	}

	if name := r.matchMention(last.Content.AsText()); name != "" {
		r.logger.Debug("routed by mention", "thread_id", thread.ID, "agent", name)
		return name, nil
	}
	if r.provider == nil {
		return "", nil
	}
	return r.classify(ctx, last.Content.AsText())
}

// matchMention returns the first @mention that names a registered agent.
func (r *Router) matchMention(text string) string {
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(m[1])
		if r.registry.Has(name) {
			return name
		}
	}
	return ""
}

// classify asks the model to pick an agent by purpose. Any answer that is
// not a registered name yields "".
func (r *Router) classify(ctx context.Context, text string) (string, error) {
	resp, err := r.provider.Complete(ctx, llm.Request{
		Model: ClassifierModel,
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: models.TextContent(r.classifierPrompt())},
			{Role: models.RoleUser, Content: models.TextContent(text)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}

	name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(resp.Content), "@")))
	if !r.registry.Has(name) {
		r.logger.Debug("classifier returned unknown agent", "answer", resp.Content)
		return "", nil
	}
	return name, nil
}

func (r *Router) classifierPrompt() string {
	var b strings.Builder
	b.WriteString("Select the agent best suited to handle the user's message.\n")
	b.WriteString("Respond with exactly one agent name from this list, or \"none\".\n\nAgents:\n")
	for _, name := range r.registry.List() {
		b.WriteString("- " + name)
		if a := r.registry.Get(name); a != nil && a.Purpose() != "" {
			b.WriteString(": " + a.Purpose())
		}
		b.WriteString("\n")
	}
	return b.String()
}
