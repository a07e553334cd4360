// Package router selects which registered agent should handle a thread,
// by explicit @mention or by a classifier completion.
package router

import (
	"sort"
	"strings"
	"sync"

	"github.com/tyler-agent/tyler/internal/agent"
)

// Registry is the named set of agents available to the router. Names are
// case-insensitive; lookups lowercase their argument.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*agent.Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: map[string]*agent.Agent{}}
}

// Register adds an agent under its own name, replacing any previous entry.
func (r *Registry) Register(a *agent.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[strings.ToLower(a.Name())] = a
}

// Get returns the agent registered under name, or nil.
func (r *Registry) Get(name string) *agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[strings.ToLower(name)]
}

// Has reports whether an agent is registered under name.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
