// Package service is the ingress surface transport adapters build on:
// submit a user message, get the turn's results, and manage threads.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tyler-agent/tyler/internal/agent"
	"github.com/tyler-agent/tyler/internal/router"
	"github.com/tyler-agent/tyler/internal/threadstore"
	"github.com/tyler-agent/tyler/pkg/models"
)

// Source identifies where a submission came from. ThreadID is the
// caller's stable conversation key; submissions with the same source name
// and thread id land on the same thread.
type Source struct {
	Name     string
	ThreadID string
}

// Result is what a submission returns.
type Result struct {
	Thread      *models.Thread
	NewMessages []*models.Message
}

// Service wires the router, agents, and thread store behind a transport
// neutral API.
type Service struct {
	store  threadstore.Store
	router *router.Router
	// defaultAgent handles threads the router cannot place.
	defaultAgent string
	logger       *slog.Logger
}

// New creates a service. defaultAgent may be empty, in which case
// unroutable submissions fail.
func New(store threadstore.Store, rt *router.Router, defaultAgent string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		router:       rt,
		defaultAgent: defaultAgent,
		logger:       logger.With("component", "service"),
	}
}

// Submit appends a user message to the source's thread, picks an agent,
// and runs a batch turn.
func (s *Service) Submit(ctx context.Context, text string, source Source, attachments []*models.Attachment) (*Result, error) {
	thread, ag, err := s.prepare(ctx, text, source, attachments)
	if err != nil {
		return nil, err
	}
	thread, added, err := ag.Go(ctx, thread)
	if err != nil {
		return nil, err
	}
	return &Result{Thread: thread, NewMessages: added}, nil
}

// SubmitStream is Submit in streaming form; events are forwarded from the
// agent unchanged.
func (s *Service) SubmitStream(ctx context.Context, text string, source Source, attachments []*models.Attachment) (<-chan agent.StreamUpdate, error) {
	thread, ag, err := s.prepare(ctx, text, source, attachments)
	if err != nil {
		return nil, err
	}
	return ag.GoStream(ctx, thread)
}

// prepare loads or creates the thread, appends the user message, and
// selects the agent for the turn.
func (s *Service) prepare(ctx context.Context, text string, source Source, attachments []*models.Attachment) (*models.Thread, *agent.Agent, error) {
	thread, err := s.findOrCreateThread(ctx, source)
	if err != nil {
		return nil, nil, err
	}

	msg := models.NewMessage(models.RoleUser, models.TextContent(text))
	msg.Attachments = attachments
	if source.Name != "" {
		msg.Source = sourceMap(source)
	}
	thread.AddMessage(msg)

	name, err := s.router.Route(ctx, thread)
	if err != nil {
		s.logger.Warn("routing failed, using default agent", "error", err)
		name = ""
	}
	if name == "" {
		name = s.defaultAgent
	}
	ag := s.router.Registry().Get(name)
	if ag == nil {
		return nil, nil, fmt.Errorf("no agent available for thread %s", thread.ID)
	}
	s.logger.Info("submission accepted",
		"thread_id", thread.ID, "agent", ag.Name(), "source", source.Name)
	return thread, ag, nil
}

// findOrCreateThread resolves the thread for a source. An empty thread id
// always creates a fresh thread.
func (s *Service) findOrCreateThread(ctx context.Context, source Source) (*models.Thread, error) {
	if source.ThreadID != "" {
		if thread, err := s.store.Get(ctx, source.ThreadID); err != nil {
			return nil, err
		} else if thread != nil {
			return thread, nil
		}
		if source.Name != "" {
			matches, err := s.store.FindBySource(ctx, source.Name, map[string]any{"thread_id": source.ThreadID})
			if err != nil {
				return nil, err
			}
			if len(matches) > 0 {
				return matches[0], nil
			}
		}
	}

	thread := models.NewThread()
	if source.Name != "" {
		thread.Source = sourceMap(source)
	}
	return thread, nil
}

// GetThread passes through to the thread store. A missing thread returns
// (nil, nil).
func (s *Service) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	return s.store.Get(ctx, id)
}

// ListRecent returns threads by most recent activity.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]*models.Thread, error) {
	return s.store.ListRecent(ctx, limit)
}

// DeleteThread removes a thread, reporting whether it existed.
func (s *Service) DeleteThread(ctx context.Context, id string) (bool, error) {
	return s.store.Delete(ctx, id)
}

func sourceMap(source Source) map[string]any {
	out := map[string]any{"name": source.Name}
	if source.ThreadID != "" {
		out["thread_id"] = source.ThreadID
	}
	return out
}
