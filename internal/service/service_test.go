package service

import (
	"context"
	"testing"

	"github.com/tyler-agent/tyler/internal/agent"
	"github.com/tyler-agent/tyler/internal/llm"
	"github.com/tyler-agent/tyler/internal/router"
	"github.com/tyler-agent/tyler/internal/threadstore"
	"github.com/tyler-agent/tyler/pkg/models"
)

// echoProvider answers every completion with a fixed reply and no tools.
type echoProvider struct {
	reply string
}

func (p *echoProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Model: req.Model, Content: p.reply}, nil
}

func (p *echoProvider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk, 2)
	out <- llm.Chunk{ContentDelta: p.reply}
	out <- llm.Chunk{FinishReason: "stop"}
	close(out)
	return out, nil
}

func newTestService(t *testing.T) (*Service, threadstore.Store) {
	t.Helper()
	store := threadstore.NewMemoryStore()
	reg := router.NewRegistry()
	reg.Register(agent.New(agent.Config{Name: "Tyler"}, &echoProvider{reply: "hello from tyler"}, nil, store, nil, nil))
	rt := router.New(reg, nil, store, nil)
	return New(store, rt, "tyler", nil), store
}

func TestSubmitCreatesThread(t *testing.T) {
	svc, store := newTestService(t)

	res, err := svc.Submit(context.Background(), "hi there", Source{Name: "slack", ThreadID: "C1/42"}, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Thread == nil || len(res.NewMessages) == 0 {
		t.Fatalf("result = %+v", res)
	}
	last := res.NewMessages[len(res.NewMessages)-1]
	if last.Role != models.RoleAssistant || last.Content.AsText() != "hello from tyler" {
		t.Fatalf("assistant reply = %+v", last)
	}
	if res.Thread.Source["name"] != "slack" {
		t.Fatalf("thread source = %+v", res.Thread.Source)
	}

	saved, err := store.Get(context.Background(), res.Thread.ID)
	if err != nil || saved == nil {
		t.Fatalf("thread was not persisted: %v, %v", saved, err)
	}
}

func TestSubmitReusesThreadBySource(t *testing.T) {
	svc, _ := newTestService(t)
	source := Source{Name: "slack", ThreadID: "C1/42"}

	first, err := svc.Submit(context.Background(), "first", source, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	second, err := svc.Submit(context.Background(), "second", source, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if first.Thread.ID != second.Thread.ID {
		t.Fatalf("threads differ: %s vs %s", first.Thread.ID, second.Thread.ID)
	}
	// system + (user, assistant) x2
	if got := len(second.Thread.Messages); got != 5 {
		t.Fatalf("thread has %d messages, want 5", got)
	}
}

func TestSubmitDistinctSourcesGetDistinctThreads(t *testing.T) {
	svc, _ := newTestService(t)

	a, err := svc.Submit(context.Background(), "one", Source{Name: "slack", ThreadID: "A"}, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	b, err := svc.Submit(context.Background(), "two", Source{Name: "slack", ThreadID: "B"}, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if a.Thread.ID == b.Thread.ID {
		t.Fatal("distinct source thread ids must map to distinct threads")
	}
}

func TestSubmitNoAgent(t *testing.T) {
	store := threadstore.NewMemoryStore()
	rt := router.New(router.NewRegistry(), nil, store, nil)
	svc := New(store, rt, "", nil)

	if _, err := svc.Submit(context.Background(), "hi", Source{Name: "cli"}, nil); err == nil {
		t.Fatal("expected error with no registered agents")
	}
}

func TestSubmitRoutesByMention(t *testing.T) {
	store := threadstore.NewMemoryStore()
	reg := router.NewRegistry()
	reg.Register(agent.New(agent.Config{Name: "Tyler"}, &echoProvider{reply: "tyler here"}, nil, store, nil, nil))
	reg.Register(agent.New(agent.Config{Name: "Billing"}, &echoProvider{reply: "billing here"}, nil, store, nil, nil))
	svc := New(store, router.New(reg, nil, store, nil), "tyler", nil)

	res, err := svc.Submit(context.Background(), "@billing what do I owe?", Source{Name: "cli"}, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	last := res.NewMessages[len(res.NewMessages)-1]
	if last.Content.AsText() != "billing here" {
		t.Fatalf("reply = %q, want the billing agent", last.Content.AsText())
	}
}

func TestSubmitStream(t *testing.T) {
	svc, _ := newTestService(t)

	ch, err := svc.SubmitStream(context.Background(), "hi", Source{Name: "ws"}, nil)
	if err != nil {
		t.Fatalf("SubmitStream() error = %v", err)
	}
	var sawChunk, sawComplete bool
	for u := range ch {
		switch u.Type {
		case agent.UpdateContentChunk:
			sawChunk = true
		case agent.UpdateComplete:
			sawComplete = true
		case agent.UpdateError:
			t.Fatalf("unexpected error event: %v", u.Err)
		}
	}
	if !sawChunk || !sawComplete {
		t.Fatalf("stream events incomplete: chunk=%v complete=%v", sawChunk, sawComplete)
	}
}

func TestThreadPassThroughs(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.Submit(context.Background(), "hi", Source{Name: "cli"}, nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got, err := svc.GetThread(context.Background(), res.Thread.ID)
	if err != nil || got == nil {
		t.Fatalf("GetThread() = %v, %v", got, err)
	}

	recent, err := svc.ListRecent(context.Background(), 10)
	if err != nil || len(recent) != 1 {
		t.Fatalf("ListRecent() = %d threads, %v", len(recent), err)
	}

	deleted, err := svc.DeleteThread(context.Background(), res.Thread.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteThread() = %v, %v", deleted, err)
	}
	deleted, err = svc.DeleteThread(context.Background(), res.Thread.ID)
	if err != nil || deleted {
		t.Fatalf("second DeleteThread() = %v, %v", deleted, err)
	}

	missing, err := svc.GetThread(context.Background(), "missing")
	if err != nil || missing != nil {
		t.Fatalf("GetThread(missing) = %v, %v", missing, err)
	}
}
