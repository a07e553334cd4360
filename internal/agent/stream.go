package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tyler-agent/tyler/internal/llm"
	"github.com/tyler-agent/tyler/pkg/models"
)

// UpdateType discriminates streamed agent events.
type UpdateType string

const (
	// UpdateContentChunk carries an incremental piece of assistant text.
	UpdateContentChunk UpdateType = "content_chunk"
	// UpdateAssistantMessage carries a finished assistant message.
	UpdateAssistantMessage UpdateType = "assistant_message"
	// UpdateToolMessage carries a finished tool result message.
	UpdateToolMessage UpdateType = "tool_message"
	// UpdateError reports a failure; it is the last event before the
	// channel closes.
	UpdateError UpdateType = "error"
	// UpdateComplete closes a successful turn with the final thread state.
	UpdateComplete UpdateType = "complete"
)

// StreamUpdate is one event from a streaming turn.
type StreamUpdate struct {
	Type UpdateType

	// Chunk is set for content_chunk events.
	Chunk string
	// Message is set for assistant_message and tool_message events.
	Message *models.Message
	// Thread and NewMessages are set on the complete event.
	Thread      *models.Thread
	NewMessages []*models.Message
	// Err is set on error events.
	Err error
}

// GoStreamByID loads a thread from the store and runs a streaming turn.
func (a *Agent) GoStreamByID(ctx context.Context, threadID string) (<-chan StreamUpdate, error) {
	thread, err := a.loadThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return a.GoStream(ctx, thread)
}

// GoStream runs one full turn like Go, but emits events as the completion
// streams. The channel is closed after the complete or error event. Every
// event send also watches ctx, so a consumer that abandons the channel can
// cancel and the turn goroutine will exit.
func (a *Agent) GoStream(ctx context.Context, thread *models.Thread) (<-chan StreamUpdate, error) {
	before := len(thread.Messages)
	thread.EnsureSystemPrompt(a.systemPrompt())
	if before > 0 && len(thread.Messages) > before {
		before++
	}
	if err := a.processAttachments(ctx, thread); err != nil {
		return nil, err
	}
	if err := a.saveThread(ctx, thread); err != nil {
		return nil, err
	}

	out := make(chan StreamUpdate)
	go a.streamLoop(ctx, thread, before, out)
	return out, nil
}

func (a *Agent) streamLoop(ctx context.Context, thread *models.Thread, before int, out chan<- StreamUpdate) {
	defer close(out)
	ctx, span := a.tracer.Start(ctx, "agent.go_stream")
	defer span.End()

	emit := func(u StreamUpdate) bool {
		select {
		case out <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		emit(StreamUpdate{Type: UpdateError, Err: err})
	}

	interrupted := false
	rounds := 0
	for rounds < a.cfg.MaxToolRecursion && !interrupted {
		rounds++

		assistant, err := a.streamOnce(ctx, thread, emit)
		if err != nil {
			fail(err)
			return
		}
		thread.AddMessage(assistant)
		if !emit(StreamUpdate{Type: UpdateAssistantMessage, Message: assistant}) {
			return
		}

		if len(assistant.ToolCalls) == 0 {
			if err := a.saveThread(ctx, thread); err != nil {
				fail(err)
				return
			}
			emit(StreamUpdate{Type: UpdateComplete, Thread: thread, NewMessages: thread.MessagesAfter(before)})
			return
		}

		interrupted = a.runToolCallsStreaming(ctx, thread, assistant.ToolCalls, emit)

		// Persist the completed cycle before the next completion call so a
		// later failure cannot lose earlier rounds.
		if err := a.saveThread(ctx, thread); err != nil {
			fail(err)
			return
		}
	}

	if !interrupted {
		a.logger.Warn("tool recursion budget exhausted", "thread_id", thread.ID, "rounds", rounds)
		halt := models.NewMessage(models.RoleAssistant, models.TextContent(MaxRecursionMessage))
		thread.AddMessage(halt)
		if !emit(StreamUpdate{Type: UpdateAssistantMessage, Message: halt}) {
			return
		}
		if err := a.saveThread(ctx, thread); err != nil {
			fail(err)
			return
		}
	}
	emit(StreamUpdate{Type: UpdateComplete, Thread: thread, NewMessages: thread.MessagesAfter(before)})
}

// streamOnce performs one streaming completion round, relaying content
// chunks and assembling the final assistant message.
func (a *Agent) streamOnce(ctx context.Context, thread *models.Thread, emit func(StreamUpdate) bool) (*models.Message, error) {
	start := time.Now().UTC()
	chunks, err := a.provider.Stream(ctx, llm.Request{
		Model:       a.cfg.ModelName,
		Temperature: a.cfg.Temperature,
		Messages:    thread.GetMessagesForChatCompletion(),
		Tools:       a.runtime.ForChatCompletion(),
	})
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	var (
		content string
		model   string
		usage   models.Usage
		acc     = newToolCallAccumulator()
	)
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.ContentDelta != "" {
			content += chunk.ContentDelta
			if !emit(StreamUpdate{Type: UpdateContentChunk, Chunk: chunk.ContentDelta}) {
				return nil, ctx.Err()
			}
		}
		for _, delta := range chunk.ToolCallDeltas {
			acc.add(delta)
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
	end := time.Now().UTC()

	if model == "" {
		model = a.cfg.ModelName
	}
	msg := models.NewMessage(models.RoleAssistant, models.TextContent(content))
	msg.ToolCalls = acc.calls()
	msg.Metrics = models.MessageMetrics{
		Model:  model,
		Timing: models.NewTiming(start, end),
		Usage:  usage,
		Weave:  a.traceCall(ctx, ""),
	}
	return msg, nil
}

// runToolCallsStreaming mirrors runToolCalls, additionally emitting each
// tool result as a tool_message event.
func (a *Agent) runToolCallsStreaming(ctx context.Context, thread *models.Thread, calls []models.ToolCall, emit func(StreamUpdate) bool) bool {
	for _, call := range calls {
		start := time.Now().UTC()
		msg := a.runtime.ExecuteToolCall(ctx, call)
		msg.Metrics.Timing = models.NewTiming(start, time.Now().UTC())

		if attrs := a.runtime.Attributes(call.Function.Name); attrs != nil {
			if msg.Attributes == nil {
				msg.Attributes = map[string]any{}
			}
			msg.Attributes[models.AttrToolAttributes] = attrs
		}
		if len(msg.Attachments) > 0 {
			a.storeAndProcess(ctx, msg)
		}
		thread.AddMessage(msg)
		emit(StreamUpdate{Type: UpdateToolMessage, Message: msg})

		if a.runtime.IsInterrupt(call.Function.Name) {
			a.logger.Info("interrupt tool fired", "tool", call.Function.Name, "thread_id", thread.ID)
			return true
		}
	}
	return false
}

// toolCallAccumulator assembles streamed tool call fragments keyed by the
// wire index. A fragment that opens a new index without an id is dropped;
// argument fragments for a known index are concatenated in arrival order.
type toolCallAccumulator struct {
	byIndex map[int]*models.ToolCall
	order   []int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: map[int]*models.ToolCall{}}
}

func (acc *toolCallAccumulator) add(delta llm.ToolCallDelta) {
	call, ok := acc.byIndex[delta.Index]
	if !ok {
		if delta.ID == "" {
			return
		}
		call = &models.ToolCall{ID: delta.ID, Type: models.ToolCallTypeFunction}
		acc.byIndex[delta.Index] = call
		acc.order = append(acc.order, delta.Index)
	}
	if delta.Name != "" {
		call.Function.Name += delta.Name
	}
	call.Function.Arguments += delta.Arguments
}

func (acc *toolCallAccumulator) calls() []models.ToolCall {
	if len(acc.order) == 0 {
		return nil
	}
	sort.Ints(acc.order)
	out := make([]models.ToolCall, 0, len(acc.order))
	for _, idx := range acc.order {
		out = append(out, *acc.byIndex[idx])
	}
	return out
}
