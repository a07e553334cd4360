// Package agent implements the conversational loop: completion calls,
// tool-call recursion, attachment processing, and metrics capture.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tyler-agent/tyler/internal/fileproc"
	"github.com/tyler-agent/tyler/internal/filestore"
	"github.com/tyler-agent/tyler/internal/llm"
	"github.com/tyler-agent/tyler/internal/threadstore"
	"github.com/tyler-agent/tyler/internal/tools"
	"github.com/tyler-agent/tyler/pkg/models"
)

// Defaults applied by New.
const (
	DefaultModel            = "gpt-4o"
	DefaultTemperature      = 0.7
	DefaultMaxToolRecursion = 10
)

// MaxRecursionMessage is appended when the tool recursion budget runs out.
const MaxRecursionMessage = "Maximum tool recursion depth reached. Stopping further tool calls."

// FileStore is the storage surface the agent needs for attachments.
type FileStore interface {
	models.BlobGetter
	Save(ctx context.Context, content []byte, filename, mimeType string) (*filestore.StoredFile, error)
}

// Config declares an agent.
type Config struct {
	Name        string
	ModelName   string
	Temperature float32
	// Purpose and Notes feed the system prompt.
	Purpose string
	Notes   []string
	// MaxToolRecursion bounds completion rounds that request tools.
	MaxToolRecursion int
}

// Agent runs conversations against one model configuration.
type Agent struct {
	cfg      Config
	provider llm.Provider
	runtime  *tools.Runtime
	store    threadstore.Store
	files    FileStore
	proc     *fileproc.Processor
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an agent. The thread store and file store may be nil; the
// agent then operates on caller-held threads with inline attachments only.
func New(cfg Config, provider llm.Provider, runtime *tools.Runtime, store threadstore.Store, files FileStore, logger *slog.Logger) *Agent {
	if cfg.Name == "" {
		cfg.Name = "Tyler"
	}
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxToolRecursion <= 0 {
		cfg.MaxToolRecursion = DefaultMaxToolRecursion
	}
	if logger == nil {
		logger = slog.Default()
	}
	if runtime == nil {
		runtime = tools.NewRuntime(logger)
	}
	return &Agent{
		cfg:      cfg,
		provider: provider,
		runtime:  runtime,
		store:    store,
		files:    files,
		proc:     fileproc.NewProcessor(logger),
		logger:   logger.With("component", "agent", "agent", cfg.Name),
		tracer:   otel.Tracer("tyler/agent"),
	}
}

// Name returns the agent's name.
func (a *Agent) Name() string {
	return a.cfg.Name
}

// Purpose returns the agent's purpose text.
func (a *Agent) Purpose() string {
	return a.cfg.Purpose
}

// GoByID loads a thread from the store and runs a turn on it.
func (a *Agent) GoByID(ctx context.Context, threadID string) (*models.Thread, []*models.Message, error) {
	thread, err := a.loadThread(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	return a.Go(ctx, thread)
}

func (a *Agent) loadThread(ctx context.Context, threadID string) (*models.Thread, error) {
	if a.store == nil {
		return nil, fmt.Errorf("no thread store configured")
	}
	thread, err := a.store.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, fmt.Errorf("%w: %s", threadstore.ErrThreadNotFound, threadID)
	}
	return thread, nil
}

// Go runs one full turn: system prompt, attachment processing, then
// completion rounds with tool execution, persisting after attachment
// processing and after every completed cycle. It returns the thread and
// the messages this turn added.
func (a *Agent) Go(ctx context.Context, thread *models.Thread) (*models.Thread, []*models.Message, error) {
	ctx, span := a.tracer.Start(ctx, "agent.go")
	defer span.End()

	before := len(thread.Messages)
	thread.EnsureSystemPrompt(a.systemPrompt())
	if before > 0 && len(thread.Messages) > before {
		// EnsureSystemPrompt prepended; the turn's new messages start one
		// position later.
		before++
	}

	if err := a.processAttachments(ctx, thread); err != nil {
		return nil, nil, err
	}
	if err := a.saveThread(ctx, thread); err != nil {
		return nil, nil, err
	}

	interrupted := false
	rounds := 0
	for rounds < a.cfg.MaxToolRecursion && !interrupted {
		rounds++

		assistant, err := a.completeOnce(ctx, thread)
		if err != nil {
			return nil, nil, err
		}
		thread.AddMessage(assistant)

		if len(assistant.ToolCalls) == 0 {
			if err := a.saveThread(ctx, thread); err != nil {
				return nil, nil, err
			}
			return thread, thread.MessagesAfter(before), nil
		}

		interrupted = a.runToolCalls(ctx, thread, assistant.ToolCalls)

		// Persist the completed cycle before the next completion call so a
		// later failure cannot lose earlier rounds.
		if err := a.saveThread(ctx, thread); err != nil {
			return nil, nil, err
		}
	}

	if !interrupted {
		a.logger.Warn("tool recursion budget exhausted", "thread_id", thread.ID, "rounds", rounds)
		thread.AddMessage(models.NewMessage(models.RoleAssistant, models.TextContent(MaxRecursionMessage)))
	}
	if err := a.saveThread(ctx, thread); err != nil {
		return nil, nil, err
	}
	return thread, thread.MessagesAfter(before), nil
}

// completeOnce performs one completion call and builds the assistant
// message with its metrics.
func (a *Agent) completeOnce(ctx context.Context, thread *models.Thread) (*models.Message, error) {
	start := time.Now().UTC()
	resp, err := a.provider.Complete(ctx, llm.Request{
		Model:       a.cfg.ModelName,
		Temperature: a.cfg.Temperature,
		Messages:    thread.GetMessagesForChatCompletion(),
		Tools:       a.runtime.ForChatCompletion(),
	})
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	end := time.Now().UTC()

	msg := models.NewMessage(models.RoleAssistant, models.TextContent(resp.Content))
	msg.ToolCalls = resp.ToolCalls
	msg.Metrics = models.MessageMetrics{
		Model:  resp.Model,
		Timing: models.NewTiming(start, end),
		Usage:  resp.Usage,
		Weave:  a.traceCall(ctx, resp.ID),
	}
	return msg, nil
}

// runToolCalls executes the round's tool calls in order and reports
// whether an interrupt tool fired. Remaining calls after an interrupt are
// not executed.
func (a *Agent) runToolCalls(ctx context.Context, thread *models.Thread, calls []models.ToolCall) bool {
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

		if a.runtime.IsInterrupt(call.Function.Name) {
			a.logger.Info("interrupt tool fired", "tool", call.Function.Name, "thread_id", thread.ID)
			return true
		}
	}
	return false
}

func (a *Agent) saveThread(ctx context.Context, thread *models.Thread) error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Save(ctx, thread); err != nil {
		a.logger.Error("failed to save thread", "thread_id", thread.ID, "error", err)
		return fmt.Errorf("save thread %s: %w", thread.ID, err)
	}
	return nil
}

// traceCall captures the active span identifiers so stored metrics can be
// correlated with traces.
func (a *Agent) traceCall(ctx context.Context, requestID string) models.TraceCall {
	span := trace.SpanContextFromContext(ctx)
	if !span.IsValid() {
		return models.TraceCall{RequestID: requestID}
	}
	return models.TraceCall{
		ID:        span.SpanID().String(),
		TraceID:   span.TraceID().String(),
		RequestID: requestID,
	}
}
