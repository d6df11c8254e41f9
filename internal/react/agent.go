// Package react runs the reason-and-act loop behind every agent: call the
// model, execute the tools it asks for, feed the results back, and repeat
// until the model answers in plain text.
package react

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tuhinsharma121/template-agent/internal/checkpoint"
	"github.com/tuhinsharma121/template-agent/internal/llm"
	"github.com/tuhinsharma121/template-agent/internal/tools"
)

// DefaultMaxIterations bounds model calls per turn when Config leaves it unset.
const DefaultMaxIterations = 25

// maxParallelTools bounds concurrent tool calls from one model response.
const maxParallelTools = 4

var (
	// ErrIterationLimit is returned when the model keeps requesting tools
	// past the iteration bound.
	ErrIterationLimit = errors.New("react: iteration limit reached")

	// ErrThreadRequired is returned when an agent with a checkpointer is
	// invoked without a thread ID.
	ErrThreadRequired = errors.New("react: thread ID required when checkpointing is enabled")
)

// Config describes an agent. Model is required; everything else is
// optional. Checkpointer and Store are normally the same backend.
type Config struct {
	Model         *llm.Model
	Prompt        string
	Tools         []*tools.Tool
	Checkpointer  checkpoint.Saver
	Store         checkpoint.Store
	MaxIterations int
	Logger        *slog.Logger
}

// Agent is an immutable, ready-to-invoke agent. It is safe for concurrent
// use across threads.
type Agent struct {
	model         *llm.Model
	prompt        string
	tools         *tools.Registry
	checkpointer  checkpoint.Saver
	store         checkpoint.Store
	maxIterations int
	logger        *slog.Logger
}

// New builds an agent from cfg.
func New(cfg Config) (*Agent, error) {
	if cfg.Model == nil {
		return nil, errors.New("react: model is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Agent{
		model:         cfg.Model,
		prompt:        cfg.Prompt,
		tools:         tools.NewRegistry(cfg.Tools...),
		checkpointer:  cfg.Checkpointer,
		store:         cfg.Store,
		maxIterations: maxIter,
		logger:        logger,
	}, nil
}

// Model returns the bound model.
func (a *Agent) Model() *llm.Model { return a.model }

// Prompt returns the system prompt.
func (a *Agent) Prompt() string { return a.prompt }

// Tools returns the agent's tools in registration order.
func (a *Agent) Tools() []*tools.Tool { return a.tools.All() }

// Checkpointer returns the checkpoint saver, or nil when the agent is
// stateless.
func (a *Agent) Checkpointer() checkpoint.Saver { return a.checkpointer }

// Store returns the long-term store, or nil.
func (a *Agent) Store() checkpoint.Store { return a.store }

// MaxIterations returns the per-turn model call bound.
func (a *Agent) MaxIterations() int { return a.maxIterations }

// EventKind identifies what an [Event] reports.
type EventKind int

const (
	// EventToolCall fires when the model requests a tool.
	EventToolCall EventKind = iota

	// EventToolResult fires when a tool finishes. Err is set on failure.
	EventToolResult

	// EventAnswer fires once with the final assistant message.
	EventAnswer
)

// Event is a progress notification delivered to Request.OnEvent.
type Event struct {
	Kind     EventKind
	ToolName string
	Message  llm.Message
	Err      error
}

// Request is one conversational turn.
type Request struct {
	// ThreadID selects the conversation. Required with a checkpointer.
	ThreadID string

	// Input is the user message.
	Input string

	// OnEvent, if set, receives progress events. Calls are serialized but
	// events of concurrently running tools may interleave.
	OnEvent func(Event)
}

// Result is the outcome of a turn.
type Result struct {
	ThreadID string
	Answer   string

	// Messages holds the messages produced by this turn, starting with
	// the user input.
	Messages []llm.Message

	// Iterations is the number of model calls made.
	Iterations int

	// Checkpoint is the checkpoint written for this turn, if any.
	Checkpoint *checkpoint.Checkpoint

	InputTokens  int
	OutputTokens int
}

// Invoke runs one turn. With a checkpointer, the thread's history is
// loaded first and a new checkpoint is written after the answer.
func (a *Agent) Invoke(ctx context.Context, req Request) (*Result, error) {
	if a.checkpointer != nil && req.ThreadID == "" {
		return nil, ErrThreadRequired
	}
	log := a.logger.With("thread", req.ThreadID)
	start := time.Now()

	history, err := a.History(ctx, req.ThreadID)
	if err != nil {
		return nil, err
	}
	log.Debug("loaded history", "count", len(history))

	turn := []llm.Message{{Role: llm.RoleUser, Content: req.Input}}
	result := &Result{ThreadID: req.ThreadID}
	defs := a.tools.Definitions()
	toolCtx := tools.WithStore(tools.WithThreadID(ctx, req.ThreadID), a.store)
	onEvent := serialize(req.OnEvent)

	for {
		if result.Iterations == a.maxIterations {
			log.Warn("iteration limit reached", "iterations", result.Iterations)
			return nil, fmt.Errorf("%w (%d)", ErrIterationLimit, a.maxIterations)
		}
		result.Iterations++

		resp, err := a.model.Chat(ctx, a.conversation(history, turn), defs)
		if err != nil {
			return nil, fmt.Errorf("model call %d: %w", result.Iterations, err)
		}
		result.InputTokens += resp.InputTokens
		result.OutputTokens += resp.OutputTokens

		msg := resp.Message
		msg.Role = llm.RoleAssistant
		turn = append(turn, msg)

		if len(msg.ToolCalls) == 0 {
			result.Answer = msg.Content
			onEvent(Event{Kind: EventAnswer, Message: msg})
			break
		}

		turn = append(turn, a.runTools(toolCtx, log, msg.ToolCalls, onEvent)...)
	}
	result.Messages = turn

	if a.checkpointer != nil {
		state := &checkpoint.State{Messages: slices.Concat(history, turn)}
		cp, err := a.checkpointer.SaveCheckpoint(ctx, req.ThreadID, state)
		if err != nil {
			return nil, fmt.Errorf("save checkpoint: %w", err)
		}
		result.Checkpoint = cp
	}

	log.Info("turn completed",
		"iterations", result.Iterations,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return result, nil
}

// History returns the stored conversation of threadID. Stateless agents
// and new threads have no history.
func (a *Agent) History(ctx context.Context, threadID string) ([]llm.Message, error) {
	if a.checkpointer == nil || threadID == "" {
		return nil, nil
	}
	cp, err := a.checkpointer.LatestCheckpoint(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp.State.Messages, nil
}

func (a *Agent) conversation(history, turn []llm.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+len(turn)+1)
	if a.prompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: a.prompt})
	}
	msgs = append(msgs, history...)
	return append(msgs, turn...)
}

// runTools executes the calls of one assistant message, up to
// maxParallelTools at a time. Results keep the order of calls.
func (a *Agent) runTools(ctx context.Context, log *slog.Logger, calls []llm.ToolCall, onEvent func(Event)) []llm.Message {
	results := make([]llm.Message, len(calls))
	var g errgroup.Group
	g.SetLimit(maxParallelTools)
	for i, tc := range calls {
		g.Go(func() error {
			results[i] = a.runTool(ctx, log, tc, onEvent)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runTool executes one call. Failures are reported back to the model as
// the tool's output so it can recover.
func (a *Agent) runTool(ctx context.Context, log *slog.Logger, tc llm.ToolCall, onEvent func(Event)) llm.Message {
	onEvent(Event{Kind: EventToolCall, ToolName: tc.Name})

	start := time.Now()
	out, err := a.tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		log.Warn("tool failed", "tool", tc.Name, "error", err)
		out = "Error: " + err.Error()
	} else {
		log.Debug("tool completed", "tool", tc.Name, "elapsed", time.Since(start).Round(time.Millisecond), "result_len", len(out))
	}

	msg := llm.Message{Role: llm.RoleTool, Content: out, ToolCallID: tc.ID, Name: tc.Name}
	onEvent(Event{Kind: EventToolResult, ToolName: tc.Name, Message: msg, Err: err})
	return msg
}

// serialize wraps fn so concurrent tools never call it at the same time.
// A nil fn becomes a no-op.
func serialize(fn func(Event)) func(Event) {
	if fn == nil {
		return func(Event) {}
	}
	var mu sync.Mutex
	return func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		fn(ev)
	}
}
