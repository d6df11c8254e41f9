package react

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tuhinsharma121/template-agent/internal/checkpoint"
	"github.com/tuhinsharma121/template-agent/internal/llm"
	"github.com/tuhinsharma121/template-agent/internal/tools"
)

// scriptedClient replays canned responses and records every request.
type scriptedClient struct {
	mu        sync.Mutex
	responses []llm.Message
	requests  []*llm.ChatRequest
	err       error
}

func (c *scriptedClient) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: "done"}}, nil
	}
	msg := c.responses[0]
	c.responses = c.responses[1:]
	return &llm.ChatResponse{Message: msg, InputTokens: 10, OutputTokens: 2}, nil
}

func (c *scriptedClient) Provider() string { return "scripted" }

func toolCall(id, name string, args map[string]any) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: args}}}
}

func answer(text string) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: text}
}

func newAgent(t *testing.T, client llm.Client, cfg Config) *Agent {
	t.Helper()
	model, err := llm.NewModel(client, "gemini-2.5-flash", 0.3)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Model = model
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

var weatherTool = &tools.Tool{
	Name:        "get_weather",
	Description: "Current weather",
	Handler: func(_ context.Context, args map[string]any) (string, error) {
		return "sunny in " + args["city"].(string), nil
	},
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without a model should fail")
	}
}

func TestNew_Defaults(t *testing.T) {
	a := newAgent(t, &scriptedClient{}, Config{})
	if a.MaxIterations() != DefaultMaxIterations {
		t.Errorf("MaxIterations = %d, want %d", a.MaxIterations(), DefaultMaxIterations)
	}
	if a.Checkpointer() != nil || a.Store() != nil {
		t.Error("agent without persistence should report nil bindings")
	}
	if len(a.Tools()) != 0 {
		t.Errorf("Tools() = %v, want none", a.Tools())
	}
}

func TestInvoke_ToolRoundTrip(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{
		toolCall("c1", "get_weather", map[string]any{"city": "Austin"}),
		answer("It is sunny in Austin."),
	}}
	a := newAgent(t, client, Config{Prompt: "system prompt", Tools: []*tools.Tool{weatherTool}})

	var events []EventKind
	res, err := a.Invoke(context.Background(), Request{
		Input:   "weather in Austin?",
		OnEvent: func(ev Event) { events = append(events, ev.Kind) },
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if res.Answer != "It is sunny in Austin." || res.Iterations != 2 {
		t.Errorf("result = %+v", res)
	}
	if res.InputTokens != 20 || res.OutputTokens != 4 {
		t.Errorf("usage = %d/%d", res.InputTokens, res.OutputTokens)
	}
	// user, assistant(tool call), tool, assistant
	if len(res.Messages) != 4 || res.Messages[2].Role != llm.RoleTool || res.Messages[2].Content != "sunny in Austin" {
		t.Fatalf("messages = %+v", res.Messages)
	}
	if res.Messages[2].ToolCallID != "c1" {
		t.Errorf("tool message ToolCallID = %q", res.Messages[2].ToolCallID)
	}
	if len(events) != 3 || events[0] != EventToolCall || events[1] != EventToolResult || events[2] != EventAnswer {
		t.Errorf("events = %v", events)
	}

	first := client.requests[0]
	if first.Messages[0].Role != llm.RoleSystem || first.Messages[0].Content != "system prompt" {
		t.Errorf("first message = %+v, want the system prompt", first.Messages[0])
	}
	if len(first.Tools) != 1 || first.Tools[0]["name"] != "get_weather" {
		t.Errorf("tool definitions = %v", first.Tools)
	}
	if first.Model != "gemini-2.5-flash" || first.Temperature != 0.3 {
		t.Errorf("model params = %s/%v", first.Model, first.Temperature)
	}
}

func TestInvoke_ToolErrorsGoBackToModel(t *testing.T) {
	failing := &tools.Tool{
		Name: "flaky",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("upstream timeout")
		},
	}
	client := &scriptedClient{responses: []llm.Message{
		toolCall("c1", "flaky", nil),
		toolCall("c2", "missing_tool", nil),
		answer("Sorry, the tool failed."),
	}}
	a := newAgent(t, client, Config{Tools: []*tools.Tool{failing}})

	var toolErrs int
	res, err := a.Invoke(context.Background(), Request{
		Input: "try it",
		OnEvent: func(ev Event) {
			if ev.Kind == EventToolResult && ev.Err != nil {
				toolErrs++
			}
		},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(res.Messages[2].Content, "upstream timeout") {
		t.Errorf("tool error not fed back: %q", res.Messages[2].Content)
	}
	if !strings.Contains(res.Messages[4].Content, `tool "missing_tool" is not available`) {
		t.Errorf("unknown tool not fed back: %q", res.Messages[4].Content)
	}
	if toolErrs != 2 {
		t.Errorf("tool error events = %d, want 2", toolErrs)
	}
}

func TestInvoke_IterationLimit(t *testing.T) {
	loop := make([]llm.Message, 10)
	for i := range loop {
		loop[i] = toolCall("c", "get_weather", map[string]any{"city": "x"})
	}
	client := &scriptedClient{responses: loop}
	a := newAgent(t, client, Config{Tools: []*tools.Tool{weatherTool}, MaxIterations: 3})

	_, err := a.Invoke(context.Background(), Request{Input: "loop"})
	if !errors.Is(err, ErrIterationLimit) {
		t.Fatalf("Invoke = %v, want ErrIterationLimit", err)
	}
	if len(client.requests) != 3 {
		t.Errorf("model called %d times, want 3", len(client.requests))
	}
}

func TestInvoke_ModelError(t *testing.T) {
	boom := errors.New("quota exceeded")
	a := newAgent(t, &scriptedClient{err: boom}, Config{})
	if _, err := a.Invoke(context.Background(), Request{Input: "hi"}); !errors.Is(err, boom) {
		t.Fatalf("Invoke = %v, want wrapped model error", err)
	}
}

func TestInvoke_Checkpointing(t *testing.T) {
	mem := checkpoint.NewMemoryBackend()
	client := &scriptedClient{responses: []llm.Message{answer("Hi Alice."), answer("Your name is Alice.")}}
	a := newAgent(t, client, Config{Checkpointer: mem, Store: mem})
	ctx := context.Background()

	if _, err := a.Invoke(ctx, Request{Input: "I am Alice"}); !errors.Is(err, ErrThreadRequired) {
		t.Fatalf("Invoke without thread = %v, want ErrThreadRequired", err)
	}

	first, err := a.Invoke(ctx, Request{ThreadID: "t1", Input: "I am Alice"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if first.Checkpoint == nil || first.Checkpoint.Step != 1 {
		t.Fatalf("checkpoint = %+v", first.Checkpoint)
	}

	second, err := a.Invoke(ctx, Request{ThreadID: "t1", Input: "What is my name?"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if second.Checkpoint.ParentID != first.Checkpoint.ID {
		t.Error("second checkpoint should chain to the first")
	}

	// The second model call sees the first turn as history.
	msgs := client.requests[1].Messages
	if len(msgs) != 3 || msgs[0].Content != "I am Alice" || msgs[1].Content != "Hi Alice." {
		t.Errorf("second request messages = %+v", msgs)
	}

	history, err := a.History(ctx, "t1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 {
		t.Errorf("History = %d messages, want 4", len(history))
	}
	if other, _ := a.History(ctx, "t2"); len(other) != 0 {
		t.Errorf("unknown thread history = %v", other)
	}
}

func TestInvoke_StatelessIgnoresThread(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{answer("one"), answer("two")}}
	a := newAgent(t, client, Config{})
	ctx := context.Background()

	if _, err := a.Invoke(ctx, Request{ThreadID: "t", Input: "first"}); err != nil {
		t.Fatal(err)
	}
	res, err := a.Invoke(ctx, Request{ThreadID: "t", Input: "second"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Checkpoint != nil {
		t.Error("stateless agent wrote a checkpoint")
	}
	if n := len(client.requests[1].Messages); n != 1 {
		t.Errorf("stateless second turn sent %d messages, want 1", n)
	}
}

func TestInvoke_ToolsSeeThreadIDAndStore(t *testing.T) {
	var seen string
	remember := &tools.Tool{
		Name: "remember",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			seen = tools.ThreadIDFromContext(ctx)
			store := tools.StoreFromContext(ctx)
			if store == nil {
				return "", errors.New("no store on tool context")
			}
			if err := store.PutItem(ctx, []string{"memories", seen}, "note", map[string]any{"text": "likes tea"}); err != nil {
				return "", err
			}
			return "ok", nil
		},
	}
	client := &scriptedClient{responses: []llm.Message{toolCall("c1", "remember", nil), answer("done")}}
	backend := checkpoint.NewMemoryBackend()
	a := newAgent(t, client, Config{Tools: []*tools.Tool{remember}, Checkpointer: backend, Store: backend})

	if _, err := a.Invoke(context.Background(), Request{ThreadID: "thread-9", Input: "go"}); err != nil {
		t.Fatal(err)
	}
	if seen != "thread-9" {
		t.Errorf("tool saw thread %q, want thread-9", seen)
	}
	item, err := backend.GetItem(context.Background(), []string{"memories", "thread-9"}, "note")
	if err != nil || item.Value["text"] != "likes tea" {
		t.Errorf("stored item = %v, %v", item, err)
	}
}

func TestInvoke_StatelessToolsHaveNoStore(t *testing.T) {
	var hadStore bool
	check := &tools.Tool{
		Name: "check",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			hadStore = tools.StoreFromContext(ctx) != nil
			return "ok", nil
		},
	}
	client := &scriptedClient{responses: []llm.Message{toolCall("c1", "check", nil), answer("done")}}
	a := newAgent(t, client, Config{Tools: []*tools.Tool{check}})

	if _, err := a.Invoke(context.Background(), Request{Input: "go"}); err != nil {
		t.Fatal(err)
	}
	if hadStore {
		t.Error("a stateless agent must not expose a store to tools")
	}
}

func TestInvoke_ParallelToolCallsKeepOrder(t *testing.T) {
	release := make(chan struct{})
	slow := &tools.Tool{
		Name: "slow",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			select {
			case <-release:
				return "slow done", nil
			case <-time.After(5 * time.Second):
				return "", errors.New("fast tool never ran concurrently")
			}
		},
	}
	fast := &tools.Tool{
		Name: "fast",
		Handler: func(context.Context, map[string]any) (string, error) {
			close(release)
			return "fast done", nil
		},
	}
	client := &scriptedClient{responses: []llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "a", Name: "slow"}, {ID: "b", Name: "fast"}}},
		answer("both finished"),
	}}
	a := newAgent(t, client, Config{Tools: []*tools.Tool{slow, fast}})

	var events int
	res, err := a.Invoke(context.Background(), Request{Input: "go", OnEvent: func(Event) { events++ }})
	if err != nil {
		t.Fatal(err)
	}
	if res.Messages[2].ToolCallID != "a" || res.Messages[2].Content != "slow done" {
		t.Errorf("first tool message = %+v", res.Messages[2])
	}
	if res.Messages[3].ToolCallID != "b" || res.Messages[3].Content != "fast done" {
		t.Errorf("second tool message = %+v", res.Messages[3])
	}
	if events != 5 {
		t.Errorf("events = %d, want 5", events)
	}
}
