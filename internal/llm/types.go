// Package llm provides the provider-neutral chat types and the hosted
// model clients the agent talks to.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
	Name       string     `json:"name,omitempty"`         // Tool name on tool responses
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"` // Provider-assigned ID, echoed back on the tool response
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatRequest is one completion request. Tools are provider-neutral
// definitions as produced by tools.Registry.Definitions.
type ChatRequest struct {
	Model       string
	Temperature float64
	MaxTokens   int // zero means the provider default
	Messages    []Message
	Tools       []map[string]any
}

// ChatResponse is the unified response from any LLM provider. Wire format
// conversion happens at the provider boundaries (openai.go, anthropic.go).
type ChatResponse struct {
	Model        string
	CreatedAt    time.Time
	Message      Message
	FinishReason string

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}
