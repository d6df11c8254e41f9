package llm

import (
	"context"
	"errors"
)

// Model binds a client to a model name and sampling temperature so the
// engine only supplies the conversation.
type Model struct {
	client      Client
	name        string
	temperature float64
}

// NewModel creates a model handle. The client and name are required.
func NewModel(client Client, name string, temperature float64) (*Model, error) {
	if client == nil {
		return nil, errors.New("llm: nil client")
	}
	if name == "" {
		return nil, errors.New("llm: empty model name")
	}
	return &Model{client: client, name: name, temperature: temperature}, nil
}

// Name returns the model identifier.
func (m *Model) Name() string { return m.name }

// Temperature returns the sampling temperature.
func (m *Model) Temperature() float64 { return m.temperature }

// Provider returns the backing provider label.
func (m *Model) Provider() string { return m.client.Provider() }

// Chat sends messages and tool definitions with the bound parameters.
func (m *Model) Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return m.client.Chat(ctx, &ChatRequest{
		Model:       m.name,
		Temperature: m.temperature,
		Messages:    messages,
		Tools:       tools,
	})
}
