// Package container wires the long-lived template-agent services using
// go.uber.org/dig. Per-request agents are built from the resolved
// [agent.Factory]; nothing in here holds a connection.
package container

import (
	"context"
	"log/slog"

	"go.uber.org/dig"

	"github.com/tuhinsharma121/template-agent/internal/agent"
	"github.com/tuhinsharma121/template-agent/internal/checkpoint"
	"github.com/tuhinsharma121/template-agent/internal/config"
	"github.com/tuhinsharma121/template-agent/internal/llm"
	"github.com/tuhinsharma121/template-agent/internal/mcp"
	"github.com/tuhinsharma121/template-agent/internal/prompts"
)

// Container holds the resolved service singletons. Callers use the typed
// getters and never import dig directly.
type Container struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   llm.Client
	registry *checkpoint.Registry
	factory  *agent.Factory
}

func (c *Container) Config() *config.Config         { return c.cfg }
func (c *Container) Logger() *slog.Logger           { return c.logger }
func (c *Container) LLMClient() llm.Client          { return c.client }
func (c *Container) Registry() *checkpoint.Registry { return c.registry }
func (c *Container) Factory() *agent.Factory        { return c.factory }

// SystemPrompt distinguishes the agent instruction from other strings in
// the graph.
type SystemPrompt string

// New builds and wires all services from cfg. Logs go to logger.
func New(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	d := dig.New()

	providers := []any{
		func() *config.Config { return cfg },
		func() *slog.Logger { return logger },
		newLLMClient,
		newRegistry,
		newToolConnector,
		newSystemPrompt,
		newFactory,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		client llm.Client,
		registry *checkpoint.Registry,
		factory *agent.Factory,
	) {
		result = &Container{
			cfg:      cfg,
			logger:   logger,
			client:   client,
			registry: registry,
			factory:  factory,
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return result, nil
}

func newLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	client, err := llm.NewClient(llm.ProviderConfig{
		Provider: cfg.Model.Provider,
		APIKey:   cfg.Model.APIKey,
		BaseURL:  cfg.Model.BaseURL,
	}, logger.With("component", "llm"))
	if err != nil {
		return nil, err
	}
	logger.Info("LLM client initialized", "provider", client.Provider(), "model", cfg.Model.Name)
	return client, nil
}

// newRegistry returns the process registry so every container in the
// process shares one in-memory backend.
func newRegistry() *checkpoint.Registry {
	return checkpoint.DefaultRegistry()
}

func newToolConnector(cfg *config.Config, logger *slog.Logger) agent.ToolConnector {
	return mcpConnector{mcp.NewConnector(mcp.ServerConfig{
		URL:     cfg.MCP.URL,
		Timeout: cfg.MCP.Timeout,
	}, logger.With("component", "mcp"))}
}

func newSystemPrompt() SystemPrompt {
	return SystemPrompt(prompts.SystemPrompt())
}

func newFactory(
	cfg *config.Config,
	logger *slog.Logger,
	client llm.Client,
	registry *checkpoint.Registry,
	connector agent.ToolConnector,
	prompt SystemPrompt,
) (*agent.Factory, error) {
	return agent.NewFactory(agent.FactoryConfig{
		Settings: agent.Settings{
			MCPURL:           cfg.MCP.URL,
			UseInMemorySaver: cfg.UseInMemorySaver,
			DatabaseURI:      cfg.Database.URI,
			ModelName:        cfg.Model.Name,
			MaxIterations:    cfg.Agent.MaxIterations,
		},
		Client:   client,
		Tools:    connector,
		Prompt:   string(prompt),
		Registry: registry,
		Logger:   logger.With("component", "agent"),
	})
}

// mcpConnector adapts [mcp.Connector] to [agent.ToolConnector]. A failed
// connect returns a nil interface, never a typed nil.
type mcpConnector struct {
	c *mcp.Connector
}

func (m mcpConnector) Connect(ctx context.Context, headers map[string]string) (agent.ToolSet, error) {
	conn, err := m.c.Connect(ctx, headers)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
