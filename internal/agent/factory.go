package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuhinsharma121/template-agent/internal/checkpoint"
	"github.com/tuhinsharma121/template-agent/internal/llm"
	"github.com/tuhinsharma121/template-agent/internal/react"
	"github.com/tuhinsharma121/template-agent/internal/tools"
)

// Temperature is the sampling temperature every agent's model is bound to.
const Temperature = 0.3

// DefaultModel is used when Settings leaves the model name empty.
const DefaultModel = "gemini-2.5-flash"

// Settings are the process-wide inputs to agent construction.
type Settings struct {
	// MCPURL is the tool server endpoint, reported in connection errors.
	MCPURL string

	// UseInMemorySaver selects the shared in-memory backend and marks the
	// deployment as local, which makes tool server failures non-fatal.
	UseInMemorySaver bool

	// DatabaseURI is opened for every database-backed session.
	DatabaseURI string

	// ModelName identifies the hosted model.
	ModelName string

	// MaxIterations bounds model calls per turn. Zero means the engine default.
	MaxIterations int
}

// DatabaseOpener opens a new, exclusively owned database backend.
type DatabaseOpener func(ctx context.Context, uri string) (checkpoint.ScopedBackend, error)

// FactoryConfig holds a factory's collaborators. Client and Tools are
// required.
type FactoryConfig struct {
	Settings Settings
	Client   llm.Client
	Tools    ToolConnector
	Prompt   string

	// Registry supplies the in-memory singleton. Defaults to
	// checkpoint.DefaultRegistry().
	Registry *checkpoint.Registry

	// OpenDatabase defaults to checkpoint.OpenSQL.
	OpenDatabase DatabaseOpener

	Logger *slog.Logger
}

// Factory builds agents. It is safe for concurrent use; each call to New
// is independent.
type Factory struct {
	settings     Settings
	client       llm.Client
	tools        ToolConnector
	prompt       string
	registry     *checkpoint.Registry
	openDatabase DatabaseOpener
	logger       *slog.Logger
}

// NewFactory validates cfg and returns a Factory.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.Client == nil {
		return nil, errors.New("agent: LLM client is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("agent: tool connector is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Settings.ModelName == "" {
		cfg.Settings.ModelName = DefaultModel
	}
	if cfg.Registry == nil {
		cfg.Registry = checkpoint.DefaultRegistry()
	}
	if cfg.OpenDatabase == nil {
		dbLogger := logger.With("component", "checkpoint")
		cfg.OpenDatabase = func(ctx context.Context, uri string) (checkpoint.ScopedBackend, error) {
			return checkpoint.OpenSQL(ctx, uri, dbLogger)
		}
	}

	return &Factory{
		settings:     cfg.Settings,
		client:       cfg.Client,
		tools:        cfg.Tools,
		prompt:       cfg.Prompt,
		registry:     cfg.Registry,
		openDatabase: cfg.OpenDatabase,
		logger:       logger,
	}, nil
}

// Option customizes a single New call.
type Option func(*options)

type options struct {
	ssoToken      string
	checkpointing bool
}

// WithSSOToken authenticates tool server requests with a bearer token.
func WithSSOToken(token string) Option {
	return func(o *options) { o.ssoToken = token }
}

// WithoutCheckpointing builds a stateless agent for streaming-only use:
// no checkpointer and no store, whatever the storage settings say.
func WithoutCheckpointing() Option {
	return func(o *options) { o.checkpointing = false }
}

// WithCheckpointing sets checkpointing explicitly. It is enabled by default.
func WithCheckpointing(enabled bool) Option {
	return func(o *options) { o.checkpointing = enabled }
}

// New builds an agent. The caller owns the returned session and must
// Close it; with a database backend that releases the connection.
//
// In production mode (UseInMemorySaver unset) an unreachable tool server
// fails with a *ToolConnectionError. Model and database errors always
// propagate. On any error nothing is left open.
func (f *Factory) New(ctx context.Context, opts ...Option) (_ *Session, err error) {
	o := options{checkpointing: true}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	// Tools
	set, connErr := f.tools.Connect(ctx, BearerHeaders(o.ssoToken))
	if connErr == nil && set != nil {
		s.closers = append(s.closers, set.Close)
	}
	// Cancellation is never a tolerated connection failure, not even in
	// local mode.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agentTools, err := resolveTools(ToolConnection{URL: f.settings.MCPURL, Set: set, Err: connErr}, f.settings.UseInMemorySaver, f.logger)
	if err != nil {
		return nil, err
	}

	// Model
	model, err := llm.NewModel(f.client, f.settings.ModelName, Temperature)
	if err != nil {
		return nil, fmt.Errorf("initialize model: %w", err)
	}

	// Persistence
	s.kind = SelectBackend(o.checkpointing, f.settings.UseInMemorySaver)
	backend, err := f.persistence(ctx, s)
	if err != nil {
		return nil, err
	}

	s.Agent, err = f.build(model, agentTools, backend)
	if err != nil {
		return nil, err
	}
	f.logger.Info("template agent initialized successfully",
		"backend", s.kind.String(),
		"model", model.Name(),
		"tools", len(agentTools),
	)
	return s, nil
}

// persistence acquires the backend for s.kind and registers its release
// on s. BackendNone yields a nil backend.
func (f *Factory) persistence(ctx context.Context, s *Session) (checkpoint.Backend, error) {
	switch s.kind {
	case BackendNone:
		f.logger.Info("creating agent without checkpointing for streaming-only operations")
		return nil, nil

	case BackendMemory:
		f.logger.Info("using single global checkpoint for local development")
		return f.registry.Memory(), nil

	default:
		f.logger.Info("using database checkpoint for production")
		db, err := f.openDatabase(ctx, f.settings.DatabaseURI)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint database: %w", err)
		}
		s.closers = append(s.closers, db.Close)

		if setup, ok := db.(checkpoint.Setupper); ok {
			if err := setup.Setup(ctx); err != nil {
				return nil, fmt.Errorf("set up checkpoint database: %w", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return db, nil
	}
}

func (f *Factory) build(model *llm.Model, agentTools []*tools.Tool, backend checkpoint.Backend) (*react.Agent, error) {
	cfg := react.Config{
		Model:         model,
		Prompt:        f.prompt,
		Tools:         agentTools,
		MaxIterations: f.settings.MaxIterations,
		Logger:        f.logger,
	}
	if backend != nil {
		cfg.Checkpointer = backend
		cfg.Store = backend
	}
	return react.New(cfg)
}

// With builds an agent, passes it to fn and closes it on every exit path,
// including a panic in fn. The error from fn wins over a close error.
func (f *Factory) With(ctx context.Context, fn func(context.Context, *Session) error, opts ...Option) (err error) {
	s, err := f.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close agent: %w", cerr)
		}
	}()
	return fn(ctx, s)
}
