package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tuhinsharma121/template-agent/internal/tools"
)

// ServerConfig identifies the remote tool server.
type ServerConfig struct {
	// Name labels the server in logs and the MCP handshake.
	Name string

	// URL is the streamable HTTP endpoint.
	URL string

	// Timeout bounds each HTTP exchange.
	Timeout time.Duration

	// HTTPClient overrides the default httpkit client.
	HTTPClient *http.Client
}

// Connector opens MCP sessions against one server. It holds no
// connection state itself; each Connect call is an independent session
// so that per-caller credentials never leak between agents.
type Connector struct {
	cfg    ServerConfig
	logger *slog.Logger
}

// NewConnector returns a Connector for cfg.
func NewConnector(cfg ServerConfig, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "template-mcp-server"
	}
	return &Connector{cfg: cfg, logger: logger}
}

// Connection is an initialized MCP session and the tools it exposes.
type Connection struct {
	client *Client
	tools  []*tools.Tool
}

// Tools returns the bridged tools in server order. The slice is never nil.
func (c *Connection) Tools() []*tools.Tool {
	return c.tools
}

// Client returns the underlying MCP client.
func (c *Connection) Client() *Client {
	return c.client
}

// Close ends the MCP session.
func (c *Connection) Close() error {
	return c.client.Close()
}

// Connect makes exactly one attempt to open a session: it sends every
// request with headers, performs the handshake and lists the server's
// tools. Any failure closes the half-open session and is returned.
func (c *Connector) Connect(ctx context.Context, headers map[string]string) (*Connection, error) {
	if c.cfg.URL == "" {
		return nil, errors.New("mcp: no server URL configured")
	}

	transport := NewHTTPTransport(HTTPConfig{
		URL:        c.cfg.URL,
		Headers:    headers,
		Timeout:    c.cfg.Timeout,
		HTTPClient: c.cfg.HTTPClient,
		Logger:     c.logger,
	})
	client := NewClient(c.cfg.Name, transport, c.logger)

	if err := client.Initialize(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to %s: %w", c.cfg.URL, err)
	}

	bridged, err := BridgeTools(ctx, client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to %s: %w", c.cfg.URL, err)
	}

	return &Connection{client: client, tools: bridged}, nil
}
