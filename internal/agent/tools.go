package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tuhinsharma121/template-agent/internal/tools"
)

// ToolSet is an open connection to a tool server and the tools it exposes.
type ToolSet interface {
	Tools() []*tools.Tool
	Close() error
}

// ToolConnector opens a [ToolSet], sending headers with every request.
// Implementations make exactly one attempt.
type ToolConnector interface {
	Connect(ctx context.Context, headers map[string]string) (ToolSet, error)
}

// ToolConnectorFunc adapts a function to [ToolConnector].
type ToolConnectorFunc func(ctx context.Context, headers map[string]string) (ToolSet, error)

// Connect calls f.
func (f ToolConnectorFunc) Connect(ctx context.Context, headers map[string]string) (ToolSet, error) {
	return f(ctx, headers)
}

// BearerHeaders returns the tool server headers for an SSO token: an
// Authorization bearer header, or no headers at all without a token.
func BearerHeaders(token string) map[string]string {
	if token == "" {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// ToolConnectionError reports that the tool server could not be reached
// in a deployment that requires it.
type ToolConnectionError struct {
	URL string
	Err error
}

func (e *ToolConnectionError) Error() string {
	return fmt.Sprintf("connect to MCP server %s: %v", e.URL, e.Err)
}

func (e *ToolConnectionError) Unwrap() error {
	return e.Err
}

// ToolConnection is the outcome of the single connection attempt.
// Exactly one of Set and Err is non-nil.
type ToolConnection struct {
	URL string
	Set ToolSet
	Err error
}

// resolveTools applies the connection policy. A successful connection
// yields its tools. A failure is tolerated only in local mode, where the
// agent runs without tools; anywhere else it is fatal.
func resolveTools(conn ToolConnection, localMode bool, logger *slog.Logger) ([]*tools.Tool, error) {
	if conn.Err == nil {
		ts := []*tools.Tool{}
		if conn.Set != nil {
			ts = append(ts, conn.Set.Tools()...)
		}
		logger.Info("successfully connected to MCP server", "url", conn.URL, "tools", len(ts))
		return ts, nil
	}

	if localMode {
		logger.Warn("could not connect to MCP server", "url", conn.URL, "error", conn.Err)
		logger.Info("running in local development mode without MCP tools")
		return []*tools.Tool{}, nil
	}

	logger.Error("failed to connect to MCP server in production mode", "url", conn.URL, "error", conn.Err)
	return nil, &ToolConnectionError{URL: conn.URL, Err: conn.Err}
}
