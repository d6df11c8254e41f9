package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tuhinsharma121/template-agent/internal/tools"
)

// BridgeTools discovers tools from an MCP client and converts them into
// agent tools whose handlers proxy to tools/call. Tool names are kept as
// the server reports them and the server's order is preserved.
func BridgeTools(ctx context.Context, client *Client) ([]*tools.Tool, error) {
	defs, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", client.Name(), err)
	}

	out := make([]*tools.Tool, 0, len(defs))
	for _, td := range defs {
		if td.Name == "" {
			continue
		}
		out = append(out, bridgeTool(client, td))
	}
	return out, nil
}

// bridgeTool creates an agent tool that proxies calls to an MCP server.
// Arguments are checked against the tool's input schema first so that a
// malformed call goes back to the model without a server round trip.
func bridgeTool(client *Client, td ToolDefinition) *tools.Tool {
	name := td.Name

	params := td.InputSchema
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
	if err != nil {
		// Servers may publish schemas this validator cannot compile; the
		// server still validates on its side.
		client.logger.Warn("unusable tool input schema, arguments will not be validated",
			"tool", name, "error", err)
		schema = nil
	}

	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  params,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if err := validateArguments(schema, args); err != nil {
				return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
			}
			return client.CallTool(ctx, name, args)
		},
	}
}

func validateArguments(schema *gojsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
