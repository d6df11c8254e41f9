// Package mcp implements the client side of MCP (Model Context Protocol)
// for the template agent: it connects to a remote tool server over
// streamable HTTP, discovers tools via tools/list, and bridges them into
// [tools.Tool] descriptors whose handlers proxy to tools/call.
//
// Only the streamable HTTP transport is implemented. Responses may come
// back either as a single JSON body or as a text/event-stream carrying
// the JSON-RPC response as an SSE data event.
package mcp
