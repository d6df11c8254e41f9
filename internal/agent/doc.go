// Package agent assembles ready-to-use agents.
//
// A [Factory] composes three collaborators for every agent it builds:
// the tools exposed by the remote MCP server, a hosted language model, and
// a persistence backend. Construction runs in a fixed order (tools, then
// model, then persistence) and the persistence backend, when there is one,
// is bound to both the checkpointer and the long-term store role.
//
// Which backend an agent gets depends on two inputs, see [SelectBackend]:
//
//	checkpointing  use_inmemory_saver  backend
//	off            any                 none
//	on             true                process-wide in-memory singleton
//	on             false               a fresh database connection
//
// Database connections are scoped to the returned [Session] and released
// by [Session.Close], or automatically by [Factory.With].
package agent
