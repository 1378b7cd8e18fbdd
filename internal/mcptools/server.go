// Package mcptools exposes the retrieval and session APIs as MCP tools
// (spec.md §1: "a tiered retrieval API designed for LLM tool use"). It
// stops at tool schemas and handlers — wiring a transport (stdio, HTTP)
// onto the returned *mcp.Server is the caller's job, same as upstream's
// stdio.NewStdioServerTransport() call sites do for their own servers.
package mcptools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cortexmem/internal/optimizer"
	"cortexmem/internal/retrieval"
	"cortexmem/internal/session"
)

// Deps bundles the subsystems tools are allowed to call into. Any field
// may be nil, in which case the tools that need it are not registered.
type Deps struct {
	Retrieval *retrieval.Engine
	Sessions  *session.Manager
	Optimizer *optimizer.Manager
}

// NewServer builds an MCP server with every tool Deps can support
// already registered. name/version identify this server to clients
// during the MCP initialize handshake.
func NewServer(name, version string, deps Deps) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	registerTools(server, deps)
	return server
}

func registerTools(server *mcp.Server, deps Deps) {
	if deps.Retrieval != nil {
		registerMemorySearch(server, deps.Retrieval)
	}
	if deps.Sessions != nil {
		registerSessionCreate(server, deps.Sessions)
		registerSessionAppendMessage(server, deps.Sessions)
		registerSessionClose(server, deps.Sessions)
	}
	if deps.Optimizer != nil {
		registerMemoryOptimize(server, deps.Optimizer)
	}
}
