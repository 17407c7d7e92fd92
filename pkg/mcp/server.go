// Package mcp exposes autodoctor as Model Context Protocol tools so agents
// can validate automations and inspect conflicts.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ormasoftchile/autodoctor/pkg/session"
)

// NewServer creates an MCP server with the autodoctor tools registered over
// sess.
func NewServer(version string, sess *session.Session) *server.MCPServer {
	s := server.NewMCPServer(
		"autodoctor",
		version,
		server.WithToolCapabilities(true),
	)
	h := &Handlers{Session: sess}

	s.AddTool(
		mcp.NewTool("autodoctor/validate",
			mcp.WithDescription("Validate Home Assistant automations: state references, templates, service calls and conflicts"),
			mcp.WithString("path", mcp.Description("Automation file or directory (defaults to the configured automations)")),
			mcp.WithString("where", mcp.Description("Optional filter expression, e.g. severity == \"error\"")),
		),
		h.Validate,
	)

	s.AddTool(
		mcp.NewTool("autodoctor/conflicts",
			mcp.WithDescription("List automations that drive the same entity in opposing directions"),
			mcp.WithString("path", mcp.Description("Automation file or directory (defaults to the configured automations)")),
		),
		h.Conflicts,
	)

	s.AddTool(
		mcp.NewTool("autodoctor/schema",
			mcp.WithDescription("Export the JSON Schema of autodoctor.yaml"),
		),
		h.Schema,
	)

	return s
}
