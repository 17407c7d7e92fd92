package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/autodoctor/pkg/config"
	"github.com/ormasoftchile/autodoctor/pkg/engine"
	"github.com/ormasoftchile/autodoctor/pkg/session"
)

// Handlers implements the tools over one session.
type Handlers struct {
	Session *session.Session
}

func pathArgs(req mcp.CallToolRequest) []string {
	path, _ := req.GetArguments()["path"].(string)
	if path == "" {
		return nil
	}
	return []string{path}
}

// Validate implements autodoctor/validate. Findings are data, not tool
// failures: IsError is only set when the run itself could not happen.
func (h *Handlers) Validate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.Session.Validate(ctx, pathArgs(req))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if where, _ := req.GetArguments()["where"].(string); where != "" {
		f, err := engine.CompileFilter(where)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		issues := res.Issues[:0:0]
		for _, is := range res.Issues {
			if f.Issue(is) {
				issues = append(issues, is)
			}
		}
		conflicts := res.Conflicts[:0:0]
		for _, c := range res.Conflicts {
			if f.Conflict(c) {
				conflicts = append(conflicts, c)
			}
		}
		res.Issues, res.Conflicts = issues, conflicts
	}
	return jsonResult(res)
}

// Conflicts implements autodoctor/conflicts.
func (h *Handlers) Conflicts(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conflicts, err := h.Session.Conflicts(pathArgs(req))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if len(conflicts) == 0 {
		return textResult("✓ no conflicts"), nil
	}
	return jsonResult(conflicts)
}

// Schema implements autodoctor/schema.
func (h *Handlers) Schema(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := config.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %s", err)), nil
	}
	return textResult(string(data)), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
