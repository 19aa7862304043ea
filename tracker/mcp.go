package tracker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hazyhaar/fenetre/kit"
	"github.com/hazyhaar/fenetre/session"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the tracker tools on an MCP server.
func (t *Tracker) RegisterMCP(srv *mcp.Server) {
	t.registerList(srv)
	t.registerRestore(srv)
	t.registerDelete(srv)
	t.registerStar(srv)
	t.registerExport(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (t *Tracker) registerList(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "fenetre_list",
		Description: "List every saved window session with its tabs",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		snaps, invalid, err := t.List(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"snapshots": snaps,
			"invalid":   invalid,
		}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &req{}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (t *Tracker) registerRestore(srv *mcp.Server) {
	type req struct {
		ID string `json:"id"`
	}

	tool := &mcp.Tool{
		Name:        "fenetre_restore",
		Description: "Restore a saved window session: focus it if still open, otherwise rebuild it",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Logical window ID"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.ID == "" {
			return nil, errors.New("id is required")
		}
		ok, err := t.Restore(ctx, session.LogicalWindowID(p.ID))
		if err != nil {
			return nil, err
		}
		return map[string]any{"restored": ok}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeJSON[req])
}

func (t *Tracker) registerDelete(srv *mcp.Server) {
	type req struct {
		ID   string `json:"id"`
		Undo bool   `json:"undo"`
	}

	tool := &mcp.Tool{
		Name:        "fenetre_delete",
		Description: "Delete a saved session (recoverable for a few minutes), or undo a recent deletion",
		InputSchema: inputSchema(map[string]any{
			"id":   map[string]any{"type": "string", "description": "Logical window ID"},
			"undo": map[string]any{"type": "boolean", "description": "Undo a recent deletion instead of deleting"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.ID == "" {
			return nil, errors.New("id is required")
		}
		id := session.LogicalWindowID(p.ID)
		if p.Undo {
			ok, err := t.UndoDelete(ctx, id)
			if err != nil {
				return nil, err
			}
			return map[string]any{"restored": ok}, nil
		}
		if err := t.Delete(ctx, id); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeJSON[req])
}

func (t *Tracker) registerStar(srv *mcp.Server) {
	type req struct {
		ID      string `json:"id"`
		Starred bool   `json:"starred"`
		Name    string `json:"name"`
	}

	tool := &mcp.Tool{
		Name:        "fenetre_star",
		Description: "Star or unstar a saved session, optionally giving it a custom name. Starred sessions never expire",
		InputSchema: inputSchema(map[string]any{
			"id":      map[string]any{"type": "string", "description": "Logical window ID"},
			"starred": map[string]any{"type": "boolean", "description": "Desired starred state"},
			"name":    map[string]any{"type": "string", "description": "Custom name to set, if any"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.ID == "" {
			return nil, errors.New("id is required")
		}
		id := session.LogicalWindowID(p.ID)
		if err := t.ToggleStar(ctx, id, p.Starred); err != nil {
			return nil, err
		}
		if p.Name != "" {
			if err := t.Rename(ctx, id, p.Name); err != nil {
				return nil, err
			}
		}
		return map[string]any{"starred": p.Starred}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeJSON[req])
}

func (t *Tracker) registerExport(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "fenetre_export",
		Description: "Export every saved session as a portable JSON document",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		data, err := t.Export(ctx)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &req{}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func decodeJSON[T any](r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var p T
	if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &p}, nil
}
