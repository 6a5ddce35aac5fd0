// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hylla/strom/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter. Command tools are registered only
// when commands is non-nil.
func NewHandler(cfg Config, commands common.CommandService, queries common.QueryService) (*Handler, error) {
	if queries == nil {
		return nil, fmt.Errorf("query service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerQueryTools(mcpSrv, queries)
	if commands != nil {
		registerCommandTools(mcpSrv, commands)
	}

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "strom"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerCommandTools registers `strom.dispatch_command`.
func registerCommandTools(srv *mcpserver.MCPServer, commands common.CommandService) {
	srv.AddTool(
		mcp.NewTool(
			"strom.dispatch_command",
			mcp.WithDescription("Handle one command envelope {type, id?, data, metadata?} and append its events."),
			mcp.WithString("envelope", mcp.Required(), mcp.Description("Command envelope as JSON text")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			envelope, err := req.RequireString("envelope")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			out, err := commands.DispatchCommand(ctx, []byte(envelope))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("dispatch_command", out)
		},
	)
}

// registerQueryTools registers the read-model and stream tools.
func registerQueryTools(srv *mcpserver.MCPServer, queries common.QueryService) {
	addGetTool(srv, "strom.get_project", "Return one project document.", "project_id", func(ctx context.Context, id string) (any, error) {
		return queries.GetProject(ctx, id)
	})
	addGetTool(srv, "strom.get_member", "Return one member document.", "member_id", func(ctx context.Context, id string) (any, error) {
		return queries.GetMember(ctx, id)
	})
	addGetTool(srv, "strom.get_task", "Return one task document.", "task_id", func(ctx context.Context, id string) (any, error) {
		return queries.GetTask(ctx, id)
	})
	addGetTool(srv, "strom.get_user", "Return one user document.", "user_id", func(ctx context.Context, id string) (any, error) {
		return queries.GetUser(ctx, id)
	})
	addGetTool(srv, "strom.read_stream", "Return every event of one stream, e.g. project-<id>.", "stream", func(ctx context.Context, name string) (any, error) {
		return queries.ReadStream(ctx, name)
	})

	srv.AddTool(
		mcp.NewTool(
			"strom.list_tasks",
			mcp.WithDescription("List tasks on one board or assigned to one member. Exactly one filter is required."),
			mcp.WithString("task_board_id", mcp.Description("Board identifier")),
			mcp.WithString("assignee_id", mcp.Description("Member identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			boardID := strings.TrimSpace(req.GetString("task_board_id", ""))
			assigneeID := strings.TrimSpace(req.GetString("assignee_id", ""))
			if (boardID == "") == (assigneeID == "") {
				return invalidRequestToolResult(errors.New("exactly one of task_board_id or assignee_id is required")), nil
			}
			var (
				out any
				err error
			)
			if boardID != "" {
				out, err = queries.ListTasksByBoard(ctx, boardID)
			} else {
				out, err = queries.ListTasksByAssignee(ctx, assigneeID)
			}
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_tasks", map[string]any{"tasks": out})
		},
	)
}

// addGetTool registers one single-id lookup tool.
func addGetTool(srv *mcpserver.MCPServer, name, description, arg string, get func(context.Context, string) (any, error)) {
	srv.AddTool(
		mcp.NewTool(
			name,
			mcp.WithDescription(description),
			mcp.WithString(arg, mcp.Required(), mcp.Description("Identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireString(arg)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			out, err := get(ctx, id)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult(strings.TrimPrefix(name, "strom."), out)
		},
	)
}

func jsonResult(op string, out any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", op, err)
	}
	return result, nil
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return invalidRequestToolResult(err)
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrConflict):
		return mcp.NewToolResultError("conflict: " + err.Error())
	case errors.Is(err, common.ErrUnauthorized):
		return mcp.NewToolResultError("unauthorized: " + err.Error())
	case errors.Is(err, common.ErrUnavailable):
		return mcp.NewToolResultError("service_unavailable: " + err.Error())
	case errors.Is(err, common.ErrIndeterminate):
		return mcp.NewToolResultError("indeterminate: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}

func invalidRequestToolResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError("invalid_request: " + err.Error())
}
