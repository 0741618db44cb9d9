// Package mcpserver exposes the dispatcher as a Model Context Protocol server
// over stdio or HTTP with Server-Sent Events.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/morezero/epics-mcp-bridge/pkg/dispatcher"
)

const logPrefix = "mcpserver:server"

// unknownToolKey carries the requested name of an unregistered tool through
// the _meta of a rerouted call.
const unknownToolKey = "epics-bridge/unknown-tool"

// Identity reported in the initialize handshake.
const (
	DefaultName    = "mcp_epics_server"
	DefaultVersion = "0.1.0"
)

// Options configures New.
type Options struct {
	Name    string
	Version string
	// Transport labels metrics and journal rows (dispatcher.TransportStdio...)
	Transport string
}

// New builds an MCP server advertising one tool per registered operation.
// Every tool call goes through disp.
func New(disp *dispatcher.Dispatcher, opts Options) *server.MCPServer {
	name := opts.Name
	if name == "" {
		name = DefaultName
	}
	version := opts.Version
	if version == "" {
		version = DefaultVersion
	}
	transport := opts.Transport
	if transport == "" {
		transport = dispatcher.TransportStdio
	}

	ops := disp.ListOperations()
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(unknownToolHooks(ops)),
	)
	for _, td := range ops {
		s.AddTool(toTool(td), callHandler(disp, transport))
	}
	slog.Debug(fmt.Sprintf("%s - Registered %d tools for %s", logPrefix, len(ops), transport))
	return s
}

// unknownToolHooks reroutes calls for unregistered tools to a registered
// handler so the dispatcher reports them like every other transport does.
// mcp-go would otherwise answer with its own "tool not found" error.
func unknownToolHooks(ops []dispatcher.ToolDescription) *server.Hooks {
	hooks := &server.Hooks{}
	if len(ops) == 0 {
		return hooks
	}
	known := make(map[string]bool, len(ops))
	for _, td := range ops {
		known[td.Name] = true
	}
	carrier := ops[0].Name

	hooks.AddBeforeCallTool(func(_ context.Context, _ any, req *mcp.CallToolRequest) {
		if known[req.Params.Name] {
			return
		}
		if req.Params.Meta == nil {
			req.Params.Meta = &mcp.Meta{}
		}
		if req.Params.Meta.AdditionalFields == nil {
			req.Params.Meta.AdditionalFields = map[string]any{}
		}
		req.Params.Meta.AdditionalFields[unknownToolKey] = req.Params.Name
		req.Params.Name = carrier
	})
	return hooks
}

// requestedTool is the tool name the client asked for, before any reroute.
func requestedTool(req mcp.CallToolRequest) string {
	if req.Params.Meta != nil {
		if name, ok := req.Params.Meta.AdditionalFields[unknownToolKey].(string); ok {
			return name
		}
	}
	return req.Params.Name
}

func toTool(td dispatcher.ToolDescription) mcp.Tool {
	props, _ := td.InputSchema["properties"].(map[string]any)
	required, _ := td.InputSchema["required"].([]string)
	return mcp.Tool{
		Name:        td.Name,
		Description: td.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

// callHandler returns a fault as a JSON-RPC error and any result, success or
// failure, as a single text content item holding the envelope JSON.
func callHandler(disp *dispatcher.Dispatcher, transport string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		inv := dispatcher.NewInvocation(requestedTool(req), req.GetArguments(), transport)
		result, err := disp.Call(ctx, inv)
		if err != nil {
			return nil, fmt.Errorf("Error processing MCP-EPICS query: %w", err)
		}
		return mcp.NewToolResultText(result.Text()), nil
	}
}

// ServeStdio runs the MCP session on in/out until EOF or ctx is cancelled.
// Logs must not go to out.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError))

	slog.Info(fmt.Sprintf("%s - Serving MCP over stdio", logPrefix))
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s - stdio session failed: %w", logPrefix, err)
	}
	return nil
}
