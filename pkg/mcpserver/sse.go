package mcpserver

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/server"
)

// Default SSE endpoints.
const (
	DefaultSSEPath     = "/sse"
	DefaultMessagePath = "/messages/"
)

// SSEOptions configures NewSSE.
type SSEOptions struct {
	// BaseURL is the externally reachable origin announced to clients
	BaseURL     string
	SSEPath     string
	MessagePath string
}

// NewSSE wraps s in an SSE transport. Clients open the event stream on
// SSEPath and post messages to MessagePath?sessionId=<id>.
func NewSSE(s *server.MCPServer, opts SSEOptions) *server.SSEServer {
	ssePath := opts.SSEPath
	if ssePath == "" {
		ssePath = DefaultSSEPath
	}
	messagePath := opts.MessagePath
	if messagePath == "" {
		messagePath = DefaultMessagePath
	}

	slog.Info(fmt.Sprintf("%s - SSE endpoints %s and %s", logPrefix, ssePath, messagePath), "base_url", opts.BaseURL)
	return server.NewSSEServer(s,
		server.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")),
		server.WithSSEEndpoint(ssePath),
		server.WithMessageEndpoint(messagePath),
	)
}
