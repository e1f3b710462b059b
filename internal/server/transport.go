package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
)

// TransportStarter abstracts the transports the MCP server can listen on
// (STDIO, SSE, StreamableHTTP).
type TransportStarter interface {
	// Start binds the MCP server to the transport and blocks until the
	// transport stops or an error occurs.
	Start(ctx context.Context, mcpServer *server.MCPServer) error

	// Shutdown closes the transport and all active client connections.
	Shutdown(ctx context.Context) error

	// Type returns the transport name: "stdio", "sse", or "streamablehttp".
	Type() string
}

// StdioTransport serves the MCP protocol over stdin/stdout. Logs must go to
// stderr to stay out of the protocol stream.
type StdioTransport struct{}

// Start serves over stdin/stdout and blocks until the client disconnects.
func (s *StdioTransport) Start(ctx context.Context, mcpServer *server.MCPServer) error {
	return server.ServeStdio(mcpServer)
}

// Shutdown is a no-op; stdin/stdout close with the process.
func (s *StdioTransport) Shutdown(ctx context.Context) error {
	return nil
}

func (s *StdioTransport) Type() string {
	return "stdio"
}

// SSETransport serves the MCP protocol over HTTP with Server-Sent Events,
// supporting multiple concurrent client sessions.
type SSETransport struct {
	address string
	server  *server.SSEServer
}

// Start listens on the configured address and blocks until the server stops.
func (s *SSETransport) Start(ctx context.Context, mcpServer *server.MCPServer) error {
	s.server = server.NewSSEServer(mcpServer)
	return s.server.Start(s.address)
}

// Shutdown stops the HTTP server and closes active client connections.
func (s *SSETransport) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *SSETransport) Type() string {
	return "sse"
}

// StreamableHTTPTransport serves the MCP protocol over the streamable HTTP
// transport: clients POST messages and receive responses as SSE events.
type StreamableHTTPTransport struct {
	address string
	server  *server.StreamableHTTPServer
}

// Start listens on the configured address and blocks until the server stops.
func (s *StreamableHTTPTransport) Start(ctx context.Context, mcpServer *server.MCPServer) error {
	s.server = server.NewStreamableHTTPServer(mcpServer)
	return s.server.Start(s.address)
}

// Shutdown stops the HTTP server and closes active client connections.
func (s *StreamableHTTPTransport) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *StreamableHTTPTransport) Type() string {
	return "streamablehttp"
}

// NewTransport creates the transport selected by the configuration. Network
// transports require a configured port.
func NewTransport(cfg transportConfig, logger interface{}) (TransportStarter, error) {
	switch cfg.GetTransportType() {
	case "stdio":
		return &StdioTransport{}, nil
	case "sse":
		if cfg.GetPort() == 0 {
			return nil, fmt.Errorf("port must be configured for SSE transport")
		}
		return &SSETransport{
			address: cfg.GetTransportAddress(),
		}, nil
	case "streamablehttp":
		if cfg.GetPort() == 0 {
			return nil, fmt.Errorf("port must be configured for StreamableHTTP transport")
		}
		return &StreamableHTTPTransport{
			address: cfg.GetTransportAddress(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s (must be one of: stdio, sse, streamablehttp)", cfg.GetTransportType())
	}
}

// transportConfig is the slice of configuration NewTransport needs, so tests
// can pass a stub instead of a full Config.
type transportConfig interface {
	GetTransportType() string
	GetPort() int
	GetTransportAddress() string
}
