package mcpclient

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"toolgate/pkg/logging"
)

// SSEClient implements MCPClient over a persistent Server-Sent Events
// channel.
type SSEClient struct {
	baseClient
	url        string
	headers    map[string]string
	httpClient *http.Client
}

// NewSSEClient creates an SSE-based MCP client with the given headers.
func NewSSEClient(url string, headers map[string]string) *SSEClient {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &SSEClient{
		url:        url,
		headers:    headers,
		httpClient: http.DefaultClient,
	}
}

// Initialize establishes the connection and performs the protocol
// handshake. A failure comes back as a classified *TransportError.
func (c *SSEClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("SSEClient", "Creating SSE client for URL: %s", c.url)

	var opts []transport.ClientOption
	if len(c.headers) > 0 {
		opts = append(opts, transport.WithHeaders(c.headers))
	}

	mcpClient, err := client.NewSSEMCPClient(c.url, opts...)
	if err != nil {
		return &TransportError{Class: FailureOther, Err: err}
	}

	if err := mcpClient.Start(ctx); err != nil {
		return classifyHandshakeFailure(ctx, c.httpClient, c.url, c.headers, true, err)
	}

	initResult, err := mcpClient.Initialize(ctx, initializeRequest())
	if err != nil {
		mcpClient.Close()
		return classifyHandshakeFailure(ctx, c.httpClient, c.url, c.headers, true, err)
	}

	c.client = mcpClient
	c.connected = true

	logging.Debug("SSEClient", "SSE client initialized. Server: %s, Version: %s",
		initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	return nil
}

// Close cleanly shuts down the client connection.
func (c *SSEClient) Close() error {
	return c.closeClient()
}

// ListTools returns all available tools from the server.
func (c *SSEClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

// CallTool executes a specific tool and returns the result.
func (c *SSEClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

// Ping checks if the server is responsive.
func (c *SSEClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}
