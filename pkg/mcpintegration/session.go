package mcpintegration

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
)

// DefaultConnectionTimeout is the §4.9 default for the whole open+
// initialize sequence.
const DefaultConnectionTimeout = 15 * time.Second

// Session is the narrow surface the chat loop (C10) needs from an MCP
// client: listing tools and invoking one by name. *client.Client
// satisfies it directly.
type Session interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// OpenSession builds an MCP client for d, starts its transport, and
// awaits initialize(), all bounded by timeout (§4.9). On timeout it
// returns an *agentbe.Error of kind KindTimeout.
func OpenSession(ctx context.Context, d *Descriptor, timeout time.Duration) (*client.Client, error) {
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mcpClient, err := newClient(d)
	if err != nil {
		return nil, err
	}

	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return nil, wrapTimeout(ctx, "mcp session start", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "agentbe-go",
		Version: agentbe.Version,
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return nil, wrapTimeout(ctx, "mcp session initialize", err)
	}

	return mcpClient, nil
}

func newClient(d *Descriptor) (*client.Client, error) {
	switch d.Kind {
	case KindStdio:
		return client.NewStdioMCPClient(d.Stdio.Command, nil, d.Stdio.Args...)
	case KindHTTP:
		headers := map[string]string{
			"X-Root-Dir": d.HTTP.RootDir,
		}
		if d.HTTP.AuthToken != "" {
			headers["Authorization"] = "Bearer " + d.HTTP.AuthToken
		}
		if d.HTTP.ScopePath != "" {
			headers["X-Scope-Path"] = d.HTTP.ScopePath
		}
		return client.NewStreamableHttpClient(d.HTTP.URL+"/mcp", transport.WithHTTPHeaders(headers))
	default:
		return nil, fmt.Errorf("mcpintegration: unknown descriptor kind %q", d.Kind)
	}
}

func wrapTimeout(ctx context.Context, op string, cause error) error {
	if ctx.Err() != nil {
		return agentbe.NewTimeoutError(op)
	}
	return fmt.Errorf("mcpintegration: %s: %w", op, cause)
}
