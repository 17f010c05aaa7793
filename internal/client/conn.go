package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sandboxmcp/sandboxmcp/internal/config"
	"github.com/sandboxmcp/sandboxmcp/internal/httpheaders"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolInfo is the bridge's flattened view of a downstream mcp.Tool.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// conn is the live transport underneath a Client: one stdio child
// process or one streamable-HTTP session, normalized to the same shape
// so Client doesn't care which.
type conn struct {
	listTools func(ctx context.Context) ([]mcp.Tool, error)
	callTool  func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	close     func() error
}

const protocolVersion = "2025-11-25"

func dialStdio(ctx context.Context, name string, scfg config.ServerConfig) (*conn, error) {
	env := make([]string, 0, len(scfg.Env))
	for k, v := range scfg.Env {
		env = append(env, k+"="+v)
	}

	command, args := scfg.Command, scfg.Args
	if scfg.Cwd != "" {
		// mcp-go's stdio client has no cwd parameter; shell out through
		// sh -c so the downstream process still sees the configured
		// working directory.
		command, args = shellWithCwd(scfg.Cwd, scfg.Command, scfg.Args)
	}

	c, err := mcpclient.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("spawning %s: %w", name, err)
	}

	if _, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "sandboxmcp",
				Version: "0.1.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}); err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing %s: %w", name, err)
	}

	return wrapConn(c), nil
}

func dialHTTP(ctx context.Context, name string, scfg config.ServerConfig, url string, headers map[string]string) (*conn, error) {
	var opts []transport.StreamableHTTPCOption
	normalized := httpheaders.Merge(nil, headers, true)
	if len(normalized) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(normalized))
	}

	c, err := mcpclient.NewStreamableHttpClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", name, err)
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}
	if _, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "sandboxmcp",
				Version: "0.1.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}); err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing %s: %w", name, err)
	}

	return wrapConn(c), nil
}

// mcpGoClient is the subset of both mcp-go client types this package
// drives; stdio and streamable-HTTP clients both satisfy it.
type mcpGoClient interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

func wrapConn(c mcpGoClient) *conn {
	return &conn{
		listTools: func(ctx context.Context) ([]mcp.Tool, error) {
			result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
			if err != nil {
				return nil, err
			}
			return result.Tools, nil
		},
		callTool: func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
			return c.CallTool(ctx, mcp.CallToolRequest{
				Params: mcp.CallToolParams{
					Name:      name,
					Arguments: args,
				},
			})
		},
		close: c.Close,
	}
}

func toToolInfo(tools []mcp.Tool) []ToolInfo {
	infos := make([]ToolInfo, len(tools))
	for i, t := range tools {
		infos[i] = ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: marshalInputSchema(t),
		}
	}
	return infos
}

func shellWithCwd(cwd, command string, args []string) (string, []string) {
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, shellQuote(command))
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}
	script := fmt.Sprintf("cd %s && exec %s", shellQuote(cwd), strings.Join(quoted, " "))
	return "/bin/sh", []string{"-c", script}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func marshalInputSchema(t mcp.Tool) json.RawMessage {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema
	}
	b, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil
	}
	return b
}
