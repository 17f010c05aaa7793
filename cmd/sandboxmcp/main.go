// Command sandboxmcp is an MCP server that executes Python in a
// disposable sandbox container, proxying tool calls to whatever
// downstream MCP servers the caller configures.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sandboxmcp/sandboxmcp/internal/client"
	"github.com/sandboxmcp/sandboxmcp/internal/config"
	"github.com/sandboxmcp/sandboxmcp/internal/discovery"
	"github.com/sandboxmcp/sandboxmcp/internal/paths"
	"github.com/sandboxmcp/sandboxmcp/internal/response"
	"github.com/sandboxmcp/sandboxmcp/internal/runtime"
	"github.com/sandboxmcp/sandboxmcp/internal/sandbox"
)

func main() {
	logger := newLogger(os.Getenv("log_level"))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("sandboxmcp exiting", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run() error {
	if err := paths.EnsureDir(paths.StateDir()); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	cfg, err := config.Load(paths.ConfigFile())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.MergeFallbackSources(cfg); err != nil {
		slog.Warn("failed to load one or more fallback server sources", "error", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	pool := client.New(cfg)
	defer pool.Shutdown(context.Background())

	catalog := discovery.New(cfg, pool)
	selector := runtime.New(os.Getenv("runtime"))

	invCfg := sandbox.Config{
		Image:           envOr("image", "python:3.12-slim"),
		Memory:          envOr("memory", "512m"),
		Pids:            envIntOr("pids", 128),
		Cpus:            os.Getenv("cpus"),
		ContainerUser:   envOr("container_user", "65534:65534"),
		DefaultTimeout:  time.Duration(envIntOr("timeout", 30)) * time.Second,
		MaxTimeout:      time.Duration(envIntOr("max_timeout", 120)) * time.Second,
		GraceKillWindow: 5 * time.Second,
	}
	invoker := sandbox.New(invCfg, pool, catalog, selector)

	mcpServer := server.NewMCPServer("sandboxmcp", "0.1.0")
	registerRunPython(mcpServer, invoker)
	registerCapabilitiesResource(mcpServer, catalog)

	slog.Info("sandboxmcp starting", "state_dir", paths.StateDir(), "servers", catalog.DiscoveredServers())
	return server.ServeStdio(mcpServer)
}

func registerRunPython(s *server.MCPServer, invoker *sandbox.Invoker) {
	tool := mcp.Tool{
		Name:        "run_python",
		Description: "Execute Python in a disposable sandbox container. Configured downstream MCP servers can be requested by name and called from the code as mcp_<alias>(...), mcp_servers['<server>'].<tool>(...), or mcp.servers.<server>.<alias>(...).",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source to run",
				},
				"servers": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Downstream MCP servers this run may call",
				},
				"timeout": map[string]any{
					"type":        "integer",
					"description": "Wall-clock timeout in seconds (default 30); must be between 1 and max_timeout, other values are rejected",
				},
			},
			Required: []string{"code"},
		},
	}
	s.AddTool(tool, handleRunPython(invoker))
}

func handleRunPython(invoker *sandbox.Invoker) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		code, err := request.RequireString("code")
		if err != nil {
			return response.Render(response.Output{Status: "error", Error: err.Error()}), nil
		}

		servers := stringSlice(request.GetArguments()["servers"])
		timeoutSeconds := parseTimeoutArg(request)

		result, err := invoker.Run(ctx, code, servers, timeoutSeconds)
		if err != nil {
			return response.Render(response.Output{Status: "error", Error: err.Error(), Servers: servers}), nil
		}
		return response.Render(response.Output{
			Status:  result.Status,
			Stdout:  result.Stdout,
			Stderr:  result.Stderr,
			Error:   result.Error,
			Servers: result.Servers,
		}), nil
	}
}

// parseTimeoutArg reads the optional "timeout" argument, returning nil
// when the caller omitted it entirely. This distinguishes "omitted" from
// any caller-supplied value — including 0 or negative — which must reach
// resolveTimeout as-is so invalid values are rejected rather than
// silently defaulted.
func parseTimeoutArg(request mcp.CallToolRequest) *int {
	if _, ok := request.GetArguments()["timeout"]; !ok {
		return nil
	}
	v := int(request.GetFloat("timeout", 0))
	return &v
}

func registerCapabilitiesResource(s *server.MCPServer, catalog *discovery.Catalog) {
	resource := mcp.Resource{
		URI:         "resource://sandboxmcp/capabilities",
		Name:        "sandboxmcp capabilities",
		Description: "Static summary of how to discover and call downstream tools from run_python",
		MIMEType:    "text/plain",
	}
	s.AddResource(resource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      resource.URI,
				MIMEType: resource.MIMEType,
				Text:     catalog.CapabilitySummary(),
			},
		}, nil
	})
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
