// Package client implements the Downstream Client and Client Pool:
// persistent MCP sessions to configured servers, kept warm across
// sandbox invocations.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sandboxmcp/sandboxmcp/internal/bootstrap"
	"github.com/sandboxmcp/sandboxmcp/internal/config"
	"github.com/sandboxmcp/sandboxmcp/internal/errkind"
	"github.com/mark3labs/mcp-go/mcp"
)

// State is one of the five states a Downstream Client moves through.
type State string

const (
	StateCold     State = "cold"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateFailed   State = "failed"
	StateClosing  State = "closing"
)

// Client owns one persistent MCP session to one downstream server. The
// pending-request map and outbound sequence counter spec §3 describes
// live inside mark3labs/mcp-go's client implementation; Client only
// tracks the state machine and the cached tool list on top of it.
type Client struct {
	name string
	cfg  config.ServerConfig

	mu    sync.Mutex
	state State
	conn  *conn
	tools []ToolInfo
}

func newClient(name string, cfg config.ServerConfig) *Client {
	return &Client{name: name, cfg: cfg, state: StateCold}
}

// State returns the client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// start spawns/dials the downstream, performs the initialize handshake,
// and warms the tool cache. It takes c.mu itself to move the client into
// StateStarting; a caller that finds a start already in progress waits
// for it instead of dialing again. Client does not export it so the pool
// remains the sole place that drives start/close transitions.
func (c *Client) start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateReady {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateStarting {
		c.mu.Unlock()
		return c.waitForReady(ctx)
	}
	c.state = StateStarting
	c.mu.Unlock()

	if err := bootstrap.CheckPrerequisites(c.cfg); err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return errkind.Wrap(errkind.DownstreamUnavailable, "checking prerequisites for "+c.name, err)
	}

	var cn *conn
	var err error
	switch {
	case c.cfg.IsHTTP():
		cn, err = dialHTTP(ctx, c.name, c.cfg, c.cfg.URL, c.cfg.Headers)
	case c.cfg.IsStdio():
		cn, err = dialStdio(ctx, c.name, c.cfg)
	default:
		err = fmt.Errorf("server %s: no command or url configured", c.name)
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return errkind.Wrap(errkind.DownstreamUnavailable, "starting "+c.name, err)
	}

	tools, err := cn.listTools(ctx)
	if err != nil {
		cn.close()
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return errkind.Wrap(errkind.DownstreamUnavailable, "listing tools on "+c.name, err)
	}

	c.mu.Lock()
	c.conn = cn
	c.tools = toToolInfo(tools)
	c.state = StateReady
	c.mu.Unlock()
	return nil
}

// ListTools returns the cached tool list, refreshing it first.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	c.mu.Lock()
	cn := c.conn
	ready := c.state == StateReady
	c.mu.Unlock()
	if !ready || cn == nil {
		return nil, errkind.New(errkind.DownstreamUnavailable, c.name+" is not ready")
	}

	tools, err := cn.listTools(ctx)
	if err != nil {
		c.markFailed()
		return nil, errkind.Wrap(errkind.DownstreamError, "listing tools on "+c.name, err)
	}

	infos := toToolInfo(tools)
	c.mu.Lock()
	c.tools = infos
	c.mu.Unlock()
	return infos, nil
}

// CachedTools returns the last known tool list without refreshing it.
func (c *Client) CachedTools() []ToolInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ToolInfo(nil), c.tools...)
}

// Call invokes tool on this client, honoring ctx's deadline. A transport
// failure mid-call (the downstream died in flight) surfaces as
// downstream_unavailable, matching the pool's restart-eligible failure
// kind; a tool-level JSON-RPC error returned by a still-healthy
// downstream surfaces as downstream_error and does not mark the client
// failed.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	c.mu.Lock()
	cn := c.conn
	ready := c.state == StateReady
	c.mu.Unlock()
	if !ready || cn == nil {
		return nil, errkind.New(errkind.DownstreamUnavailable, c.name+" is not ready")
	}

	result, err := cn.callTool(ctx, tool, args)
	if err != nil {
		c.markFailed()
		return nil, errkind.Wrap(errkind.DownstreamUnavailable, "calling "+tool+" on "+c.name, err)
	}
	if result.IsError {
		return nil, errkind.New(errkind.DownstreamError, tool+" on "+c.name+": "+resultErrorText(result))
	}
	return result, nil
}

func resultErrorText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return "downstream reported a tool error"
}

func (c *Client) markFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.close()
		c.conn = nil
	}
	c.state = StateFailed
}

// Close performs a graceful shutdown: closes the underlying connection.
// mcp-go's stdio client already applies a bounded grace period before
// killing the child; Client defers to it rather than reimplementing a
// second timeout.
func (c *Client) Close() error {
	c.mu.Lock()
	c.state = StateClosing
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cn == nil {
		return nil
	}
	return cn.close()
}

// waitForReady blocks until the client leaves StateStarting, bounded by
// ctx. Used by concurrent callers that raced a cold client's first
// start() — only one of them actually dials; the rest wait here.
func (c *Client) waitForReady(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch c.State() {
		case StateReady:
			return nil
		case StateFailed:
			return errkind.New(errkind.DownstreamUnavailable, c.name+" failed to start")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
