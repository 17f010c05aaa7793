package client

import (
	"context"
	"errors"
	"testing"

	"github.com/sandboxmcp/sandboxmcp/internal/config"
	"github.com/sandboxmcp/sandboxmcp/internal/errkind"
	"github.com/mark3labs/mcp-go/mcp"
)

func readyClient(name string, c *conn) *Client {
	cl := newClient(name, config.ServerConfig{Command: "stub"})
	cl.state = StateReady
	cl.conn = c
	cl.tools = toToolInfo(nil)
	return cl
}

func TestCallToolInvalidatesOnTransportError(t *testing.T) {
	var closed bool
	cn := &conn{
		listTools: func(context.Context) ([]mcp.Tool, error) {
			return []mcp.Tool{{Name: "echo"}}, nil
		},
		callTool: func(context.Context, string, map[string]any) (*mcp.CallToolResult, error) {
			return nil, errors.New("boom")
		},
		close: func() error {
			closed = true
			return nil
		},
	}

	p := &Pool{cfg: &config.Config{Servers: map[string]config.ServerConfig{"stub": {Command: "stub"}}}, clients: map[string]*Client{"stub": readyClient("stub", cn)}}

	if _, err := p.CallTool(context.Background(), "stub", "echo", []byte(`{}`)); err == nil {
		t.Fatal("expected CallTool to fail")
	}

	c, _ := p.clientFor("stub")
	if c.State() != StateFailed {
		t.Fatalf("expected client to be marked failed, got %s", c.State())
	}
	if !closed {
		t.Fatal("expected underlying connection to be closed on failure")
	}
}

func TestEnsureFailsFastOnUnknownServer(t *testing.T) {
	p := New(&config.Config{Servers: map[string]config.ServerConfig{"known": {Command: "stub"}}})
	err := p.Ensure(context.Background(), []string{"known", "ghost"})
	if err == nil {
		t.Fatal("expected error for unknown server")
	}
	kind, ok := errkind.Of(err)
	if !ok || kind != errkind.UnknownServer {
		t.Fatalf("expected unknown_server, got %v (%v)", kind, err)
	}
}

func TestGetReturnsDownstreamUnavailableWhenFailed(t *testing.T) {
	cl := newClient("stub", config.ServerConfig{Command: "stub"})
	cl.state = StateFailed
	p := &Pool{cfg: &config.Config{Servers: map[string]config.ServerConfig{"stub": {Command: "stub"}}}, clients: map[string]*Client{"stub": cl}}

	_, err := p.Get(context.Background(), "stub")
	kind, ok := errkind.Of(err)
	if !ok || kind != errkind.DownstreamUnavailable {
		t.Fatalf("expected downstream_unavailable, got %v (%v)", kind, err)
	}
}

func TestCloseAllEvictsEveryClient(t *testing.T) {
	var closedA, closedB bool
	a := readyClient("a", &conn{close: func() error { closedA = true; return nil }})
	b := readyClient("b", &conn{close: func() error { closedB = true; return nil }})
	p := &Pool{cfg: &config.Config{}, clients: map[string]*Client{"a": a, "b": b}}

	p.Shutdown(context.Background())

	if !closedA || !closedB {
		t.Fatal("expected both clients to be closed")
	}
	if len(p.clients) != 0 {
		t.Fatal("expected client map to be emptied")
	}
}
