package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sandboxmcp/sandboxmcp/internal/config"
	"github.com/sandboxmcp/sandboxmcp/internal/errkind"
	"github.com/mark3labs/mcp-go/mcp"
)

// Pool is the thread-safe, name-keyed registry of Downstream Clients
// (spec §4.2). Each Client serializes its own start/close transitions;
// the pool only owns the name→Client map itself.
type Pool struct {
	cfg *config.Config

	mu      sync.Mutex
	clients map[string]*Client
}

// New creates a Pool over the given configuration. No downstream is
// started until first referenced.
func New(cfg *config.Config) *Pool {
	return &Pool{cfg: cfg, clients: make(map[string]*Client)}
}

// KnownServers returns the configured server names, sorted.
func (p *Pool) KnownServers() []string {
	names := make([]string, 0, len(p.cfg.Servers))
	for name := range p.cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// State returns a server's current client state. An unreferenced server
// reports StateCold without creating a client for it.
func (p *Pool) State(name string) State {
	p.mu.Lock()
	c, ok := p.clients[name]
	p.mu.Unlock()
	if !ok {
		return StateCold
	}
	return c.State()
}

func (p *Pool) clientFor(name string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[name]; ok {
		return c, nil
	}
	scfg, ok := p.cfg.Servers[name]
	if !ok {
		return nil, errkind.New(errkind.UnknownServer, name)
	}
	c := newClient(name, scfg)
	p.clients[name] = c
	return c, nil
}

// Ensure starts every named client that is cold, failing fast with the
// full list of unknown names rather than one at a time.
func (p *Pool) Ensure(ctx context.Context, names []string) error {
	var unknown []string
	clients := make([]*Client, 0, len(names))
	for _, name := range names {
		if _, ok := p.cfg.Servers[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		c, err := p.clientFor(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		clients = append(clients, c)
	}
	if len(unknown) > 0 {
		return errkind.New(errkind.UnknownServer, fmt.Sprintf("unknown servers: %v", unknown))
	}

	for _, c := range clients {
		if err := p.ensureStarted(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// ensureStarted starts c if it is cold or failed, serialized by c's own
// lock so concurrent callers racing the same client's first start only
// pay for one dial.
func (p *Pool) ensureStarted(ctx context.Context, c *Client) error {
	switch c.State() {
	case StateReady:
		return nil
	case StateStarting:
		return c.waitForReady(ctx)
	}
	return c.start(ctx)
}

// Get returns a ready client for name, or a typed error if it is
// unknown, cold (not yet started by a prior Ensure), or failed.
func (p *Pool) Get(ctx context.Context, name string) (*Client, error) {
	if _, ok := p.cfg.Servers[name]; !ok {
		return nil, errkind.New(errkind.UnknownServer, name)
	}
	c, err := p.clientFor(name)
	if err != nil {
		return nil, err
	}
	switch c.State() {
	case StateReady:
		return c, nil
	case StateStarting:
		if err := c.waitForReady(ctx); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, errkind.New(errkind.DownstreamUnavailable, name+" is "+string(c.State()))
	}
}

// ListTools returns the tool list for a server, starting it on demand.
func (p *Pool) ListTools(ctx context.Context, name string) ([]ToolInfo, error) {
	c, err := p.clientFor(name)
	if err != nil {
		return nil, err
	}
	if c.State() != StateReady {
		if err := p.ensureStarted(ctx, c); err != nil {
			return nil, err
		}
	}
	return c.ListTools(ctx)
}

// CallTool invokes tool on server with JSON-encoded args. On a
// downstream failure it attempts exactly one automatic restart before
// surfacing downstream_unavailable, per the pool's restart policy.
func (p *Pool) CallTool(ctx context.Context, server, tool string, argsJSON json.RawMessage) (*mcp.CallToolResult, error) {
	var args map[string]any
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, errkind.Wrap(errkind.InvalidRequest, "decoding arguments", err)
		}
	} else {
		args = map[string]any{}
	}

	c, err := p.Get(ctx, server)
	if err != nil {
		kind, ok := errkind.Of(err)
		if !ok || kind != errkind.DownstreamUnavailable {
			return nil, err
		}
		if restartErr := p.restart(ctx, server); restartErr != nil {
			return nil, restartErr
		}
		c, err = p.Get(ctx, server)
		if err != nil {
			return nil, err
		}
	}

	result, err := c.Call(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Pool) restart(ctx context.Context, name string) error {
	c, err := p.clientFor(name)
	if err != nil {
		return err
	}
	c.markFailed() // idempotent: ensures a clean slate before retry
	return p.ensureStarted(ctx, c)
}

// Close shuts down one server's client, if present.
func (p *Pool) Close(name string) {
	p.mu.Lock()
	c, ok := p.clients[name]
	if ok {
		delete(p.clients, name)
	}
	p.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Shutdown concurrently closes every client, bounded by ctx's deadline.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*Client)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.Close()
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
