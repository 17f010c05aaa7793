// Package discovery answers the bridge's lazy tool-documentation
// queries (spec §4.8) from pool metadata, without ever pre-loading every
// downstream tool schema into the outward-facing run_python schema.
package discovery

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/sandboxmcp/sandboxmcp/internal/client"
	"github.com/sandboxmcp/sandboxmcp/internal/config"
)

// ToolDescriptor is the bridge's Tool Descriptor (spec §3).
type ToolDescriptor struct {
	ServerName  string `json:"server"`
	ToolName    string `json:"tool"`
	Alias       string `json:"alias"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// pool is the subset of *client.Pool the Catalog depends on.
type pool interface {
	ListTools(ctx context.Context, server string) ([]client.ToolInfo, error)
}

// Catalog implements the Discovery Service.
type Catalog struct {
	cfg  *config.Config
	pool pool

	mu    sync.Mutex
	cache map[string][]ToolDescriptor // populated lazily, per server
}

// New builds a Catalog over cfg's server records, answering tool queries
// by delegating cache warm-ups to p.
func New(cfg *config.Config, p pool) *Catalog {
	return &Catalog{cfg: cfg, pool: p, cache: make(map[string][]ToolDescriptor)}
}

// DiscoveredServers returns every configured server name, sorted.
func (c *Catalog) DiscoveredServers() []string {
	names := make([]string, 0, len(c.cfg.Servers))
	for name := range c.cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListServers is the same as DiscoveredServers: every configured server
// is requestable unless the caller already knows it to be permanently
// broken (the bridge has no concept of permanent breakage below the
// Client's failed state, which is always eligible for restart).
func (c *Catalog) ListServers() []string {
	return c.DiscoveredServers()
}

// ListTools returns the aliases of whatever tools are currently cached
// for server. It does not start the server; an uncached server yields
// an empty list, keeping discovery cheap by default.
func (c *Catalog) ListTools(server string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	descs := c.cache[server]
	aliases := make([]string, len(descs))
	for i, d := range descs {
		aliases[i] = d.Alias
	}
	return aliases
}

// QueryToolDocs returns documentation for server's tools, warming the
// cache from the downstream client on demand. With tool set, only the
// descriptor whose tool name or alias matches is returned (an empty
// slice and a nil error if none does). With
// detail == "full", InputSchema is populated; otherwise it is omitted so
// the response stays summary-sized.
func (c *Catalog) QueryToolDocs(ctx context.Context, server, tool, detail string) ([]ToolDescriptor, error) {
	descs, err := c.warm(ctx, server)
	if err != nil {
		return nil, err
	}

	full := detail == "full"
	out := make([]ToolDescriptor, 0, len(descs))
	for _, d := range descs {
		if tool != "" && d.ToolName != tool && d.Alias != tool {
			continue
		}
		if !full {
			d.InputSchema = nil
		}
		out = append(out, d)
	}
	return out, nil
}

// warm fetches and caches server's tool descriptors, assigning aliases
// in encounter order so collisions resolve deterministically.
func (c *Catalog) warm(ctx context.Context, server string) ([]ToolDescriptor, error) {
	tools, err := c.pool.ListTools(ctx, server)
	if err != nil {
		return nil, err
	}

	assigner := newAliasAssigner()
	descs := make([]ToolDescriptor, len(tools))
	for i, t := range tools {
		descs[i] = ToolDescriptor{
			ServerName:  server,
			ToolName:    t.Name,
			Alias:       assigner.assign(t.Name),
			Description: t.Description,
			InputSchema: rawSchema(t.InputSchema),
		}
	}

	c.mu.Lock()
	c.cache[server] = descs
	c.mu.Unlock()
	return descs, nil
}

func rawSchema(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(raw)
}

// searchHit is one ranked search_tool_docs result.
type searchHit struct {
	Descriptor  ToolDescriptor
	Score       int
	serverIndex int
	toolIndex   int
}

// SearchToolDocs ranks cached tools by query-token overlap against
// "server:tool" and the description, descending by score, ties broken
// by server order then tool order (spec §4.8, supplemented §4 item 7).
func (c *Catalog) SearchToolDocs(query string, limit int) []ToolDescriptor {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	c.mu.Lock()
	servers := make([]string, 0, len(c.cache))
	for s := range c.cache {
		servers = append(servers, s)
	}
	sort.Strings(servers)

	var hits []searchHit
	for si, server := range servers {
		for ti, d := range c.cache[server] {
			haystack := strings.ToLower(server + ":" + d.ToolName + " " + d.Description)
			score := 0
			for _, tok := range tokens {
				score += strings.Count(haystack, tok)
			}
			if score > 0 {
				hits = append(hits, searchHit{Descriptor: d, Score: score, serverIndex: si, toolIndex: ti})
			}
		}
	}
	c.mu.Unlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].serverIndex != hits[j].serverIndex {
			return hits[i].serverIndex < hits[j].serverIndex
		}
		return hits[i].toolIndex < hits[j].toolIndex
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]ToolDescriptor, len(hits))
	for i, h := range hits {
		out[i] = h.Descriptor
	}
	return out
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// DescribeServer returns the server's configuration record alongside
// whatever tool descriptors are currently cached for it.
func (c *Catalog) DescribeServer(name string) (config.ServerConfig, []ToolDescriptor, bool) {
	srv, ok := c.cfg.Servers[name]
	if !ok {
		return config.ServerConfig{}, nil, false
	}
	c.mu.Lock()
	descs := append([]ToolDescriptor(nil), c.cache[name]...)
	c.mu.Unlock()
	return srv, descs, true
}

// CapabilitySummary is the static paragraph returned by both
// capability_summary() and the resource://<bridge>/capabilities
// resource.
func (c *Catalog) CapabilitySummary() string {
	return "This bridge executes Python in a disposable sandbox and proxies tool " +
		"calls to configured downstream MCP servers. Call a known tool as " +
		"mcp_<alias>(...), as mcp_servers['<server>'].<tool>(...), or via the " +
		"virtual module tree mcp.servers.<server>.<alias>(...); use runtime." +
		"discovered_servers(), runtime.list_tools(server), runtime.query_tool_docs(" +
		"server, tool=None, detail='summary'|'full'), and runtime.search_tool_docs(" +
		"query, limit=None) to find tools without loading every schema up front."
}
