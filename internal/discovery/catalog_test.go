package discovery

import (
	"context"
	"testing"

	"github.com/sandboxmcp/sandboxmcp/internal/client"
	"github.com/sandboxmcp/sandboxmcp/internal/config"
)

type fakePool struct {
	tools map[string][]client.ToolInfo
	calls int
}

func (f *fakePool) ListTools(ctx context.Context, server string) ([]client.ToolInfo, error) {
	f.calls++
	return f.tools[server], nil
}

func newTestCatalog() (*Catalog, *fakePool) {
	cfg := &config.Config{Servers: map[string]config.ServerConfig{
		"stub":  {Command: "stub"},
		"other": {Command: "other"},
	}}
	fp := &fakePool{tools: map[string][]client.ToolInfo{
		"stub": {
			{Name: "search-repos", Description: "search github repositories"},
			{Name: "search_repos", Description: "search github repositories (v2)"},
		},
	}}
	return New(cfg, fp), fp
}

func TestQueryToolDocsAssignsCollisionSafeAliases(t *testing.T) {
	c, _ := newTestCatalog()
	descs, err := c.QueryToolDocs(context.Background(), "stub", "", "summary")
	if err != nil {
		t.Fatalf("QueryToolDocs: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}
	if descs[0].Alias != "search_repos" {
		t.Fatalf("expected first alias search_repos, got %q", descs[0].Alias)
	}
	if descs[1].Alias != "search_repos_2" {
		t.Fatalf("expected collision-suffixed alias search_repos_2, got %q", descs[1].Alias)
	}
}

func TestQueryToolDocsSummaryElidesSchema(t *testing.T) {
	c, _ := newTestCatalog()
	descs, err := c.QueryToolDocs(context.Background(), "stub", "", "summary")
	if err != nil {
		t.Fatalf("QueryToolDocs: %v", err)
	}
	for _, d := range descs {
		if d.InputSchema != nil {
			t.Fatalf("expected summary detail to omit input schema, got %v", d.InputSchema)
		}
	}
}

func TestListToolsDoesNotForceWarm(t *testing.T) {
	c, fp := newTestCatalog()
	if got := c.ListTools("stub"); len(got) != 0 {
		t.Fatalf("expected empty list before warm, got %v", got)
	}
	if fp.calls != 0 {
		t.Fatalf("expected ListTools to avoid calling the pool, got %d calls", fp.calls)
	}
}

func TestSearchToolDocsRanksByTokenOverlapThenOrder(t *testing.T) {
	c, _ := newTestCatalog()
	if _, err := c.QueryToolDocs(context.Background(), "stub", "", "summary"); err != nil {
		t.Fatalf("QueryToolDocs: %v", err)
	}

	hits := c.SearchToolDocs("search github", 0)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ToolName != "search-repos" {
		t.Fatalf("expected search-repos first (tool order tiebreak), got %s", hits[0].ToolName)
	}
}

func TestSearchToolDocsIgnoresUncachedServers(t *testing.T) {
	c, _ := newTestCatalog()
	if hits := c.SearchToolDocs("search", 0); len(hits) != 0 {
		t.Fatalf("expected no hits before any server is warmed, got %d", len(hits))
	}
}

func TestDescribeServerUnknownReturnsFalse(t *testing.T) {
	c, _ := newTestCatalog()
	if _, _, ok := c.DescribeServer("ghost"); ok {
		t.Fatal("expected ok=false for unknown server")
	}
}
