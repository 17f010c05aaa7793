package entrypoint

import (
	"strings"
	"testing"

	"github.com/sandboxmcp/sandboxmcp/internal/discovery"
)

func TestRenderEmbedsUserCodeAndAliases(t *testing.T) {
	catalog := ToolCatalog{
		Servers: []string{"stub"},
		Tools: map[string][]discovery.ToolDescriptor{
			"stub": {{ServerName: "stub", ToolName: "echo", Alias: "echo", Description: "echoes input"}},
		},
	}

	src, catalogJSON, err := Render(`print(1 + 1)`, catalog)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if !strings.Contains(src, `mcp_echo = _ToolProxy("stub", "echo")`) {
		t.Fatalf("expected proxy assignment in rendered source:\n%s", src)
	}
	if !strings.Contains(src, `print(1 + 1)`) {
		t.Fatalf("expected user code to be embedded:\n%s", src)
	}
	if !strings.Contains(src, `os.environ.get("MCP_TOOL_CATALOG"`) {
		t.Fatalf("expected script to read the catalog from the environment:\n%s", src)
	}
	if !strings.Contains(catalogJSON, `"servers":["stub"]`) {
		t.Fatalf("expected catalog JSON to list requested servers: %s", catalogJSON)
	}
}

func TestRenderInstallsVirtualServerModules(t *testing.T) {
	catalog := ToolCatalog{
		Servers: []string{"stub"},
		Tools: map[string][]discovery.ToolDescriptor{
			"stub": {{ServerName: "stub", ToolName: "echo", Alias: "echo", Description: "echoes input"}},
		},
	}

	src, _, err := Render(`pass`, catalog)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if !strings.Contains(src, `sys.modules["mcp.servers." + server] = mod`) {
		t.Fatalf("expected per-server virtual modules to be registered in sys.modules:\n%s", src)
	}
	if !strings.Contains(src, `sys.modules["mcp.servers"] = servers_pkg`) {
		t.Fatalf("expected the mcp.servers package to be registered in sys.modules:\n%s", src)
	}
	if !strings.Contains(src, `"mcp": mcp,`) {
		t.Fatalf("expected the mcp virtual package to be exposed in the user code namespace:\n%s", src)
	}
}

func TestRenderPreservesMultilineStringLiteralsVerbatim(t *testing.T) {
	userCode := "s = \"\"\"\nline1\nline2\n\"\"\"\nprint(s)"

	src, _, err := Render(userCode, ToolCatalog{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if !strings.Contains(src, `compile(src, "<user-code>", "exec", flags=flags)`) {
		t.Fatalf("expected the compile-flag approach rather than line re-indentation:\n%s", src)
	}
	if strings.Contains(src, "async def __user_main__") {
		t.Fatalf("expected no re-indentation wrapper that could corrupt multiline literals:\n%s", src)
	}
	if !strings.Contains(src, `PyCF_ALLOW_TOP_LEVEL_AWAIT`) {
		t.Fatalf("expected top-level await support via the compile flag:\n%s", src)
	}
}

func TestRenderWithNoServersStillProducesRunnableShape(t *testing.T) {
	src, catalogJSON, err := Render(`pass`, ToolCatalog{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(src, "def main():") {
		t.Fatalf("expected a main() entrypoint:\n%s", src)
	}
	if catalogJSON == "" {
		t.Fatal("expected non-empty catalog JSON even with no servers")
	}
}
