package response

import (
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestRenderCompactSuccessWithOutput(t *testing.T) {
	result := Render(Output{Status: "ok", Stdout: "hello\n"})
	if result.IsError {
		t.Fatal("expected IsError=false for ok status")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	if !strings.Contains(text.Text, "hello") {
		t.Fatalf("expected rendered text to contain stdout, got %q", text.Text)
	}
}

func TestRenderCompactNoOutputSummarizesSuccess(t *testing.T) {
	result := Render(Output{Status: "ok"})
	if result.IsError {
		t.Fatal("expected IsError=false for ok status")
	}
	if result.StructuredContent.(map[string]any)["summary"] != "success (no output)" {
		t.Fatalf("expected no-output summary, got %v", result.StructuredContent)
	}
}

func TestRenderCompactErrorIncludesMessage(t *testing.T) {
	result := Render(Output{Status: "error", Error: "boom"})
	if !result.IsError {
		t.Fatal("expected IsError=true for error status")
	}
	sc := result.StructuredContent.(map[string]any)
	if sc["error"] != "boom" {
		t.Fatalf("expected error field in structured content, got %v", sc)
	}
}

func TestRenderCompactFiltersBlankLines(t *testing.T) {
	p := buildPayload(Output{Status: "ok", Stdout: "a\n\nb\n"})
	if len(p.Stdout) != 2 || p.Stdout[0] != "a" || p.Stdout[1] != "b" {
		t.Fatalf("expected blank lines filtered, got %v", p.Stdout)
	}
}

func TestRenderTimeoutStatusSurfacesInText(t *testing.T) {
	result := Render(Output{Status: "timeout", Error: "invocation exceeded its deadline"})
	if !result.IsError {
		t.Fatal("expected IsError=true for timeout status")
	}
	text := result.Content[0].(mcp.TextContent).Text
	if !strings.Contains(text, "status: timeout") {
		t.Fatalf("expected timeout status in rendered text, got %q", text)
	}
}

func TestRenderTokenOrientedModeProducesJSONBlock(t *testing.T) {
	t.Setenv("output_mode", "token-oriented")
	result := Render(Output{Status: "ok", Stdout: "hi\n"})
	block, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	if !strings.Contains(block.Text, "```json") {
		t.Fatalf("expected a json fenced block, got %q", block.Text)
	}
}

func TestCompactStructuredPayloadOmitsOkStatus(t *testing.T) {
	p := buildPayload(Output{Status: "ok", Stdout: "x\n"})
	sc := compactStructuredPayload(p)
	if _, present := sc["status"]; present {
		t.Fatalf("expected status to be omitted for ok, got %v", sc)
	}
}
