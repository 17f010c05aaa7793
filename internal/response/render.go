// Package response implements the Response Renderer (spec §4.9): turning
// one sandbox invocation's outcome into the run_python tool's
// CallToolResult, in either a terse compact-text rendering (default) or
// a token-oriented block keyed by the output_mode environment variable.
package response

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Output is the normalized outcome of one Sandbox Invocation handed to
// the renderer.
type Output struct {
	Status         string // "ok" | "error" | "timeout"
	Stdout         string
	Stderr         string
	Error          string
	Servers        []string
	ExitCode       *int
	TimeoutSeconds int
}

// payload is the structured representation shared by both render modes
// (original source's _build_response_payload), before either is trimmed
// for the compact mode or passed through whole for the token-oriented one.
type payload struct {
	Status         string   `json:"status"`
	Summary        string   `json:"summary"`
	ExitCode       *int     `json:"exitCode,omitempty"`
	Stdout         []string `json:"stdout,omitempty"`
	Stderr         []string `json:"stderr,omitempty"`
	Servers        []string `json:"servers,omitempty"`
	Error          string   `json:"error,omitempty"`
	TimeoutSeconds int      `json:"timeoutSeconds,omitempty"`
}

// noiseTokens are stripped lines that carry no information worth the
// tokens (original source's _NOISE_STREAM_TOKENS).
var noiseTokens = map[string]bool{
	"": true,
}

// Render builds the run_python CallToolResult for one invocation outcome,
// choosing compact or token-oriented rendering per the output_mode
// environment variable (spec §6).
func Render(out Output) *mcp.CallToolResult {
	p := buildPayload(out)
	isError := strings.ToLower(p.Status) != "ok"

	var text string
	var structured map[string]any
	if outputMode() == "token-oriented" {
		text = renderTOONBlock(p)
		structured = toMap(p)
	} else {
		text = renderCompactOutput(p)
		structured = compactStructuredPayload(p)
	}

	return &mcp.CallToolResult{
		Content:           []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		StructuredContent: structured,
		IsError:           isError,
	}
}

func outputMode() string {
	return strings.ToLower(strings.TrimSpace(os.Getenv("output_mode")))
}

func buildPayload(out Output) payload {
	status := out.Status
	if status == "" {
		status = "error"
	}

	p := payload{
		Status:         status,
		ExitCode:       out.ExitCode,
		Servers:        out.Servers,
		Error:          out.Error,
		TimeoutSeconds: out.TimeoutSeconds,
		Stdout:         filterNoise(splitLines(out.Stdout)),
		Stderr:         filterNoise(splitLines(out.Stderr)),
	}

	p.Summary = summarize(p)
	return p
}

func summarize(p payload) string {
	if p.Status == "ok" && len(p.Stdout) == 0 && len(p.Stderr) == 0 {
		return "success (no output)"
	}
	if p.Error != "" {
		return p.Error
	}
	return p.Status
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func filterNoise(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if noiseTokens[strings.TrimSpace(line)] {
			continue
		}
		out = append(out, line)
	}
	return out
}

// renderCompactOutput produces a terse plain-text summary (original
// source's _render_compact_output): stdout and stderr with blank lines dropped, prefixed
// by a status/exit-code line only when either is noteworthy.
func renderCompactOutput(p payload) string {
	var lines []string
	if len(p.Stdout) > 0 {
		lines = append(lines, strings.Join(p.Stdout, "\n"))
	}
	if len(p.Stderr) > 0 {
		lines = append(lines, "stderr:\n"+strings.Join(p.Stderr, "\n"))
	}
	if len(lines) == 0 && p.Summary != "" {
		lines = append(lines, p.Summary)
	}
	if p.Error != "" && (len(lines) == 0 || p.Status != "error") {
		lines = append(lines, "error: "+p.Error)
	}
	if p.ExitCode != nil && *p.ExitCode != 0 {
		lines = append([]string{"exit: " + strconv.Itoa(*p.ExitCode)}, lines...)
	}
	if p.Status != "" && p.Status != "ok" {
		lines = append([]string{"status: " + p.Status}, lines...)
	}

	text := strings.TrimSpace(strings.Join(lines, "\n"))
	if text != "" {
		return text
	}
	if p.Status != "" {
		return p.Status
	}
	return "success"
}

// compactStructuredPayload trims payload down to the non-default fields
// a compact-mode caller actually needs (original source's
// _build_compact_structured_payload).
func compactStructuredPayload(p payload) map[string]any {
	out := map[string]any{}
	if p.Status != "" && p.Status != "ok" {
		out["status"] = p.Status
	}
	if p.ExitCode != nil && *p.ExitCode != 0 {
		out["exitCode"] = *p.ExitCode
	}
	if len(p.Stdout) > 0 {
		out["stdout"] = p.Stdout
	}
	if len(p.Stderr) > 0 {
		out["stderr"] = p.Stderr
	}
	if len(p.Servers) > 0 {
		out["servers"] = p.Servers
	}
	if p.TimeoutSeconds != 0 {
		out["timeoutSeconds"] = p.TimeoutSeconds
	}
	if p.Error != "" {
		out["error"] = p.Error
	}
	if p.Summary != "" && (p.Status != "ok" || out["stdout"] == nil) {
		out["summary"] = p.Summary
	}
	if len(out) == 0 {
		out["status"] = p.Status
		out["summary"] = p.Summary
	}
	return out
}

// renderTOONBlock encodes payload in token-oriented object notation. No
// real TOON encoder was found among the pack's dependencies (see
// DESIGN.md), so this falls back to indented JSON the same way the
// original source falls back when its optional toon_format import is
// absent.
func renderTOONBlock(p payload) string {
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "```json\n{}\n```"
	}
	return "```json\n" + string(raw) + "\n```"
}

func toMap(p payload) map[string]any {
	raw, err := json.Marshal(p)
	if err != nil {
		return map[string]any{"status": p.Status}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"status": p.Status}
	}
	return m
}
