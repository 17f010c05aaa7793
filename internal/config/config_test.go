package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestLoadMissingFileReturnsEmptyConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Servers) != 0 {
		t.Fatalf("expected no servers, got %d", len(cfg.Servers))
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("STUB_TOKEN", "secret")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, `
[servers.stub]
command = "stub-server"
args = ["--token", "${STUB_TOKEN}"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	srv, ok := cfg.Servers["stub"]
	if !ok {
		t.Fatalf("expected server %q", "stub")
	}
	if got := srv.Args[1]; got != "secret" {
		t.Fatalf("expected expanded token, got %q", got)
	}
}

func TestMergeFallbackSourcesLastWins(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.toml")
	second := filepath.Join(dir, "second.toml")
	writeFile(t, first, `
[servers.stub]
command = "first-command"
`)
	writeFile(t, second, `
[servers.stub]
command = "second-command"
`)

	cfg := &Config{FallbackSources: []string{first, second}}
	if err := MergeFallbackSources(cfg); err != nil {
		t.Fatalf("MergeFallbackSources: %v", err)
	}
	if got := cfg.Servers["stub"].Command; got != "second-command" {
		t.Fatalf("expected last source to win, got %q", got)
	}
}

func TestMergeFallbackSourcesSkipsMissingSource(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{FallbackSources: []string{filepath.Join(dir, "absent.toml")}}
	if err := MergeFallbackSources(cfg); err != nil {
		t.Fatalf("MergeFallbackSources: %v", err)
	}
}

func TestValidateRejectsEmptyCommand(t *testing.T) {
	cfg := &Config{Servers: map[string]ServerConfig{"stub": {}}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for empty command")
	}
}
