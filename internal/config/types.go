package config

// Config is the top-level server configuration: a flat set of named
// server records plus the ordered list of fallback sources merged on top
// of them (a same-named server in a fallback source replaces the primary
// record).
type Config struct {
	Servers         map[string]ServerConfig `toml:"servers"`
	FallbackSources []string                `toml:"fallback_sources"`
}

// ServerConfig is a Server Record: launch command and arguments, an
// environment overlay, and an optional working directory. Immutable once
// loaded; callers that need to mutate a copy should use cloneServerConfig.
//
// URL and Headers are a supplemental transport the core spec does not
// require (it assumes stdio downstreams): when URL is set the Downstream
// Client dials the server over streamable HTTP instead of spawning it.
type ServerConfig struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	Cwd     string            `toml:"cwd"`

	URL     string            `toml:"url"`
	Headers map[string]string `toml:"headers"`
}

// IsStdio reports whether this record launches a child process.
func (s ServerConfig) IsStdio() bool { return s.Command != "" }

// IsHTTP reports whether this record dials a streamable-HTTP endpoint.
func (s ServerConfig) IsHTTP() bool { return s.URL != "" }
