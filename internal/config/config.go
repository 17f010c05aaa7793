package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the config file at path and returns the parsed Config. A
// missing file is not an error; it yields an empty Config so the bridge
// can still start with zero configured servers.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Servers: make(map[string]ServerConfig)}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerConfig)
	}
	expandConfigEnvVars(&cfg)
	return &cfg, nil
}

func expandConfigEnvVars(cfg *Config) {
	if cfg == nil {
		return
	}
	for name, srv := range cfg.Servers {
		cfg.Servers[name] = expandServerEnvVars(srv)
	}
}

func expandServerEnvVars(srv ServerConfig) ServerConfig {
	srv.Command = expandEnvVars(srv.Command)
	srv.Cwd = expandEnvVars(srv.Cwd)
	srv.URL = expandEnvVars(srv.URL)
	for i := range srv.Args {
		srv.Args[i] = expandEnvVars(srv.Args[i])
	}
	for k, v := range srv.Env {
		srv.Env[k] = expandEnvVars(v)
	}
	for k, v := range srv.Headers {
		srv.Headers[k] = expandEnvVars(v)
	}
	return srv
}

// expandEnvVars replaces ${VAR_NAME} with the value of the environment
// variable, leaving unresolved references untouched.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

func cloneServerConfig(srv ServerConfig) ServerConfig {
	cloned := srv
	cloned.Args = append([]string(nil), srv.Args...)
	cloned.Env = cloneStringMap(srv.Env)
	cloned.Headers = cloneStringMap(srv.Headers)
	return cloned
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
