package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// MergeFallbackSources loads each path in cfg.FallbackSources, in order,
// and merges its servers into cfg.Servers.
//
// Two config files may name the same server; per the discovery-order
// precedence rule, the later source in FallbackSources wins outright
// (last-wins, no further deduplication). A missing source is skipped
// rather than treated as fatal; other read/parse errors are collected
// and returned together so one bad file doesn't hide the rest.
func MergeFallbackSources(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerConfig)
	}

	var errs []error
	for _, path := range cfg.FallbackSources {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}

		var doc Config
		if uerr := toml.Unmarshal(data, &doc); uerr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, uerr))
			continue
		}
		for name, srv := range doc.Servers {
			cfg.Servers[name] = expandServerEnvVars(cloneServerConfig(srv))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
