package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate checks configuration invariants and returns all violations
// joined together, so a caller sees every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		errs = append(errs, validateServer(name, cfg.Servers[name])...)
	}
	return errors.Join(errs...)
}

func validateServer(name string, srv ServerConfig) []error {
	var errs []error

	if strings.TrimSpace(name) == "" {
		errs = append(errs, errors.New("server name must not be empty"))
	}

	hasCommand := strings.TrimSpace(srv.Command) != ""
	hasURL := strings.TrimSpace(srv.URL) != ""
	switch {
	case hasCommand && hasURL:
		errs = append(errs, fmt.Errorf("servers.%s: configure either command (stdio) or url (http), not both", name))
	case !hasCommand && !hasURL:
		errs = append(errs, fmt.Errorf("servers.%s: missing transport, set command (stdio) or url (http)", name))
	case hasURL:
		if _, err := url.ParseRequestURI(srv.URL); err != nil {
			errs = append(errs, fmt.Errorf("servers.%s.url: invalid URL %q: %w", name, srv.URL, err))
		}
	}
	return errs
}
