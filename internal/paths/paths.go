// Package paths resolves the bridge's on-disk state directory layout.
package paths

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const defaultStateDirName = ".mcp-bridge"

// StateDir returns the root directory under which per-invocation IPC
// directories are created. Defaults to ./.mcp-bridge (cwd-relative, per
// spec §6); overridden by the state_dir environment variable.
func StateDir() string {
	if v := os.Getenv("state_dir"); v != "" {
		return v
	}
	return defaultStateDirName
}

// ConfigFile returns the path to the bridge's server configuration file,
// nested under the state directory so the whole layout stays cwd-relative
// by default.
func ConfigFile() string {
	if v := os.Getenv("config_file"); v != "" {
		return v
	}
	return filepath.Join(StateDir(), "config.toml")
}

// EnsureDir creates a directory and its parents if needed.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o700)
}

// NewInvocationDir creates a fresh, uniquely named subdirectory of
// StateDir() for one sandbox invocation and returns its path. The
// directory name carries no information other than uniqueness.
func NewInvocationDir() (string, error) {
	dir := filepath.Join(StateDir(), "invocation-"+uuid.NewString())
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// RemoveInvocationDir deletes an invocation directory and everything in
// it. Safe to call even if the directory is already gone.
func RemoveInvocationDir(dir string) error {
	return os.RemoveAll(dir)
}
