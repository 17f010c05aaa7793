package sandbox

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// LaunchOptions parameterizes the Container Launch Policy (spec §4.7).
type LaunchOptions struct {
	Image         string
	Memory        string // e.g. "512m"
	Pids          int
	Cpus          string // optional; empty means unlimited
	ContainerUser string // "uid:gid"
	IPCDir        string // host directory containing entrypoint.py and scratch/
	Env           map[string]string
}

// BuildArgs renders the full container CLI argument list for one
// invocation. Containers are never reused: every invocation gets a
// fresh argument list and a fresh --rm container.
func BuildArgs(opts LaunchOptions) []string {
	args := []string{
		"run", "--rm", "--interactive",
		"--network", "none",
		"--read-only",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--pids-limit", strconv.Itoa(opts.Pids),
		"--memory", opts.Memory,
		"--user", opts.ContainerUser,
		"--tmpfs", "/tmp:noexec,nosuid,size=64m",
		"--tmpfs", "/work:noexec,nosuid,size=64m",
		"--workdir", "/work",
	}
	if opts.Cpus != "" {
		args = append(args, "--cpus", opts.Cpus)
	}

	entrypointPath := filepath.Join(opts.IPCDir, "entrypoint.py")
	scratchPath := filepath.Join(opts.IPCDir, "scratch")
	args = append(args,
		"-v", fmt.Sprintf("%s:/ipc/entrypoint.py:ro", entrypointPath),
		"-v", fmt.Sprintf("%s:/ipc/scratch:rw", scratchPath),
	)

	for k, v := range opts.Env {
		args = append(args, "--env", k+"="+v)
	}

	args = append(args, opts.Image, "python", "-u", "/ipc/entrypoint.py")
	return args
}
