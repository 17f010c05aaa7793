// Package runtime implements the Runtime Selector (spec §4.3): picking
// podman or rootless docker, probing availability, and managing Podman's
// optional VM warm-up/idle-shutdown lifecycle.
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sandboxmcp/sandboxmcp/internal/errkind"
)

const defaultIdleTimeout = 300 * time.Second

// lookPath, runVersion, and runMachineCmd are package-level indirections
// so tests can substitute fakes without touching a real container
// runtime or podman machine.
var (
	lookPath   = exec.LookPath
	runVersion = func(ctx context.Context, bin string) error {
		cmd := exec.CommandContext(ctx, bin, "version", "--format", "{{.Client.Version}}")
		return cmd.Run()
	}
	runMachineCmd = func(ctx context.Context, bin string, args ...string) (stdout, stderr string, err error) {
		cmd := exec.CommandContext(ctx, bin, args...)
		var outBuf, errBuf bytes.Buffer
		cmd.Stdout = &outBuf
		cmd.Stderr = &errBuf
		err = cmd.Run()
		return outBuf.String(), errBuf.String(), err
	}
)

// Selector resolves and caches the container runtime binary, and tracks
// Podman's VM warm state across concurrent invocations.
type Selector struct {
	override string

	mu          sync.Mutex
	resolved    string
	vmWarm      bool
	refs        int
	idleTimer   *time.Timer
	idleTimeout time.Duration
	startVMFn   func(ctx context.Context) error
	stopVMFn    func(ctx context.Context) error
	sharedDirs  map[string]bool
}

// New builds a Selector. override, if non-empty, forces the runtime
// binary (skipping the podman-then-docker probe).
func New(override string) *Selector {
	timeout := defaultIdleTimeout
	if v := os.Getenv("runtime_idle_timeout"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			timeout = d
		}
	}
	s := &Selector{
		override:    override,
		idleTimeout: timeout,
		sharedDirs:  make(map[string]bool),
	}
	s.startVMFn = s.startPodmanMachine
	s.stopVMFn = s.stopPodmanMachine
	return s
}

// readyNoiseSubstrings are the substrings of a failed `podman machine info`
// that indicate the VM simply isn't running yet, rather than a real
// diagnostic (original source's _ensure_runtime_ready probe).
var readyNoiseSubstrings = []string{
	"cannot connect to podman",
	"podman machine",
	"run the podman machine",
	"socket: connect",
}

// missingMachineSubstrings indicate the podman machine has never been
// initialized, escalating start to init-then-start (original source's
// _ensure_runtime_ready machine-start failure branch).
var missingMachineSubstrings = []string{
	"does not exist",
	"no such machine",
}

// startPodmanMachine brings up the podman VM if it isn't already
// answering `machine info`, grounded on the original source's
// _ensure_runtime_ready: probe, start on connection failure, init on
// missing-machine failure, then re-probe.
func (s *Selector) startPodmanMachine(ctx context.Context) error {
	bin := s.resolvedBinary()
	if bin == "" {
		bin = "podman"
	}

	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		_, stderr, err := runMachineCmd(ctx, bin, "machine", "info", "--format", "{{json .}}")
		if err == nil {
			return nil
		}
		lastErr = err
		lower := strings.ToLower(stderr)
		if !containsAny(lower, readyNoiseSubstrings) {
			continue
		}

		_, startStderr, startErr := runMachineCmd(ctx, bin, "machine", "start")
		if startErr == nil {
			continue
		}
		if containsAny(strings.ToLower(startStderr), missingMachineSubstrings) {
			if _, _, initErr := runMachineCmd(ctx, bin, "machine", "init"); initErr != nil {
				lastErr = initErr
				continue
			}
			if _, _, startErr := runMachineCmd(ctx, bin, "machine", "start"); startErr != nil {
				lastErr = startErr
			}
		}
	}

	_, _, err := runMachineCmd(ctx, bin, "machine", "info", "--format", "{{json .}}")
	if err == nil {
		return nil
	}
	return fmt.Errorf("podman machine not ready after %d attempts: %w", attempts, lastErr)
}

// stopPodmanMachine shuts down the podman VM, tolerating the
// already-stopped cases as success (original source's _stop_runtime).
func (s *Selector) stopPodmanMachine(ctx context.Context) error {
	bin := s.resolvedBinary()
	if bin == "" {
		bin = "podman"
	}
	stdout, stderr, err := runMachineCmd(ctx, bin, "machine", "stop")
	if err == nil {
		return nil
	}
	combined := strings.ToLower(stdout + stderr)
	if strings.Contains(combined, "already stopped") || strings.Contains(combined, "is not running") {
		return nil
	}
	return err
}

// ShareVolume registers dir as a shared, rootful Podman VM mount,
// tolerating the already-shared cases as success (original source's
// _ensure_podman_volume_shared).
func ShareVolume(ctx context.Context, bin, dir string) error {
	_, stderr, err := runMachineCmd(ctx, bin, "machine", "set", "--rootful", "--volume", dir+":"+dir)
	if err == nil {
		return nil
	}
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "already exists") || strings.Contains(lower, "would overwrite") {
		return nil
	}
	return err
}

func (s *Selector) resolvedBinary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}

func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// Resolve picks the runtime binary: the explicit override if set,
// otherwise the first of podman/docker that answers a version query.
// The probe is retried once on failure before giving up, per spec §7's
// "one retry of the version probe during runtime selection".
func (s *Selector) Resolve(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.resolved != "" {
		defer s.mu.Unlock()
		return s.resolved, nil
	}
	s.mu.Unlock()

	candidates := []string{"podman", "docker"}
	if s.override != "" {
		candidates = []string{s.override}
	}

	var lastErr error
	for _, bin := range candidates {
		path, err := lookPath(bin)
		if err != nil {
			lastErr = err
			continue
		}
		if err := probeWithRetry(ctx, path); err != nil {
			lastErr = err
			continue
		}
		s.mu.Lock()
		s.resolved = path
		s.mu.Unlock()
		return path, nil
	}

	return "", errkind.Wrap(errkind.RuntimeUnavailable, "no container runtime found", lastErr)
}

func probeWithRetry(ctx context.Context, bin string) error {
	err := runVersion(ctx, bin)
	if err == nil {
		return nil
	}
	return runVersion(ctx, bin)
}

// BeginInvocation increments the live-invocation refcount, canceling any
// pending idle-shutdown timer, and starts the VM if this is Podman's
// first use.
func (s *Selector) BeginInvocation(ctx context.Context, isPodman bool) error {
	s.mu.Lock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.refs++
	needStart := isPodman && !s.vmWarm
	s.mu.Unlock()

	if needStart && s.startVMFn != nil {
		if err := s.startVMFn(ctx); err != nil {
			return errkind.Wrap(errkind.RuntimeUnavailable, "starting podman machine", err)
		}
		s.mu.Lock()
		s.vmWarm = true
		s.mu.Unlock()
	}
	return nil
}

// EndInvocation decrements the refcount; once it reaches zero, an
// idle-shutdown timer starts, and fires s.stopVMFn if no invocation
// begins before it elapses.
func (s *Selector) EndInvocation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs > 0 {
		s.refs--
	}
	if s.refs != 0 || !s.vmWarm {
		return
	}
	s.idleTimer = time.AfterFunc(s.idleTimeout, s.shutdownIdleVM)
}

func (s *Selector) shutdownIdleVM() {
	s.mu.Lock()
	if s.refs != 0 || !s.vmWarm {
		s.mu.Unlock()
		return
	}
	s.vmWarm = false
	stop := s.stopVMFn
	s.mu.Unlock()

	if stop != nil {
		_ = stop(context.Background())
	}
}

// EnsureSharedDirectory registers dir as shared into the Podman VM the
// first time it's seen; subsequent calls for the same dir are no-ops
// (original source's ensure_shared_directory bootstrap).
func (s *Selector) EnsureSharedDirectory(ctx context.Context, dir string, register func(ctx context.Context, dir string) error) error {
	s.mu.Lock()
	if s.sharedDirs[dir] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if register != nil {
		if err := register(ctx, dir); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.sharedDirs[dir] = true
	s.mu.Unlock()
	return nil
}

// knownNoiseSubstrings are podman/docker VM-connection warnings that are
// benign and are dropped from the container stderr an invocation returns.
var knownNoiseSubstrings = []string{
	"Resizing machine",
	"machine starting",
	"client socket detection",
}

// FilterNoise drops lines from runtime stderr output that are known
// Podman/Docker VM chatter rather than real diagnostics.
func FilterNoise(stderr string) string {
	if stderr == "" {
		return ""
	}
	lines := strings.Split(stderr, "\n")
	kept := lines[:0]
	for _, line := range lines {
		noisy := false
		for _, substr := range knownNoiseSubstrings {
			if strings.Contains(line, substr) {
				noisy = true
				break
			}
		}
		if !noisy {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
