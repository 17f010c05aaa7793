package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sandboxmcp/sandboxmcp/internal/client"
	"github.com/sandboxmcp/sandboxmcp/internal/discovery"
	"github.com/sandboxmcp/sandboxmcp/internal/dispatcher"
	"github.com/sandboxmcp/sandboxmcp/internal/entrypoint"
	"github.com/sandboxmcp/sandboxmcp/internal/errkind"
	"github.com/sandboxmcp/sandboxmcp/internal/frame"
	"github.com/sandboxmcp/sandboxmcp/internal/paths"
	"github.com/sandboxmcp/sandboxmcp/internal/runtime"
)

// Config parameterizes one Sandbox Invocation (spec §4.5): the
// container image and resource limits applied to every run.
type Config struct {
	Image           string
	Memory          string
	Pids            int
	Cpus            string
	ContainerUser   string
	DefaultTimeout  time.Duration
	MaxTimeout      time.Duration
	GraceKillWindow time.Duration
}

// Result is what the invocation orchestrator hands back to the Response
// Renderer.
type Result struct {
	Status  string // "ok" | "error" | "timeout"
	Stdout  string
	Stderr  string
	Error   string
	Servers []string
}

// selector is the subset of *runtime.Selector the orchestrator depends
// on, narrowed to an interface so tests can substitute a fake runtime
// without a real podman/docker binary on PATH.
type selector interface {
	Resolve(ctx context.Context) (string, error)
	BeginInvocation(ctx context.Context, isPodman bool) error
	EndInvocation()
	EnsureSharedDirectory(ctx context.Context, dir string, register func(ctx context.Context, dir string) error) error
}

// Invoker runs one piece of user code inside a disposable sandbox
// container, proxying its tool-call and discovery requests back through
// the Client Pool and Discovery Service.
type Invoker struct {
	cfg      Config
	pool     *client.Pool
	catalog  *discovery.Catalog
	selector selector

	// runContainer is a seam so tests can substitute a fake process
	// runner instead of spawning a real container.
	runContainer func(ctx context.Context, bin string, args []string, graceWindow time.Duration, stdin io.Reader, stdout, stderr io.Writer) error
}

// New builds an Invoker wired to the given pool, catalog, and runtime
// selector.
func New(cfg Config, p *client.Pool, catalog *discovery.Catalog, sel *runtime.Selector) *Invoker {
	if cfg.GraceKillWindow <= 0 {
		cfg.GraceKillWindow = 5 * time.Second
	}
	return &Invoker{
		cfg:          cfg,
		pool:         p,
		catalog:      catalog,
		selector:     sel,
		runContainer: runContainerProcess,
	}
}

// Run executes code inside a fresh sandbox, proxying calls to servers
// (a subset of the pool's known servers) for up to timeoutSeconds.
// timeoutSeconds is a pointer so the caller-omitted case (use the
// configured default) can't collide with any caller-supplied integer,
// including zero or negative values that must be rejected outright.
func (inv *Invoker) Run(ctx context.Context, code string, servers []string, timeoutSeconds *int) (*Result, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	servers = dedupe(servers)
	if err := inv.checkKnownServers(servers); err != nil {
		return nil, err
	}
	timeout, err := inv.resolveTimeout(timeoutSeconds)
	if err != nil {
		return nil, err
	}

	bin, err := inv.selector.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	isPodman := filepath.Base(bin) == "podman"
	if err := inv.selector.BeginInvocation(ctx, isPodman); err != nil {
		return nil, err
	}
	defer inv.selector.EndInvocation()

	ipcDir, err := paths.NewInvocationDir()
	if err != nil {
		return nil, errkind.Wrap(errkind.ProtocolError, "creating invocation directory", err)
	}
	defer paths.RemoveInvocationDir(ipcDir)

	scratchDir := filepath.Join(ipcDir, "scratch")
	if err := paths.EnsureDir(scratchDir); err != nil {
		return nil, errkind.Wrap(errkind.ProtocolError, "creating scratch directory", err)
	}

	catalog, err := inv.buildCatalog(ctx, servers)
	if err != nil {
		return nil, err
	}

	script, catalogJSON, err := entrypoint.Render(code, catalog)
	if err != nil {
		return nil, errkind.Wrap(errkind.ProtocolError, "rendering entrypoint", err)
	}
	entrypointPath := filepath.Join(ipcDir, "entrypoint.py")
	if err := os.WriteFile(entrypointPath, []byte(script), 0o400); err != nil {
		return nil, errkind.Wrap(errkind.ProtocolError, "writing entrypoint", err)
	}

	if isPodman {
		register := func(ctx context.Context, dir string) error {
			return runtime.ShareVolume(ctx, bin, dir)
		}
		if err := inv.selector.EnsureSharedDirectory(ctx, ipcDir, register); err != nil {
			return nil, err
		}
	}

	deadline := time.Now().Add(timeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	args := BuildArgs(LaunchOptions{
		Image:         inv.cfg.Image,
		Memory:        inv.cfg.Memory,
		Pids:          inv.cfg.Pids,
		Cpus:          inv.cfg.Cpus,
		ContainerUser: inv.cfg.ContainerUser,
		IPCDir:        ipcDir,
		Env:           map[string]string{"MCP_TOOL_CATALOG": catalogJSON},
	})

	return inv.runAndPump(runCtx, bin, args, servers, deadline)
}

func (inv *Invoker) runAndPump(ctx context.Context, bin string, args []string, servers []string, deadline time.Time) (*Result, error) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	var stderrBuf bytes.Buffer
	var stderrMu sync.Mutex

	out := frame.NewWriter(stdinW)
	disp := dispatcher.New(servers, inv.pool, inv.catalog, out, deadline)

	done := make(chan error, 1)
	go func() {
		done <- inv.runContainer(ctx, bin, args, inv.cfg.GraceKillWindow, stdinR, stdoutW, &syncWriter{mu: &stderrMu, w: &stderrBuf})
		stdoutW.Close()
	}()

	result := &Result{Servers: servers}
	var stdoutBuf bytes.Buffer

	reader := frame.NewReader(stdoutR)
readLoop:
	for {
		f, err := reader.Read()
		if err != nil {
			break
		}
		switch f.Kind {
		case frame.KindRequest:
			disp.Handle(ctx, f.Request)
		case frame.KindStdout:
			stdoutBuf.WriteString(f.Stdout.Data)
		case frame.KindStderr:
			stderrMu.Lock()
			stderrBuf.WriteString(f.Stderr.Data)
			stderrMu.Unlock()
		case frame.KindDone:
			result.Status = f.Done.Status
			result.Error = f.Done.Error
			break readLoop
		}
	}
	disp.Stop()
	disp.Wait()
	stdinW.Close()

	runErr := <-done

	stderrMu.Lock()
	result.Stderr = runtime.FilterNoise(stderrBuf.String())
	stderrMu.Unlock()
	result.Stdout = stdoutBuf.String()

	if result.Status == "" {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.Status = "timeout"
			result.Error = "invocation exceeded its deadline"
		case runErr != nil:
			result.Status = "error"
			result.Error = runErr.Error()
		default:
			result.Status = "error"
			result.Error = "sandbox exited without a done frame"
		}
	}
	return result, nil
}

func validateCode(code string) error {
	if code == "" {
		return errkind.New(errkind.InvalidRequest, "code must not be empty")
	}
	return nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func (inv *Invoker) checkKnownServers(servers []string) error {
	known := make(map[string]bool)
	for _, n := range inv.pool.KnownServers() {
		known[n] = true
	}
	var unknown []string
	for _, n := range servers {
		if !known[n] {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errkind.New(errkind.UnknownServer, fmt.Sprintf("unknown servers: %v", unknown))
	}
	return nil
}

// resolveTimeout applies the configured default when requested is nil
// (the caller omitted timeout entirely); any supplied value, including
// zero or negative, is validated against [1, MaxTimeout] rather than
// defaulted, per spec.md's "timeout = 0 or negative -> invalid_request".
func (inv *Invoker) resolveTimeout(requested *int) (time.Duration, error) {
	if requested == nil {
		return inv.cfg.DefaultTimeout, nil
	}
	seconds := *requested
	if seconds < 1 || time.Duration(seconds)*time.Second > inv.cfg.MaxTimeout {
		return 0, errkind.New(errkind.InvalidRequest, fmt.Sprintf("timeout must be between 1 and %d seconds", int(inv.cfg.MaxTimeout.Seconds())))
	}
	return time.Duration(seconds) * time.Second, nil
}

func (inv *Invoker) buildCatalog(ctx context.Context, servers []string) (entrypoint.ToolCatalog, error) {
	catalog := entrypoint.ToolCatalog{
		Servers: servers,
		Tools:   make(map[string][]discovery.ToolDescriptor, len(servers)),
	}
	for _, s := range servers {
		docs, err := inv.catalog.QueryToolDocs(ctx, s, "", "full")
		if err != nil {
			return entrypoint.ToolCatalog{}, err
		}
		catalog.Tools[s] = docs
	}
	return catalog, nil
}

// syncWriter serializes writes to an in-memory buffer shared with the
// frame-reading goroutine.
type syncWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// runContainerProcess spawns bin with args, wiring stdin/stdout/stderr to
// the given streams, and enforces the invocation deadline carried by ctx
// with a SIGTERM-then-SIGKILL grace window. bin runs in its own process
// group so the grace-kill sequence reaches the container runtime's
// children (e.g. podman's conmon) and not just the direct child.
func runContainerProcess(ctx context.Context, bin string, args []string, graceWindow time.Duration, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.Command(bin, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return errkind.Wrap(errkind.RuntimeUnavailable, "starting container", err)
	}
	pgid := cmd.Process.Pid

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return err
	case <-ctx.Done():
		_ = unix.Kill(-pgid, unix.SIGTERM)
		select {
		case err := <-waitErr:
			return err
		case <-time.After(graceWindow):
			_ = unix.Kill(-pgid, unix.SIGKILL)
			<-waitErr
			return ctx.Err()
		}
	}
}
