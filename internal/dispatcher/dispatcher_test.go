package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sandboxmcp/sandboxmcp/internal/client"
	"github.com/sandboxmcp/sandboxmcp/internal/config"
	"github.com/sandboxmcp/sandboxmcp/internal/discovery"
	"github.com/sandboxmcp/sandboxmcp/internal/errkind"
	"github.com/sandboxmcp/sandboxmcp/internal/frame"
)

func newTestDispatcher(t *testing.T, requested []string) (*Dispatcher, <-chan frame.Response) {
	t.Helper()

	cfg := &config.Config{Servers: map[string]config.ServerConfig{
		"stub": {Command: "stub-server"},
	}}
	pool := client.New(cfg)
	catalog := discovery.New(cfg, pool)

	pr, pw := io.Pipe()
	out := frame.NewWriter(pw)
	d := New(requested, pool, catalog, out, time.Now().Add(time.Minute))

	respCh := make(chan frame.Response, 8)
	go func() {
		r := frame.NewReader(pr)
		for {
			f, err := r.Read()
			if err != nil {
				close(respCh)
				return
			}
			if f.Kind == frame.KindResponse {
				respCh <- *f.Response
			}
		}
	}()

	t.Cleanup(func() { pw.Close() })
	return d, respCh
}

func mustParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return b
}

func TestDispatchUnknownMethodReturnsProtocolError(t *testing.T) {
	d, respCh := newTestDispatcher(t, nil)
	d.Handle(context.Background(), &frame.Request{Kind: frame.KindRequest, ID: 1, Method: "bogus"})
	d.Wait()

	resp := <-respCh
	if resp.OK {
		t.Fatal("expected failure response")
	}
	if resp.Error.Code != string(errkind.ProtocolError) {
		t.Fatalf("expected protocol_error, got %q", resp.Error.Code)
	}
}

func TestCallToolRejectsServerNotInRequestedSet(t *testing.T) {
	d, respCh := newTestDispatcher(t, []string{"other"})
	req := &frame.Request{
		Kind:   frame.KindRequest,
		ID:     2,
		Method: "call_tool",
		Params: mustParams(t, map[string]any{"server": "stub", "tool": "echo"}),
	}
	d.Handle(context.Background(), req)
	d.Wait()

	resp := <-respCh
	if resp.OK {
		t.Fatal("expected failure response")
	}
	if resp.Error.Code != string(errkind.UnknownServer) {
		t.Fatalf("expected unknown_server, got %q", resp.Error.Code)
	}
}

func TestListServersReturnsConfiguredNames(t *testing.T) {
	d, respCh := newTestDispatcher(t, nil)
	d.Handle(context.Background(), &frame.Request{Kind: frame.KindRequest, ID: 3, Method: "list_servers"})
	d.Wait()

	resp := <-respCh
	if !resp.OK {
		t.Fatalf("expected success, got error %v", resp.Error)
	}
	var servers []string
	if err := json.Unmarshal(resp.Result, &servers); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(servers) != 1 || servers[0] != "stub" {
		t.Fatalf("expected [stub], got %v", servers)
	}
}

func TestDescribeServerUnknownReturnsUnknownServer(t *testing.T) {
	d, respCh := newTestDispatcher(t, nil)
	req := &frame.Request{
		Kind:   frame.KindRequest,
		ID:     4,
		Method: "describe_server",
		Params: mustParams(t, map[string]any{"server": "ghost"}),
	}
	d.Handle(context.Background(), req)
	d.Wait()

	resp := <-respCh
	if resp.OK {
		t.Fatal("expected failure response")
	}
	if resp.Error.Code != string(errkind.UnknownServer) {
		t.Fatalf("expected unknown_server, got %q", resp.Error.Code)
	}
}

func TestHandleAfterStopFailsWithSandboxTimeout(t *testing.T) {
	d, respCh := newTestDispatcher(t, nil)
	d.Stop()
	d.Handle(context.Background(), &frame.Request{Kind: frame.KindRequest, ID: 5, Method: "list_servers"})

	resp := <-respCh
	if resp.OK {
		t.Fatal("expected failure response")
	}
	if resp.Error.Code != string(errkind.SandboxTimeout) {
		t.Fatalf("expected sandbox_timeout, got %q", resp.Error.Code)
	}
}

func TestCapabilitySummaryReturnsNonEmptyText(t *testing.T) {
	d, respCh := newTestDispatcher(t, nil)
	d.Handle(context.Background(), &frame.Request{Kind: frame.KindRequest, ID: 6, Method: "capability_summary"})
	d.Wait()

	resp := <-respCh
	if !resp.OK {
		t.Fatalf("expected success, got error %v", resp.Error)
	}
	var summary string
	if err := json.Unmarshal(resp.Result, &summary); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if summary == "" {
		t.Fatal("expected non-empty capability summary")
	}
}
