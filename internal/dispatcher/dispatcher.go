// Package dispatcher implements the Host RPC Dispatcher (spec §4.6): the
// single-logical loop per invocation that demultiplexes framed requests
// from the sandbox, routes them to the Client Pool or to Discovery, and
// writes framed responses back.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sandboxmcp/sandboxmcp/internal/client"
	"github.com/sandboxmcp/sandboxmcp/internal/discovery"
	"github.com/sandboxmcp/sandboxmcp/internal/errkind"
	"github.com/sandboxmcp/sandboxmcp/internal/frame"
)

// Dispatcher owns the outbound frame queue for one Sandbox Invocation.
// Each inbound request is handled on its own goroutine so a slow
// downstream call never blocks the reader pump from draining the
// sandbox's stdout (spec §4.6: "the dispatcher yields while the
// downstream response is pending").
type Dispatcher struct {
	requested map[string]struct{}
	pool      *client.Pool
	catalog   *discovery.Catalog
	out       *frame.Writer
	deadline  time.Time

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New builds a Dispatcher scoped to one invocation's requested server
// set and deadline.
func New(requestedServers []string, pool *client.Pool, catalog *discovery.Catalog, out *frame.Writer, deadline time.Time) *Dispatcher {
	requested := make(map[string]struct{}, len(requestedServers))
	for _, s := range requestedServers {
		requested[s] = struct{}{}
	}
	return &Dispatcher{requested: requested, pool: pool, catalog: catalog, out: out, deadline: deadline}
}

// Handle processes one inbound request. It returns immediately; the
// response is written to out asynchronously once ready.
func (d *Dispatcher) Handle(ctx context.Context, req *frame.Request) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.out.Write(timeoutResponse(req.ID))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.out.Write(d.dispatch(ctx, req))
	}()
}

// Stop halts acceptance of new requests; Handle called after Stop
// immediately fails with sandbox_timeout instead of dispatching.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

// Wait blocks until every in-flight Handle goroutine has written its
// response.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, req *frame.Request) frame.Response {
	switch req.Method {
	case "call_tool":
		return d.callTool(ctx, req)
	case "discovered_servers":
		return ok(req.ID, d.catalog.DiscoveredServers())
	case "list_servers":
		return ok(req.ID, d.catalog.ListServers())
	case "list_tools":
		var p struct {
			Server string `json:"server"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errResp(req.ID, errkind.InvalidRequest, err.Error())
		}
		return ok(req.ID, d.catalog.ListTools(p.Server))
	case "query_tool_docs":
		var p struct {
			Server string `json:"server"`
			Tool   string `json:"tool"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errResp(req.ID, errkind.InvalidRequest, err.Error())
		}
		if p.Detail == "" {
			p.Detail = "summary"
		}
		docs, err := d.catalog.QueryToolDocs(ctx, p.Server, p.Tool, p.Detail)
		if err != nil {
			return errFromErr(req.ID, err)
		}
		return ok(req.ID, docs)
	case "search_tool_docs":
		var p struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errResp(req.ID, errkind.InvalidRequest, err.Error())
		}
		return ok(req.ID, d.catalog.SearchToolDocs(p.Query, p.Limit))
	case "capability_summary":
		return ok(req.ID, d.catalog.CapabilitySummary())
	case "describe_server":
		var p struct {
			Server string `json:"server"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errResp(req.ID, errkind.InvalidRequest, err.Error())
		}
		srv, docs, found := d.catalog.DescribeServer(p.Server)
		if !found {
			return errResp(req.ID, errkind.UnknownServer, p.Server)
		}
		return ok(req.ID, map[string]any{"server": srv, "tools": docs})
	default:
		return errResp(req.ID, errkind.ProtocolError, "unknown method "+req.Method)
	}
}

type callToolParams struct {
	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Timeout   *int            `json:"timeout,omitempty"`
}

func (d *Dispatcher) callTool(ctx context.Context, req *frame.Request) frame.Response {
	var p callToolParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errResp(req.ID, errkind.InvalidRequest, err.Error())
	}
	if _, ok := d.requested[p.Server]; !ok {
		return errResp(req.ID, errkind.UnknownServer, p.Server+" was not requested for this invocation")
	}

	callCtx := ctx
	if p.Timeout != nil {
		remaining := time.Until(d.deadline)
		requested := time.Duration(*p.Timeout) * time.Second
		if requested > remaining {
			requested = remaining // Open Question (a): clamp, don't reject
		}
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, requested)
		defer cancel()
	}

	result, err := d.pool.CallTool(callCtx, p.Server, p.Tool, p.Arguments)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return errResp(req.ID, errkind.SandboxTimeout, "call to "+p.Tool+" on "+p.Server+" timed out")
		}
		return errFromErr(req.ID, err)
	}
	return ok(req.ID, result)
}

func ok(id int64, result any) frame.Response {
	resp, err := frame.NewOKResponse(id, result)
	if err != nil {
		return errResp(id, errkind.ProtocolError, err.Error())
	}
	return resp
}

func errResp(id int64, kind errkind.Kind, message string) frame.Response {
	return frame.NewErrorResponse(id, string(kind), message)
}

func errFromErr(id int64, err error) frame.Response {
	kind, ok := errkind.Of(err)
	if !ok {
		kind = errkind.DownstreamError
	}
	return errResp(id, kind, err.Error())
}

func timeoutResponse(id int64) frame.Response {
	return errResp(id, errkind.SandboxTimeout, "invocation deadline exceeded")
}
