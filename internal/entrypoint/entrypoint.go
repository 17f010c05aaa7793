// Package entrypoint renders the Python script injected into every
// sandbox invocation (spec §4.4): stdio framing, generated tool proxies,
// runtime helpers, and the user's code.
package entrypoint

import (
	"bytes"
	"encoding/json"
	"text/template"

	"github.com/sandboxmcp/sandboxmcp/internal/discovery"
)

// ToolCatalog is the envelope handed to the template: every tool the
// invocation's requested servers expose, already alias-assigned by the
// Discovery Service.
type ToolCatalog struct {
	Servers []string                            `json:"servers"`
	Tools   map[string][]discovery.ToolDescriptor `json:"tools"` // keyed by server name
}

// templateData is what the Go template sees; UserCode is the raw source,
// quoted into a string literal by the template's printf "%q" so the
// template itself stays simple string substitution, matching the
// teacher's "generate the proxy as text" design rather than a
// Python-aware code generator. The catalog data itself travels to the
// sandbox via the MCP_TOOL_CATALOG environment variable (spec §4.7);
// only the proxy *assignments* (mcp_<alias> = ...) are baked in as code.
type templateData struct {
	UserCode string
	Aliases  []aliasEntry
}

type aliasEntry struct {
	Server string
	Tool   string
	Alias  string
}

// Render produces the full Python source for one invocation, and the
// JSON-serialized catalog the caller should set as MCP_TOOL_CATALOG in
// the container's environment.
func Render(userCode string, catalog ToolCatalog) (script string, catalogJSON string, err error) {
	raw, err := json.Marshal(catalog)
	if err != nil {
		return "", "", err
	}

	var aliases []aliasEntry
	for _, server := range catalog.Servers {
		for _, t := range catalog.Tools[server] {
			aliases = append(aliases, aliasEntry{Server: server, Tool: t.ToolName, Alias: t.Alias})
		}
	}

	data := templateData{UserCode: userCode, Aliases: aliases}

	var buf bytes.Buffer
	if err := entrypointTemplate.Execute(&buf, data); err != nil {
		return "", "", err
	}
	return buf.String(), string(raw), nil
}

var entrypointTemplate = template.Must(template.New("entrypoint").Parse(entrypointSource))

// entrypointSource is the Python source template. It is data, not
// behavior this repo executes itself, so it stays a plain text/template
// string rather than an AST the bridge would need to understand.
const entrypointSource = `#!/usr/bin/env python3
import ast
import asyncio
import inspect
import json
import os
import sys
import threading
import types

_CATALOG = json.loads(os.environ.get("MCP_TOOL_CATALOG", "{}"))
_OUT_LOCK = threading.Lock()
_NEXT_ID = 0
_PENDING = {}
_PENDING_LOCK = threading.Lock()
_FRAME_OUT = sys.stdout.buffer


def _emit(frame):
    with _OUT_LOCK:
        _FRAME_OUT.write((json.dumps(frame) + "\n").encode("utf-8"))
        _FRAME_OUT.flush()


class _FrameStream:
    def __init__(self, kind):
        self._kind = kind

    def write(self, data):
        if data:
            _emit({"kind": self._kind, "data": data})
        return len(data)

    def flush(self):
        pass


def _next_id():
    global _NEXT_ID
    with _PENDING_LOCK:
        _NEXT_ID += 1
        return _NEXT_ID


async def _request(method, params):
    loop = asyncio.get_event_loop()
    fut = loop.create_future()
    req_id = _next_id()
    with _PENDING_LOCK:
        _PENDING[req_id] = (loop, fut)
    _emit({"kind": "request", "id": req_id, "method": method, "params": params})
    return await fut


def _deliver_response(frame):
    req_id = frame.get("id")
    with _PENDING_LOCK:
        entry = _PENDING.pop(req_id, None)
    if entry is None:
        return
    loop, fut = entry
    if frame.get("ok"):
        loop.call_soon_threadsafe(fut.set_result, frame.get("result"))
    else:
        err = frame.get("error") or {}
        loop.call_soon_threadsafe(
            fut.set_exception, RuntimeError(err.get("code", "error") + ": " + err.get("message", ""))
        )


def _reader_thread():
    for line in sys.stdin.buffer:
        line = line.strip()
        if not line:
            continue
        frame = json.loads(line)
        if frame.get("kind") == "response":
            _deliver_response(frame)


class _ToolProxy:
    def __init__(self, server, tool):
        self._server = server
        self._tool = tool

    async def __call__(self, **kwargs):
        result = await _request("call_tool", {"server": self._server, "tool": self._tool, "arguments": kwargs})
        return result


class _ServerNamespace:
    def __init__(self, server):
        self._server = server

    def __getattr__(self, tool):
        return _ToolProxy(self._server, tool)


mcp_servers = {server: _ServerNamespace(server) for server in _CATALOG.get("servers", [])}

{{range .Aliases}}
mcp_{{.Alias}} = _ToolProxy({{printf "%q" .Server}}, {{printf "%q" .Tool}})
{{- end}}


def _install_mcp_modules():
    root = types.ModuleType("mcp")
    servers_pkg = types.ModuleType("mcp.servers")
    root.servers = servers_pkg
    sys.modules["mcp"] = root
    sys.modules["mcp.servers"] = servers_pkg
    for server, docs in _CATALOG.get("tools", {}).items():
        mod = types.ModuleType("mcp.servers." + server)
        for doc in docs:
            setattr(mod, doc.get("alias", doc.get("tool")), _ToolProxy(server, doc.get("tool")))
        setattr(servers_pkg, server, mod)
        sys.modules["mcp.servers." + server] = mod
    return root


mcp = _install_mcp_modules()


class _Runtime:
    async def discovered_servers(self):
        return await _request("discovered_servers", {})

    async def list_servers(self):
        return await _request("list_servers", {})

    def list_servers_sync(self):
        return _CATALOG.get("servers", [])

    async def list_tools(self, server):
        return await _request("list_tools", {"server": server})

    def list_tools_sync(self, server):
        return [t["alias"] for t in _CATALOG.get("tools", {}).get(server, [])]

    async def query_tool_docs(self, server, tool=None, detail="summary"):
        return await _request("query_tool_docs", {"server": server, "tool": tool, "detail": detail})

    def query_tool_docs_sync(self, server, tool=None, detail="summary"):
        docs = _CATALOG.get("tools", {}).get(server, [])
        if tool:
            docs = [d for d in docs if d.get("tool") == tool or d.get("alias") == tool]
        return docs

    async def search_tool_docs(self, query, limit=None):
        return await _request("search_tool_docs", {"query": query, "limit": limit})

    def search_tool_docs_sync(self, query, limit=None):
        query = query.lower()
        hits = []
        for server, docs in _CATALOG.get("tools", {}).items():
            for doc in docs:
                haystack = (server + ":" + doc.get("tool", "") + " " + doc.get("description", "")).lower()
                if query in haystack:
                    hits.append(doc)
        return hits[:limit] if limit else hits

    async def capability_summary(self):
        return await _request("capability_summary", {})

    async def describe_server(self, server):
        return await _request("describe_server", {"server": server})

    def list_loaded_server_metadata(self):
        return {
            server: {"tool_count": len(docs), "aliases": [d["alias"] for d in docs]}
            for server, docs in _CATALOG.get("tools", {}).items()
        }

    async def call_tool(self, server, tool, **kwargs):
        return await _request("call_tool", {"server": server, "tool": tool, "arguments": kwargs})


runtime = _Runtime()


async def _run_user_code():
    namespace = {
        "mcp_servers": mcp_servers,
        "mcp": mcp,
        "runtime": runtime,
        "__name__": "__main__",
    }
{{range .Aliases}}    namespace[{{printf "%q" (print "mcp_" .Alias)}}] = mcp_{{.Alias}}
{{end}}
    src = {{printf "%q" .UserCode}}
    flags = getattr(ast, "PyCF_ALLOW_TOP_LEVEL_AWAIT", 0)
    code = compile(src, "<user-code>", "exec", flags=flags)
    result = eval(code, namespace)
    if inspect.isawaitable(result):
        await result


def main():
    reader = threading.Thread(target=_reader_thread, daemon=True)
    reader.start()
    sys.stdout = _FrameStream("stdout")
    try:
        asyncio.run(_run_user_code())
        _emit({"kind": "done", "status": "ok"})
    except BaseException as exc:  # noqa: BLE001 - must still emit 'done'
        _emit({"kind": "stderr", "data": str(exc)})
        _emit({"kind": "done", "status": "error", "error": str(exc)})
        sys.exit(1)


if __name__ == "__main__":
    main()
`
