// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package gateway wires the HTTP surface: tool-group MCP endpoints, the
// direct tool-call bridge, and the per-integration reverse-proxy routes.
package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deco-cx/gateway/pkg/execctx"
	"github.com/deco-cx/gateway/pkg/logging"
	"github.com/deco-cx/gateway/pkg/mcpserver"
	"github.com/deco-cx/gateway/pkg/metrics"
	"github.com/deco-cx/gateway/pkg/proxy"
	"github.com/deco-cx/gateway/pkg/registry"
	"github.com/deco-cx/gateway/pkg/tool"
)

// appNameQueryParam selects the integration on the /apps/mcp route.
const appNameQueryParam = "appName"

// PrincipalResolver authenticates a request, returning nil for anonymous
// callers. Authentication itself lives outside the gateway; the default
// resolver treats every caller as anonymous.
type PrincipalResolver func(r *http.Request) *execctx.Principal

// Options configures a Gateway.
type Options struct {
	// Registry resolves integration ids and app names to reverse proxies.
	Registry *registry.Registry
	// GlobalTools backs ALL /mcp. Resolved per request.
	GlobalTools tool.Source
	// ProjectTools backs ALL /{org}/{project}/mcp. Resolved per request, so
	// it can consult the execution context for a per-tenant set.
	ProjectTools tool.Source
	// GlobalBridge backs POST /tools/call/{tool}. Static by design: the
	// bridge builds its name lookup once.
	GlobalBridge []tool.Definition
	// ProjectBridge backs POST /{org}/{project}/tools/call/{tool}.
	ProjectBridge []tool.Definition
	// Principal authenticates requests. Nil means all callers anonymous.
	Principal PrincipalResolver
}

// Gateway is the assembled HTTP surface.
type Gateway struct {
	registry  *registry.Registry
	principal PrincipalResolver

	static  *http.ServeMux
	tenant  *http.ServeMux
	handler http.Handler
}

// New assembles the gateway's routes.
func New(opts Options) *Gateway {
	g := &Gateway{
		registry:  opts.Registry,
		principal: opts.Principal,
	}
	if g.principal == nil {
		g.principal = func(*http.Request) *execctx.Principal { return nil }
	}

	globalTools := opts.GlobalTools
	if globalTools == nil {
		globalTools = tool.StaticSource(nil)
	}
	projectTools := opts.ProjectTools
	if projectTools == nil {
		projectTools = tool.StaticSource(nil)
	}

	// Reserved first-segment routes and tenant wildcard routes live on
	// separate muxes: a single mux cannot rank "/tools/call/{tool}"
	// against "/{org}/{project}/mcp".
	g.static = http.NewServeMux()
	g.static.Handle("/mcp", g.establish(mcpserver.Handler(globalTools)))
	g.static.Handle("POST /tools/call/{tool}", g.establish(mcpserver.CallHandler(opts.GlobalBridge)))
	// MCP forwarding endpoints accept all methods: the streamable transport
	// uses GET for server streams and DELETE for session teardown.
	g.static.Handle("/apps/mcp", g.establish(http.HandlerFunc(g.handleAppForward)))
	g.static.HandleFunc("GET /healthz", handleHealthz)
	g.static.Handle("GET /metrics", metrics.Handler())

	g.tenant = http.NewServeMux()
	g.tenant.Handle("/{org}/{project}/mcp", g.establish(mcpserver.Handler(projectTools)))
	g.tenant.Handle("POST /{org}/{project}/tools/call/{tool}", g.establish(mcpserver.CallHandler(opts.ProjectBridge)))
	g.tenant.Handle("/{org}/{project}/{integrationId}/mcp", g.establish(http.HandlerFunc(g.handleProxyForward)))
	g.tenant.Handle("POST /{org}/{project}/{integrationId}/tools/list", g.establish(http.HandlerFunc(g.handleProxyList)))
	g.tenant.Handle("POST /{org}/{project}/{integrationId}/tools/call/{tool}", g.establish(http.HandlerFunc(g.handleProxyCall)))

	g.handler = Recover(AccessLog(http.HandlerFunc(g.route)))
	return g
}

// Handler returns the fully wrapped HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// route sends reserved first segments to the static mux and everything else
// to the tenant wildcard mux.
func (g *Gateway) route(w http.ResponseWriter, r *http.Request) {
	switch firstSegment(r.URL.Path) {
	case "mcp", "tools", "apps", "healthz", "metrics":
		g.static.ServeHTTP(w, r)
	default:
		g.tenant.ServeHTTP(w, r)
	}
}

func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// proxyFor resolves the integration from the request path and returns its
// reverse proxy, with a refresh-aware request context.
func (g *Gateway) proxyFor(w http.ResponseWriter, r *http.Request) (*http.Request, *proxy.Proxy, bool) {
	integ, err := g.registry.Lookup(r.PathValue("integrationId"))
	if err != nil {
		writeError(w, err)
		return nil, nil, false
	}
	if v := r.URL.Query().Get(registry.RefreshQueryParam); v == "1" || v == "true" {
		r = r.WithContext(registry.WithRefresh(r.Context()))
	}
	return r, g.registry.Proxy(integ), true
}

func (g *Gateway) handleProxyForward(w http.ResponseWriter, r *http.Request) {
	r, p, ok := g.proxyFor(w, r)
	if !ok {
		return
	}
	p.ServeHTTP(w, r)
}

func (g *Gateway) handleProxyList(w http.ResponseWriter, r *http.Request) {
	r, p, ok := g.proxyFor(w, r)
	if !ok {
		return
	}
	result, err := p.ListTools(r.Context(), &mcp.ListToolsParams{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (g *Gateway) handleProxyCall(w http.ResponseWriter, r *http.Request) {
	r, p, ok := g.proxyFor(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, tool.BadRequest("Invalid arguments"))
		return
	}

	// The body is either the params envelope {name, arguments} or, for
	// convenience, the bare arguments object. The route param wins on name.
	var arguments json.RawMessage
	if len(bytes.TrimSpace(body)) > 0 {
		arguments = body
	}
	var envelope struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Arguments != nil {
		arguments = envelope.Arguments
	}

	result, err := p.CallTool(r.Context(), &mcp.CallToolParams{
		Name:      r.PathValue("tool"),
		Arguments: arguments,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAppForward forwards raw MCP traffic to an integration resolved by app
// name instead of integration id.
func (g *Gateway) handleAppForward(w http.ResponseWriter, r *http.Request) {
	appName := r.URL.Query().Get(appNameQueryParam)
	if appName == "" {
		writeError(w, tool.BadRequest("appName query parameter is required"))
		return
	}
	integ, err := g.registry.LookupApp(appName)
	if err != nil {
		writeError(w, err)
		return
	}
	g.registry.Proxy(integ).ServeHTTP(w, r)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := tool.HTTPStatus(err)
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.GetLogger().Error("failed to encode response body", "error", err)
	}
}
