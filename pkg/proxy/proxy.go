// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package proxy forwards MCP tool listings and tool calls to a remote
// integration over streamable HTTP or SSE, threading both operations through
// configurable middleware chains. Sessions with the remote server are
// transient: one per operation, closed when the operation returns.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deco-cx/gateway/pkg/auth"
	"github.com/deco-cx/gateway/pkg/execctx"
	"github.com/deco-cx/gateway/pkg/locator"
	"github.com/deco-cx/gateway/pkg/logging"
	"github.com/deco-cx/gateway/pkg/metrics"
	"github.com/deco-cx/gateway/pkg/tool"
)

// Connection transport types.
const (
	TypeHTTP = "HTTP"
	TypeSSE  = "SSE"
)

const (
	clientName    = "deco-gateway"
	clientVersion = "1.0.0"

	// connectRetries bounds the exponential backoff on session establishment.
	connectRetries = 2
)

// Connection describes how to reach a remote integration's MCP server.
type Connection struct {
	// ID is the integration id the connection belongs to. It scopes the
	// minted proxy token's subject.
	ID string
	// Type selects the transport: TypeHTTP (streamable HTTP) or TypeSSE.
	Type string
	// URL is the remote server endpoint.
	URL string
	// Token, when set, is sent as an Authorization bearer on every
	// outbound request.
	Token string
	// Headers are static extra headers from the integration config.
	Headers map[string]string
}

// ClientSession abstracts the subset of mcp.ClientSession the proxy uses, so
// tests can inject mock sessions.
type ClientSession interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
}

// ConnectFunc establishes a session over a transport. The default dials the
// remote server; tests substitute their own.
type ConnectFunc func(ctx context.Context, client *mcp.Client, transport mcp.Transport) (ClientSession, error)

// Options tunes a Proxy beyond its connection descriptor.
type Options struct {
	// Tools, when non-nil, is a pre-resolved listing. The list chain's
	// terminal step returns it without touching the network; tool calls
	// still always reach the remote server.
	Tools []*mcp.Tool
	// ListMiddleware runs around list-tools, first element outermost.
	ListMiddleware []ListToolsMiddleware
	// CallMiddleware runs around call-tool, first element outermost.
	CallMiddleware []CallToolMiddleware
	// Issuer mints the scoped proxy token attached to outbound requests.
	// Nil disables token injection.
	Issuer *auth.Issuer
	// Connect overrides session establishment, for tests.
	Connect ConnectFunc
	// HTTPClient overrides the outbound HTTP client. The proxy wraps its
	// transport with header injection either way.
	HTTPClient *http.Client
}

// Proxy is an MCP reverse proxy for one remote integration. The zero value is
// not usable; construct with New.
type Proxy struct {
	conn Connection

	list ListToolsFunc
	call CallToolFunc

	connect    ConnectFunc
	httpClient *http.Client

	mu     sync.Mutex
	client *mcp.Client
}

// New builds a proxy for conn. Middleware chains are folded once here; the
// remote server is not contacted until the first operation.
func New(conn Connection, opts Options) *Proxy {
	p := &Proxy{
		conn:    conn,
		connect: opts.Connect,
	}
	if p.connect == nil {
		p.connect = func(ctx context.Context, client *mcp.Client, transport mcp.Transport) (ClientSession, error) {
			return client.Connect(ctx, transport, nil)
		}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	httpClient.Transport = &headerRoundTripper{
		base:          httpClient.Transport,
		static:        conn.Headers,
		bearer:        conn.Token,
		issuer:        opts.Issuer,
		integrationID: conn.ID,
	}
	// Disable redirects to prevent credential leakage.
	httpClient.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	}
	p.httpClient = httpClient

	listTerminal := p.liveListTools
	if opts.Tools != nil {
		cached := opts.Tools
		listTerminal = func(context.Context, *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
			return &mcp.ListToolsResult{Tools: cached}, nil
		}
	}
	p.list = chainListTools(opts.ListMiddleware, listTerminal)
	p.call = chainCallTool(opts.CallMiddleware, p.liveCallTool)

	return p
}

// ListTools runs the list chain. With a cached listing configured the remote
// server is never contacted; middleware still runs.
func (p *Proxy) ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	if params == nil {
		params = &mcp.ListToolsParams{}
	}
	return p.list(ctx, params)
}

// CallTool runs the call chain. Calls always reach the remote server; the
// cached listing never short-circuits execution.
func (p *Proxy) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	defer metrics.MeasureSince([]string{"proxy", "call_tool", "latency"}, time.Now())
	metrics.IncrCounterWithLabels([]string{"proxy", "call_tool", "requests"}, 1,
		[]metrics.Label{{Name: "integration", Value: p.conn.ID}})
	return p.call(ctx, params)
}

// liveListTools is the list chain's network terminal.
func (p *Proxy) liveListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	var result *mcp.ListToolsResult
	err := p.withSession(ctx, func(cs ClientSession) error {
		var err error
		result, err = cs.ListTools(ctx, params)
		return err
	})
	return result, err
}

// liveCallTool is the call chain's network terminal.
func (p *Proxy) liveCallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	var result *mcp.CallToolResult
	err := p.withSession(ctx, func(cs ClientSession) error {
		var err error
		result, err = cs.CallTool(ctx, params)
		return err
	})
	return result, err
}

// withSession establishes a session with the remote server, runs f, and closes
// the session. Connection failures are retried with exponential backoff and
// never cached: the next operation dials again.
func (p *Proxy) withSession(ctx context.Context, f func(cs ClientSession) error) error {
	transport, err := p.transport()
	if err != nil {
		return err
	}
	client := p.mcpClient()

	var cs ClientSession
	operation := func() error {
		s, err := p.connect(ctx, client, transport)
		if err != nil {
			return err
		}
		cs = s
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return tool.Upstream(fmt.Errorf("failed to connect to integration %q: %w", p.conn.ID, err))
	}
	defer func() {
		if err := cs.Close(); err != nil {
			logging.GetLogger().Debug("failed to close upstream session", "integration", p.conn.ID, "error", err)
		}
	}()

	return f(cs)
}

// mcpClient lazily constructs the protocol client. Construction is reused
// across operations; sessions are not.
func (p *Proxy) mcpClient() *mcp.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		p.client = mcp.NewClient(&mcp.Implementation{
			Name:    clientName,
			Version: clientVersion,
		}, &mcp.ClientOptions{})
	}
	return p.client
}

func (p *Proxy) transport() (mcp.Transport, error) {
	switch p.conn.Type {
	case TypeSSE:
		return &mcp.SSEClientTransport{
			Endpoint:   p.conn.URL,
			HTTPClient: p.httpClient,
		}, nil
	case TypeHTTP, "":
		return &mcp.StreamableClientTransport{
			Endpoint:   p.conn.URL,
			HTTPClient: p.httpClient,
		}, nil
	default:
		return nil, tool.BadRequest("unsupported connection type %q", p.conn.Type)
	}
}

// ServeHTTP exposes the proxied integration as an inbound MCP server. Each
// request gets a fresh server whose tool set is the (possibly cached) remote
// listing and whose handlers delegate through the call chain.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	listing, err := p.ListTools(r.Context(), &mcp.ListToolsParams{})
	if err != nil {
		status, msg := tool.HTTPStatus(err)
		http.Error(w, msg, status)
		return
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    clientName + "/" + p.conn.ID,
		Version: clientVersion,
	}, &mcp.ServerOptions{})

	for _, t := range listing.Tools {
		server.AddTool(t, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			result, err := p.CallTool(ctx, &mcp.CallToolParams{
				Name:      req.Params.Name,
				Arguments: req.Params.Arguments,
			})
			if err != nil {
				return tool.ToToolResult(err), nil
			}
			return result, nil
		})
	}

	// The inbound server is rebuilt per request; stateless mode keeps the
	// transport from expecting session continuity across requests.
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{Stateless: true})
	handler.ServeHTTP(w, r)
}

// headerRoundTripper wraps another RoundTripper and decorates each outbound
// request: static integration headers, the integration's own bearer token, a
// freshly minted scoped proxy token, and caller identification pulled from the
// execution context.
type headerRoundTripper struct {
	base          http.RoundTripper
	static        map[string]string
	bearer        string
	issuer        *auth.Issuer
	integrationID string
}

// RoundTrip decorates req and passes it to the base RoundTripper. The proxy
// token is minted per request and never reused.
func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	for k, v := range rt.static {
		req.Header.Set(k, v)
	}
	if rt.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+rt.bearer)
	}
	if rt.issuer != nil {
		token, err := rt.issuer.IssueFor(rt.integrationID, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to mint proxy token for integration %q: %w", rt.integrationID, err)
		}
		req.Header.Set(auth.ProxyAuthHeader, token)
	}
	if rc, err := execctx.From(req.Context()); err == nil {
		if rc.CallerApp != "" {
			req.Header.Set(locator.CallerAppHeader, rc.CallerApp)
		}
		if rc.Cookie != "" {
			req.Header.Set("Cookie", rc.Cookie)
		}
	}

	base := rt.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
