// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deco-cx/gateway/pkg/auth"
	"github.com/deco-cx/gateway/pkg/execctx"
	"github.com/deco-cx/gateway/pkg/proxy"
	"github.com/deco-cx/gateway/pkg/registry"
	"github.com/deco-cx/gateway/pkg/tool"
)

// stubIntegration is an in-process MCP server standing in for a remote
// integration. It records the proxy auth header of every inbound request.
type stubIntegration struct {
	srv *httptest.Server

	mu         sync.Mutex
	proxyAuths []string
}

func newStubIntegration(t *testing.T) *stubIntegration {
	t.Helper()

	stub := &stubIntegration{}

	server := mcp.NewServer(&mcp.Implementation{Name: "stub-integration", Version: "0.0.1"}, nil)
	server.AddTool(&mcp.Tool{
		Name:        "SOME_TOOL",
		Description: "echoes a fixed result",
		InputSchema: map[string]any{"type": "object"},
	}, func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: `{"result":"ok"}`}},
		}, nil
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.proxyAuths = append(stub.proxyAuths, r.Header.Get(auth.ProxyAuthHeader))
		stub.mu.Unlock()
		mcpHandler.ServeHTTP(w, r)
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func (s *stubIntegration) lastProxyAuth() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.proxyAuths) == 0 {
		return ""
	}
	return s.proxyAuths[len(s.proxyAuths)-1]
}

const testSigningKey = "gateway-test-signing-key"

func newTestGateway(t *testing.T, stub *stubIntegration) *httptest.Server {
	t.Helper()

	issuer := auth.NewIssuer([]byte(testSigningKey))
	reg := registry.New([]registry.Integration{
		{
			ID:      "int-1",
			AppName: "my-app",
			Connection: proxy.Connection{
				ID:  "int-1",
				URL: stub.srv.URL,
			},
		},
	}, issuer)
	t.Cleanup(reg.Close)

	whoami := tool.Definition{
		Name:        "whoami",
		Description: "reports the caller's workspace",
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			rc, err := execctx.From(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]string{"workspace": rc.Workspace}, nil
		},
	}

	gw := New(Options{
		Registry:      reg,
		GlobalTools:   tool.Static([]tool.Definition{whoami}),
		ProjectTools:  tool.Static([]tool.Definition{whoami}),
		GlobalBridge:  []tool.Definition{whoami},
		ProjectBridge: []tool.Definition{whoami},
		Principal: func(*http.Request) *execctx.Principal {
			return &execctx.Principal{ID: "u-1"}
		},
	})

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestGateway(t, newStubIntegration(t))
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// The full proxied call path: gateway route -> registry -> reverse proxy ->
// stub integration, with a verifiable scoped token on the outbound hop.
func TestProxiedToolCallEndToEnd(t *testing.T) {
	t.Parallel()

	stub := newStubIntegration(t)
	srv := newTestGateway(t, stub)

	resp, err := http.Post(
		srv.URL+"/myorg/myproj/int-1/tools/call/SOME_TOOL",
		"application/json",
		strings.NewReader(`{"name":"SOME_TOOL","arguments":{"x":1}}`),
	)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result mcp.CallToolResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `{"result":"ok"}`, text.Text)

	token := stub.lastProxyAuth()
	require.NotEmpty(t, token, "outbound call must carry the scoped token")
	subject, err := auth.NewIssuer([]byte(testSigningKey)).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, auth.SubjectFor("int-1"), subject)
}

func TestProxiedToolsListRoute(t *testing.T) {
	t.Parallel()

	stub := newStubIntegration(t)
	srv := newTestGateway(t, stub)

	resp, err := http.Post(srv.URL+"/myorg/myproj/int-1/tools/list", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result mcp.ListToolsResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "SOME_TOOL", result.Tools[0].Name)
}

func TestUnknownIntegrationIs404(t *testing.T) {
	t.Parallel()

	srv := newTestGateway(t, newStubIntegration(t))

	resp, err := http.Post(srv.URL+"/myorg/myproj/no-such/tools/list", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAppForwardByName(t *testing.T) {
	t.Parallel()

	stub := newStubIntegration(t)
	srv := newTestGateway(t, stub)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{
		Endpoint: srv.URL + "/apps/mcp?appName=my-app",
	}, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "SOME_TOOL", result.Tools[0].Name)
}

func TestAppForwardUnknownApp(t *testing.T) {
	t.Parallel()

	srv := newTestGateway(t, newStubIntegration(t))

	resp, err := http.Post(srv.URL+"/apps/mcp?appName=ghost", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// The bridge handler observes the execution context established from the
// matched route's path values.
func TestBridgeSeesWorkspaceFromRoute(t *testing.T) {
	t.Parallel()

	srv := newTestGateway(t, newStubIntegration(t))

	resp, err := http.Post(srv.URL+"/acme/site/tools/call/whoami", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "/acme/site", body.Data["workspace"])
}

// A tool handler reached through the project MCP endpoint, mid protocol
// parse, observes the same execution context the route established.
func TestMCPToolSeesWorkspaceFromRoute(t *testing.T) {
	t.Parallel()

	srv := newTestGateway(t, newStubIntegration(t))

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{
		Endpoint: srv.URL + "/acme/site/mcp",
	}, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "whoami"})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `{"workspace":"/acme/site"}`, text.Text)
}

func TestGlobalBridgeRoute(t *testing.T) {
	t.Parallel()

	srv := newTestGateway(t, newStubIntegration(t))

	resp, err := http.Post(srv.URL+"/tools/call/whoami", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body.Data["workspace"], "global routes carry no workspace")
}
