// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package registry resolves configured integrations to reverse proxies. It
// caches remote tool listings with a TTL and enforces per-integration tool
// allow-lists on the call path.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"

	"github.com/deco-cx/gateway/pkg/auth"
	"github.com/deco-cx/gateway/pkg/logging"
	"github.com/deco-cx/gateway/pkg/proxy"
	"github.com/deco-cx/gateway/pkg/tool"
)

// DefaultListingTTL bounds how stale a cached tool listing may get before the
// next listing request goes back to the remote server.
const DefaultListingTTL = 5 * time.Minute

// RefreshQueryParam forces a listing cache bypass when set to "1" or "true".
const RefreshQueryParam = "refresh"

type refreshKey struct{}

// WithRefresh marks the context so cached tool listings are bypassed for the
// request.
func WithRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, refreshKey{}, true)
}

func refreshRequested(ctx context.Context) bool {
	v, _ := ctx.Value(refreshKey{}).(bool)
	return v
}

// Integration is one configured remote MCP server.
type Integration struct {
	// ID keys the integration on /{org}/{project}/{integrationId} routes.
	ID string
	// AppName keys the integration on the /apps/mcp route.
	AppName string
	// Connection describes how to reach the remote server.
	Connection proxy.Connection
	// AllowedTools restricts which tools may be called through the proxy.
	// Empty means all tools are callable.
	AllowedTools []string
}

// Option tunes a Registry.
type Option func(*Registry)

// WithListingTTL overrides the listing cache TTL.
func WithListingTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithConnect overrides session establishment on the proxies the registry
// builds, for tests.
func WithConnect(connect proxy.ConnectFunc) Option {
	return func(r *Registry) { r.connect = connect }
}

// Registry holds the configured integrations and a shared listing cache.
type Registry struct {
	byID  map[string]Integration
	byApp map[string]Integration

	issuer  *auth.Issuer
	ttl     time.Duration
	connect proxy.ConnectFunc
	cache   *ttlcache.Cache[string, []*mcp.Tool]

	mu      sync.Mutex
	proxies map[string]*proxy.Proxy
}

// New builds a registry over the configured integrations. issuer may be nil
// when no signing key is configured; proxied calls then carry no scoped token.
func New(integrations []Integration, issuer *auth.Issuer, opts ...Option) *Registry {
	r := &Registry{
		byID:    make(map[string]Integration, len(integrations)),
		byApp:   make(map[string]Integration),
		proxies: make(map[string]*proxy.Proxy),
		issuer:  issuer,
		ttl:     DefaultListingTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, integ := range integrations {
		r.byID[integ.ID] = integ
		if integ.AppName != "" {
			r.byApp[integ.AppName] = integ
		}
	}
	r.cache = ttlcache.New[string, []*mcp.Tool](
		ttlcache.WithTTL[string, []*mcp.Tool](r.ttl),
	)
	go r.cache.Start()
	return r
}

// Close stops the cache's expiry loop.
func (r *Registry) Close() {
	r.cache.Stop()
}

// Lookup resolves an integration by id.
func (r *Registry) Lookup(id string) (Integration, error) {
	integ, ok := r.byID[id]
	if !ok {
		return Integration{}, tool.NotFound("integration %q not found", id)
	}
	return integ, nil
}

// LookupApp resolves an integration by app name.
func (r *Registry) LookupApp(appName string) (Integration, error) {
	integ, ok := r.byApp[appName]
	if !ok {
		return Integration{}, tool.NotFound("app %q not found", appName)
	}
	return integ, nil
}

// Proxy returns the reverse proxy for the integration, constructing it on
// first use. Proxies carry the registry's listing cache and allow-list
// enforcement wired in as middleware.
func (r *Registry) Proxy(integ Integration) *proxy.Proxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.proxies[integ.ID]; ok {
		return p
	}
	p := proxy.New(integ.Connection, proxy.Options{
		Issuer:         r.issuer,
		Connect:        r.connect,
		ListMiddleware: []proxy.ListToolsMiddleware{r.listingCache(integ)},
		CallMiddleware: []proxy.CallToolMiddleware{allowList(integ)},
	})
	r.proxies[integ.ID] = p
	return p
}

// listingCache serves tool listings from the shared TTL cache. A refresh
// request bypasses the cached entry and replaces it with the live listing.
func (r *Registry) listingCache(integ Integration) proxy.ListToolsMiddleware {
	return proxy.ListToolsMiddlewareFunc(func(ctx context.Context, params *mcp.ListToolsParams, next proxy.ListToolsFunc) (*mcp.ListToolsResult, error) {
		if !refreshRequested(ctx) {
			if item := r.cache.Get(integ.ID); item != nil {
				return &mcp.ListToolsResult{Tools: item.Value()}, nil
			}
		}
		result, err := next(ctx, params)
		if err != nil {
			return nil, err
		}
		r.cache.Set(integ.ID, result.Tools, ttlcache.DefaultTTL)
		logging.GetLogger().Debug("refreshed tool listing",
			"integration", integ.ID, "tools", len(result.Tools))
		return result, nil
	})
}

// allowList rejects calls to tools outside the integration's allow-list
// before the terminal network step runs.
func allowList(integ Integration) proxy.CallToolMiddleware {
	return proxy.CallToolMiddlewareFunc(func(ctx context.Context, params *mcp.CallToolParams, next proxy.CallToolFunc) (*mcp.CallToolResult, error) {
		if len(integ.AllowedTools) > 0 && !lo.Contains(integ.AllowedTools, params.Name) {
			return nil, tool.Forbidden("tool %q is not allowed on integration %q", params.Name, integ.ID)
		}
		return next(ctx, params)
	})
}
