// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ListToolsFunc is one link of the list-tools chain: either a middleware's
// continuation or the terminal resolution (cached list or live call).
type ListToolsFunc func(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)

// CallToolFunc is one link of the call-tool chain.
type CallToolFunc func(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)

// ListToolsMiddleware wraps a list-tools invocation. Implementations may
// short-circuit by not calling next.
type ListToolsMiddleware interface {
	HandleListTools(ctx context.Context, params *mcp.ListToolsParams, next ListToolsFunc) (*mcp.ListToolsResult, error)
}

// CallToolMiddleware wraps a call-tool invocation. The authorization chain
// lives here: a middleware can reject the call before the terminal network
// step by returning an error instead of calling next.
type CallToolMiddleware interface {
	HandleCallTool(ctx context.Context, params *mcp.CallToolParams, next CallToolFunc) (*mcp.CallToolResult, error)
}

// ListToolsMiddlewareFunc adapts a function to ListToolsMiddleware.
type ListToolsMiddlewareFunc func(ctx context.Context, params *mcp.ListToolsParams, next ListToolsFunc) (*mcp.ListToolsResult, error)

// HandleListTools invokes the function.
func (f ListToolsMiddlewareFunc) HandleListTools(ctx context.Context, params *mcp.ListToolsParams, next ListToolsFunc) (*mcp.ListToolsResult, error) {
	return f(ctx, params, next)
}

// CallToolMiddlewareFunc adapts a function to CallToolMiddleware.
type CallToolMiddlewareFunc func(ctx context.Context, params *mcp.CallToolParams, next CallToolFunc) (*mcp.CallToolResult, error)

// HandleCallTool invokes the function.
func (f CallToolMiddlewareFunc) HandleCallTool(ctx context.Context, params *mcp.CallToolParams, next CallToolFunc) (*mcp.CallToolResult, error) {
	return f(ctx, params, next)
}

// chainListTools folds the middleware list right-to-left around terminal, so
// the first middleware in the slice runs outermost.
func chainListTools(mws []ListToolsMiddleware, terminal ListToolsFunc) ListToolsFunc {
	composed := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], composed
		composed = func(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
			return mw.HandleListTools(ctx, params, next)
		}
	}
	return composed
}

// chainCallTool is chainListTools for the call chain.
func chainCallTool(mws []CallToolMiddleware, terminal CallToolFunc) CallToolFunc {
	composed := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], composed
		composed = func(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
			return mw.HandleCallTool(ctx, params, next)
		}
	}
	return composed
}
