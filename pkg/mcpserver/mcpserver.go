// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package mcpserver exposes tool collections over MCP streamable HTTP and
// over the direct tool-call bridge. Protocol servers are constructed fresh
// per request so tool sets can differ per tenant without shared state.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"

	"github.com/deco-cx/gateway/pkg/execctx"
	"github.com/deco-cx/gateway/pkg/logging"
	"github.com/deco-cx/gateway/pkg/metrics"
	"github.com/deco-cx/gateway/pkg/schema"
	"github.com/deco-cx/gateway/pkg/tool"
)

const (
	serverName    = "deco-gateway"
	serverVersion = "1.0.0"

	// groupQueryParam filters the advertised tool set by exact group match.
	groupQueryParam = "group"
)

// Handler serves a tool source over MCP streamable HTTP. The source is
// resolved on every request, so dynamic sources can consult the execution
// context to compute a per-tenant tool set. A resolution failure fails the
// request with a 500 before any protocol server is constructed.
func Handler(source tool.Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tools, err := source.Resolve(r.Context())
		if err != nil {
			logging.GetLogger().Error("failed to resolve tool collection", "error", err)
			status, msg := tool.HTTPStatus(err)
			http.Error(w, msg, status)
			return
		}

		if group := r.URL.Query().Get(groupQueryParam); group != "" {
			// Ungrouped tools are excluded when a filter is active.
			tools = lo.Filter(tools, func(d tool.Definition, _ int) bool {
				return d.Group == group
			})
		}

		// Servers are rebuilt per request, so the transport must not rely
		// on session continuity across requests.
		server := newServer(tools)
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return server
		}, &mcp.StreamableHTTPOptions{Stateless: true})
		handler.ServeHTTP(w, r)
	})
}

// newServer registers each definition on a fresh protocol server, mapping
// schemas to their wire form and wrapping handlers with validation and
// uniform error translation.
func newServer(tools []tool.Definition) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, &mcp.ServerOptions{})

	for _, def := range tools {
		def := def
		mcpTool := &mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema.ToWire(def.InputSchema),
			Annotations: def.Annotations,
		}
		if def.OutputSchema != nil {
			mcpTool.OutputSchema = schema.ToWire(def.OutputSchema)
		}
		server.AddTool(mcpTool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			result, err := invoke(ctx, def, req.Params.Arguments)
			if err != nil {
				return tool.ToToolResult(err), nil
			}
			raw, err := json.Marshal(result)
			if err != nil {
				return tool.ToToolResult(tool.Internal(err)), nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					&mcp.TextContent{Text: string(raw)},
				},
			}, nil
		})
	}
	return server
}

// invoke validates arguments against the definition's input schema and runs
// the handler.
func invoke(ctx context.Context, def tool.Definition, args json.RawMessage) (any, error) {
	defer metrics.MeasureSince([]string{"tools", "call", "latency"}, time.Now())
	metrics.IncrCounterWithLabels([]string{"tools", "call", "requests"}, 1, callLabels(ctx, def))

	if err := schema.Validate(def.InputSchema, args); err != nil {
		return nil, tool.BadRequest("%s", validationMessage(err))
	}
	return def.Handler(ctx, args)
}

// callLabels attributes the call to the tool and to the caller's workspace
// for metering. Global routes carry no workspace, so the label is empty there.
func callLabels(ctx context.Context, def tool.Definition) []metrics.Label {
	var workspace string
	if rc, err := execctx.From(ctx); err == nil {
		workspace = rc.Workspace
	}
	return []metrics.Label{
		{Name: "tool", Value: def.Name},
		{Name: "workspace", Value: workspace},
	}
}

// validationMessage surfaces the validator's message when it has one.
func validationMessage(err error) string {
	if err == nil || err.Error() == "" {
		return "Invalid arguments"
	}
	return err.Error()
}

// CallHandler serves the direct tool-call bridge: POST /tools/call/{tool}
// with the raw arguments object as body, responding {"data": result} without
// the JSON-RPC envelope. The name lookup is built once at construction.
func CallHandler(tools []tool.Definition) http.Handler {
	byName := make(map[string]tool.Definition, len(tools))
	for _, def := range tools {
		byName[def.Name] = def
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("tool")
		def, ok := byName[name]
		if !ok {
			writeError(w, tool.NotFound("tool %q not found", name))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, tool.BadRequest("Invalid arguments"))
			return
		}
		var args json.RawMessage
		if len(bytes.TrimSpace(body)) > 0 {
			if !json.Valid(body) {
				writeError(w, tool.BadRequest("Invalid arguments"))
				return
			}
			args = body
		}

		result, err := invoke(r.Context(), def, args)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": result})
	})
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
