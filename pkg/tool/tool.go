// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package tool defines the gateway's tool model: static capability
// descriptors with schema-typed handlers, sources that resolve them per
// request, and the error taxonomy shared by every entry point.
package tool

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler executes a tool. Input has already been validated against the
// tool's input schema; the execution context is available via execctx.From.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Definition describes one named, schema-typed callable capability. Tool
// definitions are built at module load and never mutated; groups of them are
// composed into larger registries per route.
type Definition struct {
	// Name is unique within its group and keys dispatch.
	Name string
	// Description is surfaced in protocol metadata.
	Description string
	// InputSchema validates call arguments. Nil accepts any object.
	InputSchema *jsonschema.Schema
	// OutputSchema describes results, advertised but not enforced.
	OutputSchema *jsonschema.Schema
	// Group optionally buckets the tool for registration-time filtering.
	Group string
	// Annotations carries protocol hints (read-only, idempotent, ...).
	Annotations *mcp.ToolAnnotations
	// Handler runs the tool.
	Handler Handler
}

// Source resolves the tool collection for a request. Static sources wrap a
// fixed slice; dynamic sources may consult the execution context (and perform
// I/O) to compute a per-tenant set.
type Source interface {
	Resolve(ctx context.Context) ([]Definition, error)
}

// StaticSource is a Source over a fixed tool list.
type StaticSource []Definition

// Resolve returns the wrapped list unchanged.
func (s StaticSource) Resolve(context.Context) ([]Definition, error) {
	return s, nil
}

// SourceFunc adapts a closure into a Source.
type SourceFunc func(ctx context.Context) ([]Definition, error)

// Resolve invokes the closure.
func (f SourceFunc) Resolve(ctx context.Context) ([]Definition, error) {
	return f(ctx)
}

// Static builds a StaticSource from one or more tool groups.
func Static(groups ...[]Definition) StaticSource {
	var all []Definition
	for _, g := range groups {
		all = append(all, g...)
	}
	return StaticSource(all)
}
