// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package execctx carries per-request execution state (principal, locator,
// tokens) through nested call chains. The carrier rides on context.Context,
// so isolation between concurrent requests follows from each request deriving
// its own context; nothing in this package is shared mutable state.
package execctx

import (
	"context"
	"errors"
)

// ErrNoContext is returned by From when no execution context was established
// on the given context.Context. Hitting it means a handler ran outside the
// gateway's request pipeline, which is a wiring bug, not a runtime condition.
var ErrNoContext = errors.New("execctx: no execution context established for this request")

// Principal identifies the authenticated caller, if any.
type Principal struct {
	// ID is the stable user identifier.
	ID string
	// Email is the user's email address, when known.
	Email string
	// Metadata holds provider-specific claims.
	Metadata map[string]any
}

// Locator identifies a tenant project as an (org, project, branch) triple.
type Locator struct {
	Org     string
	Project string
	Branch  string
}

// Value returns the composite "<org>/<project>" key for the locator.
func (l Locator) Value() string {
	return l.Org + "/" + l.Project
}

// Context is the per-request execution state. It is created once per inbound
// request and must not be mutated afterwards.
type Context struct {
	// Principal is the authenticated user, or nil for anonymous callers.
	Principal *Principal
	// Locator identifies the tenant project; nil on global routes.
	Locator *Locator
	// Workspace is the legacy "/<root>/<slug>" addressing string, set only
	// when Locator is set and a principal id is resolvable.
	Workspace string
	// ProxyToken marks the caller as the platform's own proxy when present.
	ProxyToken string
	// CallerApp is an opaque identifier of the calling application.
	CallerApp string
	// RawToken is the end-user bearer token from the Authorization header.
	RawToken string
	// Cookie is the raw Cookie header, for session-based flows.
	Cookie string
}

type ctxKey struct{}

// With returns a context carrying rc. Each inbound request must call this
// exactly once with a freshly built Context.
func With(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// From returns the execution context established by the nearest enclosing
// With call. It fails loudly with ErrNoContext rather than returning a nil
// context, so missing wiring surfaces immediately.
func From(ctx context.Context) (*Context, error) {
	rc, ok := ctx.Value(ctxKey{}).(*Context)
	if !ok || rc == nil {
		return nil, ErrNoContext
	}
	return rc, nil
}

// MustFrom is From for call sites that have already passed through the
// request pipeline. It panics on a missing context.
func MustFrom(ctx context.Context) *Context {
	rc, err := From(ctx)
	if err != nil {
		panic(err)
	}
	return rc
}
