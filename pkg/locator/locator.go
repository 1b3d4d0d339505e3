// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package locator derives the normalized tenant locator and legacy workspace
// string from raw HTTP inputs. Resolve is a pure function: identical inputs
// always produce structurally equal outputs.
package locator

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/deco-cx/gateway/pkg/execctx"
)

const (
	// BranchHeader overrides the branch when neither route nor query set one.
	BranchHeader = "x-deco-branch"
	// ProxyAuthHeader carries the platform-internal scoped token.
	ProxyAuthHeader = "X-Proxy-Auth"
	// CallerAppHeader attributes the request to a calling application.
	CallerAppHeader = "x-caller-app"
	// DefaultBranch is used when no branch is supplied anywhere.
	DefaultBranch = "main"

	// personalRoot is the workspace root under which the principal id is
	// appended to the slug (personal workspace addressing).
	personalRoot = "users"
)

// Resolved is the output of Resolve, ready to populate an execctx.Context.
type Resolved struct {
	Locator    *execctx.Locator
	Workspace  string
	ProxyToken string
	CallerApp  string
	RawToken   string
	Cookie     string
}

// Resolve computes locator, workspace and token fields from route params,
// query string and headers. Two historical route-param key pairs are
// accepted: org/project, then root/slug; the first pair with both values
// non-empty wins. Missing org or project is not an error — global routes
// carry no locator.
func Resolve(params map[string]string, query url.Values, header http.Header, principal *execctx.Principal) Resolved {
	org, project := params["org"], params["project"]
	if org == "" || project == "" {
		org, project = params["root"], params["slug"]
	}

	branch := params["branch"]
	if branch == "" {
		branch = query.Get("branch")
	}
	if branch == "" {
		branch = header.Get(BranchHeader)
	}
	if branch == "" {
		branch = DefaultBranch
	}

	res := Resolved{
		ProxyToken: StripScheme(header.Get(ProxyAuthHeader)),
		CallerApp:  header.Get(CallerAppHeader),
		RawToken:   StripScheme(header.Get("Authorization")),
		Cookie:     header.Get("Cookie"),
	}

	if org != "" && project != "" {
		res.Locator = &execctx.Locator{Org: org, Project: project, Branch: branch}
		res.Workspace = workspaceFor(org, project, principal)
	}
	return res
}

// workspaceFor maps org to root and project to slug. Personal workspaces
// (root "users") append the principal id to the slug; when no principal id
// is available the workspace stays empty so callers never see a personal
// workspace that cannot be attributed.
func workspaceFor(org, project string, principal *execctx.Principal) string {
	if org != personalRoot {
		return "/" + org + "/" + project
	}
	if principal == nil || principal.ID == "" {
		return ""
	}
	return "/" + org + "/" + project + "-" + principal.ID
}

// StripScheme drops a leading auth scheme ("Bearer <tok>") from a header
// value. A value without a scheme prefix, or an empty value, yields "";
// malformed credentials are treated as absent rather than rejected.
func StripScheme(value string) string {
	if value == "" {
		return ""
	}
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
