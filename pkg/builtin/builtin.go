// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package builtin carries the gateway's own management tools, served on the
// global tool-group endpoint alongside any tenant tools.
package builtin

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deco-cx/gateway/pkg/execctx"
	"github.com/deco-cx/gateway/pkg/registry"
	"github.com/deco-cx/gateway/pkg/tool"
)

// GroupManagement buckets the built-in tools for group-filtered listings.
const GroupManagement = "management"

func emptySchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{},
	}
}

// IntegrationEntry is one row of the INTEGRATIONS_LIST result.
type IntegrationEntry struct {
	ID      string `json:"id"`
	AppName string `json:"appName,omitempty"`
	Type    string `json:"type,omitempty"`
}

// WhoamiResult is the WHOAMI tool's result.
type WhoamiResult struct {
	Anonymous bool   `json:"anonymous"`
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
	Workspace string `json:"workspace,omitempty"`
	Locator   string `json:"locator,omitempty"`
	Branch    string `json:"branch,omitempty"`
}

// Tools builds the built-in management tool group over the integration
// registry.
func Tools(integrations []registry.Integration) []tool.Definition {
	return []tool.Definition{
		{
			Name:        "INTEGRATIONS_LIST",
			Description: "List the integrations configured on this gateway.",
			InputSchema: emptySchema(),
			Group:       GroupManagement,
			Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
			Handler: func(context.Context, json.RawMessage) (any, error) {
				entries := make([]IntegrationEntry, 0, len(integrations))
				for _, integ := range integrations {
					entries = append(entries, IntegrationEntry{
						ID:      integ.ID,
						AppName: integ.AppName,
						Type:    integ.Connection.Type,
					})
				}
				return entries, nil
			},
		},
		{
			Name:        "WHOAMI",
			Description: "Describe the caller's identity and workspace as the gateway sees them.",
			InputSchema: emptySchema(),
			Group:       GroupManagement,
			Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
			Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				rc, err := execctx.From(ctx)
				if err != nil {
					return nil, tool.Internal(err)
				}
				result := WhoamiResult{
					Anonymous: rc.Principal == nil,
					Workspace: rc.Workspace,
				}
				if rc.Principal != nil {
					result.UserID = rc.Principal.ID
					result.Email = rc.Principal.Email
				}
				if rc.Locator != nil {
					result.Locator = rc.Locator.Value()
					result.Branch = rc.Locator.Branch
				}
				return result, nil
			},
		},
	}
}
