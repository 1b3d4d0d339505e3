// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deco-cx/gateway/pkg/execctx"
	"github.com/deco-cx/gateway/pkg/proxy"
	"github.com/deco-cx/gateway/pkg/registry"
	"github.com/deco-cx/gateway/pkg/tool"
)

func findTool(t *testing.T, defs []tool.Definition, name string) tool.Definition {
	t.Helper()
	for _, d := range defs {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("tool %q not found", name)
	return tool.Definition{}
}

func TestIntegrationsList(t *testing.T) {
	t.Parallel()

	defs := Tools([]registry.Integration{
		{ID: "int-1", AppName: "my-app", Connection: proxy.Connection{Type: "HTTP"}},
		{ID: "int-2"},
	})
	def := findTool(t, defs, "INTEGRATIONS_LIST")
	assert.Equal(t, GroupManagement, def.Group)

	result, err := def.Handler(context.Background(), nil)
	require.NoError(t, err)
	entries, ok := result.([]IntegrationEntry)
	require.True(t, ok)
	require.Len(t, entries, 2)
	assert.Equal(t, "int-1", entries[0].ID)
	assert.Equal(t, "my-app", entries[0].AppName)
}

func TestWhoami(t *testing.T) {
	t.Parallel()

	def := findTool(t, Tools(nil), "WHOAMI")

	ctx := execctx.With(context.Background(), &execctx.Context{
		Principal: &execctx.Principal{ID: "u-1", Email: "u@example.com"},
		Locator:   &execctx.Locator{Org: "acme", Project: "site", Branch: "main"},
		Workspace: "/acme/site",
	})
	result, err := def.Handler(ctx, nil)
	require.NoError(t, err)
	whoami, ok := result.(WhoamiResult)
	require.True(t, ok)
	assert.False(t, whoami.Anonymous)
	assert.Equal(t, "u-1", whoami.UserID)
	assert.Equal(t, "acme/site", whoami.Locator)
	assert.Equal(t, "/acme/site", whoami.Workspace)
}

func TestWhoamiOutsidePipelineFails(t *testing.T) {
	t.Parallel()

	def := findTool(t, Tools(nil), "WHOAMI")
	_, err := def.Handler(context.Background(), nil)
	assert.Error(t, err)
}
