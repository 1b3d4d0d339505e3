// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.Integrations)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
addr: ":9090"
log:
  level: debug
  format: json
listing_ttl: 2m
integrations:
  - id: int-1
    app_name: my-app
    type: HTTP
    url: https://example.com/mcp
    token: secret-token
    headers:
      x-custom: value
    allowed_tools:
      - SOME_TOOL
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	ttl, err := cfg.ListingCacheTTL()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, ttl)

	require.Len(t, cfg.Integrations, 1)
	integ := cfg.Integrations[0]
	assert.Equal(t, "int-1", integ.ID)
	assert.Equal(t, "my-app", integ.AppName)
	assert.Equal(t, "https://example.com/mcp", integ.URL)
	assert.Equal(t, map[string]string{"x-custom": "value"}, integ.Headers)
	assert.Equal(t, []string{"SOME_TOOL"}, integ.AllowedTools)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
addr: ":9090"
integratoins:
  - id: int-1
    url: https://example.com
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")
}

func TestLoadRejectsIncompleteIntegration(t *testing.T) {
	path := writeConfig(t, `
integrations:
  - id: int-1
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSigningKeyComesFromEnvironment(t *testing.T) {
	t.Setenv(EnvSigningKey, "env-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.SigningKey)
}

func TestListingCacheTTLInvalid(t *testing.T) {
	cfg := &Config{ListingTTL: "soon"}
	_, err := cfg.ListingCacheTTL()
	assert.Error(t, err)
}
