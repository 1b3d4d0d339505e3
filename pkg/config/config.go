// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package config loads gateway configuration from a file, the environment,
// and an optional .env file, validating the file against an embedded JSON
// schema before unmarshaling.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
)

//go:embed config_schema.json
var configSchema []byte

// Environment variable names. The signing key is environment-only so it never
// lands in a config file.
const (
	envPrefix     = "DECO"
	EnvSigningKey = "DECO_PROXY_SIGNING_KEY"
)

// Log configures the global logger.
type Log struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// IntegrationConfig declares one remote MCP integration.
type IntegrationConfig struct {
	ID           string            `mapstructure:"id" json:"id"`
	AppName      string            `mapstructure:"app_name" json:"app_name,omitempty"`
	Type         string            `mapstructure:"type" json:"type,omitempty"`
	URL          string            `mapstructure:"url" json:"url"`
	Token        string            `mapstructure:"token" json:"token,omitempty"`
	Headers      map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	AllowedTools []string          `mapstructure:"allowed_tools" json:"allowed_tools,omitempty"`
}

// Config is the full gateway configuration.
type Config struct {
	Addr         string              `mapstructure:"addr" json:"addr,omitempty"`
	Log          Log                 `mapstructure:"log" json:"log"`
	ListingTTL   string              `mapstructure:"listing_ttl" json:"listing_ttl,omitempty"`
	Integrations []IntegrationConfig `mapstructure:"integrations" json:"integrations,omitempty"`

	// SigningKey comes from DECO_PROXY_SIGNING_KEY only. Never logged.
	SigningKey string `mapstructure:"-" json:"-"`
}

// ListingCacheTTL parses the configured listing TTL, falling back to zero
// when unset (callers apply their own default).
func (c *Config) ListingCacheTTL() (time.Duration, error) {
	if c.ListingTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.ListingTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid listing_ttl %q: %w", c.ListingTTL, err)
	}
	return d, nil
}

// Load reads configuration from path (optional), overlaying DECO_* environment
// variables. A .env file in the working directory is loaded first when
// present.
func Load(path string) (*Config, error) {
	// Missing .env is the common case, not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if err := validateFile(v.AllSettings()); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SigningKey = os.Getenv(EnvSigningKey)

	for _, integ := range cfg.Integrations {
		if integ.ID == "" || integ.URL == "" {
			return nil, fmt.Errorf("integration entries require id and url")
		}
	}
	return &cfg, nil
}

// validateFile checks the raw config document against the embedded schema so
// misspelled keys and malformed entries fail at startup with a pointed
// message instead of silently unmarshaling to zero values.
func validateFile(settings map[string]any) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal config for validation: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("config_schema.json", bytes.NewReader(configSchema)); err != nil {
		return fmt.Errorf("failed to add config schema resource: %w", err)
	}
	schema, err := c.Compile("config_schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}

	var value any
	if err := json.Unmarshal(doc, &value); err != nil {
		return fmt.Errorf("failed to reparse config for validation: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("config file is invalid: %w", err)
	}
	return nil
}
