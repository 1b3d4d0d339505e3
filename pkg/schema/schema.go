// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package schema converts between the gateway's internal schema
// representation (*jsonschema.Schema) and the plain JSON-Schema documents the
// MCP wire protocol carries in tool listings.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// ToWire renders an internal schema as a JSON-Schema document for a tool
// listing. A nil schema, or one that fails to marshal, degrades to an empty
// object schema rather than failing the listing.
func ToWire(s *jsonschema.Schema) map[string]any {
	if s == nil {
		return emptyObjectSchema()
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return emptyObjectSchema()
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return emptyObjectSchema()
	}
	return doc
}

// FromWire reconstructs an internal schema from a JSON-Schema document, as
// advertised by a remote integration's tool listing.
func FromWire(doc map[string]any) (*jsonschema.Schema, error) {
	if doc == nil {
		return &jsonschema.Schema{Type: "object"}, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal wire schema: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wire schema: %w", err)
	}
	return &s, nil
}

// Validate checks a raw JSON payload against an internal schema. A nil
// schema accepts everything.
func Validate(s *jsonschema.Schema, raw json.RawMessage) error {
	if s == nil {
		return nil
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return fmt.Errorf("failed to resolve schema: %w", err)
	}
	var value any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("arguments are not valid JSON: %w", err)
		}
	} else {
		value = map[string]any{}
	}
	return resolved.Validate(value)
}

func emptyObjectSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}
