// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// unknownErrorText is the fixed fallback when a thrown value cannot be
// serialized at all.
const unknownErrorText = "Unknown error"

// AppError is the gateway's error taxonomy: an HTTP-compatible status code
// plus a caller-visible message. Handlers return AppError variants instead of
// probing untyped errors for ad hoc fields.
type AppError struct {
	// Code is an HTTP status code; out-of-range values map to 500.
	Code int
	// Message is the caller-visible message.
	Message string
	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "internal server error"
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *AppError) Unwrap() error { return e.Err }

// NotFound builds a 404 AppError.
func NotFound(format string, args ...any) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// BadRequest builds a 400 AppError.
func BadRequest(format string, args ...any) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized builds a 401 AppError.
func Unauthorized(format string, args ...any) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// Forbidden builds a 403 AppError.
func Forbidden(format string, args ...any) *AppError {
	return &AppError{Code: http.StatusForbidden, Message: fmt.Sprintf(format, args...)}
}

// Internal builds a 500 AppError wrapping err.
func Internal(err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Message: "Internal server error", Err: err}
}

// Upstream wraps a remote integration's failure, preserving its message.
func Upstream(err error) *AppError {
	return &AppError{Code: http.StatusBadGateway, Message: err.Error(), Err: err}
}

// HTTPStatus maps an error to the status code and message the gateway should
// respond with. AppError variants carry their own code; anything else is a
// generic 500. Codes outside the valid HTTP range fall back to 500.
func HTTPStatus(err error) (int, string) {
	var app *AppError
	if errors.As(err, &app) {
		code := app.Code
		if code < 100 || code > 599 {
			code = http.StatusInternalServerError
		}
		return code, app.Error()
	}
	if err != nil && err.Error() != "" {
		return http.StatusInternalServerError, err.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}

// ToToolResult converts a handler failure into a protocol-level tool result.
// The wire protocol has no transport-level error status for tool calls, so
// failures travel as an isError result with text content. Never returns nil
// and never panics, whatever err holds.
func ToToolResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: SerializeValue(err)},
		},
	}
}

// SerializeValue renders an arbitrary value as text for a tool-result
// envelope: strings pass through, anything with a message uses it, and
// everything else is best-effort JSON with a fixed fallback when
// stringification itself fails (circular references, panicking marshalers).
func SerializeValue(v any) (text string) {
	defer func() {
		if recover() != nil {
			text = unknownErrorText
		}
	}()

	switch val := v.(type) {
	case nil:
		return unknownErrorText
	case string:
		return val
	case error:
		return val.Error()
	}

	// Duck-typed message extraction for error-shaped values.
	if m, ok := v.(interface{ Message() string }); ok {
		return m.Message()
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return unknownErrorText
	}
	return string(raw)
}
