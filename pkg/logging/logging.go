// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package logging provides logging utilities for the gateway.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu            sync.Mutex
	once          sync.Once
	defaultLogger *slog.Logger
)

// ForTestsOnlyResetLogger resets the `sync.Once` mechanism so the global
// logger can be re-initialized in different test cases. This function should
// not be used in production code.
func ForTestsOnlyResetLogger() {
	mu.Lock()
	defer mu.Unlock()
	once = sync.Once{}
	defaultLogger = nil
}

// Init initializes the gateway's global logger with a specific log level and
// output destination. It is designed to be called only once, at process
// start, to ensure a consistent logging setup.
//
// Parameters:
//   - level: The minimum log level to be recorded (e.g., `slog.LevelInfo`).
//   - output: The `io.Writer` to which log entries will be written.
//   - format: Optional format string ("json" or "text"). Defaults to "text".
func Init(level slog.Level, output io.Writer, format ...string) {
	mu.Lock()
	defer mu.Unlock()
	once.Do(func() {
		fmtStr := "text"
		if len(format) > 0 {
			fmtStr = format[0]
		}

		opts := &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		}

		var handler slog.Handler
		if fmtStr == "json" {
			handler = slog.NewJSONHandler(output, opts)
		} else {
			handler = slog.NewTextHandler(output, opts)
		}

		defaultLogger = slog.New(handler)
	})
}

// GetLogger returns the shared global logger instance. If the logger has not
// yet been initialized through a call to `Init`, it is initialized with
// default settings: logging to `os.Stderr` at `slog.LevelInfo`.
func GetLogger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	once.Do(func() {
		defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: true,
		}))
	})
	return defaultLogger
}

// ToSlogLevel converts a configuration log level string to a slog.Level.
// Unknown values default to info.
func ToSlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
