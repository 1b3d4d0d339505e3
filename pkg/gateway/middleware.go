// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/deco-cx/gateway/pkg/execctx"
	"github.com/deco-cx/gateway/pkg/locator"
	"github.com/deco-cx/gateway/pkg/logging"
	"github.com/deco-cx/gateway/pkg/metrics"
)

// establish wraps a matched route handler so the execution context is built
// from the resolved path values before the handler runs. It must wrap the
// handler inside mux registration, not outside the mux, because path values
// only exist after the match.
func (g *Gateway) establish(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := g.principal(r)
		params := map[string]string{
			"org":     r.PathValue("org"),
			"project": r.PathValue("project"),
			"branch":  r.PathValue("branch"),
		}
		resolved := locator.Resolve(params, r.URL.Query(), r.Header, principal)

		rc := &execctx.Context{
			Principal:  principal,
			Locator:    resolved.Locator,
			Workspace:  resolved.Workspace,
			ProxyToken: resolved.ProxyToken,
			CallerApp:  resolved.CallerApp,
			RawToken:   resolved.RawToken,
			Cookie:     resolved.Cookie,
		}
		next.ServeHTTP(w, r.WithContext(execctx.With(r.Context(), rc)))
	})
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

// Flush forwards to the underlying writer when it supports streaming, which
// the SSE transport requires.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AccessLog logs one line per request with a correlation id, method, path,
// status and latency. The id is echoed in X-Request-Id so callers can quote
// it in reports.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		sr := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(sr, r)
		status := sr.status
		if status == 0 {
			status = http.StatusOK
		}
		logging.GetLogger().Info("request",
			"requestID", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
		)
		metrics.IncrCounterWithLabels([]string{"http", "requests"}, 1,
			[]metrics.Label{{Name: "method", Value: r.Method}})
	})
}

// Recover converts handler panics into 500 responses instead of tearing down
// the connection.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.GetLogger().Error("handler panic",
					"path", r.URL.Path, "panic", rec)
				writeError(w, nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
