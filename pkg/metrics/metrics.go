// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides utilities for collecting and exposing gateway metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	gometrics "github.com/armon/go-metrics"
	"github.com/armon/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label is an alias for gometrics.Label, a key-value pair attached to a metric.
type Label = gometrics.Label

var initOnce sync.Once

// Initialize prepares the metrics system with a Prometheus sink. It sets up a
// global collector usable throughout the gateway; the metrics are exposed on
// the /metrics endpoint returned by Handler.
func Initialize() error {
	var err error
	initOnce.Do(func() {
		var sink *prometheus.PrometheusSink
		sink, err = prometheus.NewPrometheusSink()
		if err != nil {
			return
		}

		conf := gometrics.DefaultConfig("deco_gateway")
		conf.EnableHostname = false

		_, err = gometrics.NewGlobal(conf, sink)
	})
	return err
}

// Handler returns the HTTP handler serving the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncrCounter increments the named counter by val on the global collector.
func IncrCounter(key []string, val float32) {
	gometrics.IncrCounter(key, val)
}

// IncrCounterWithLabels increments the named counter with attached labels.
func IncrCounterWithLabels(key []string, val float32, labels []Label) {
	gometrics.IncrCounterWithLabels(key, val, labels)
}

// MeasureSince records the elapsed time since start under the named key.
func MeasureSince(key []string, start time.Time) {
	gometrics.MeasureSince(key, start)
}
