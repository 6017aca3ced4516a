// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowforge_http_requests_total",
			Help: "Total HTTP requests processed, by method, route pattern and status code.",
		},
		[]string{"method", "pattern", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowforge_http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "pattern"},
	)
)

// Metrics returns a middleware recording request counts and latencies.
// The route pattern (not the raw path) is used as a label to keep
// cardinality bounded.
func Metrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
				pattern := r.Pattern
				if pattern == "" {
					pattern = "unmatched"
				}
				httpRequestDuration.WithLabelValues(r.Method, pattern).Observe(v)
				httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.statusCode)).Inc()
			}))
			defer timer.ObserveDuration()

			next.ServeHTTP(rw, r)
		})
	}
}
