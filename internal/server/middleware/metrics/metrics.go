// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the service's Prometheus collectors and the
// middleware that feeds the request histogram.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's collectors. One instance is registered at
// startup and shared by the middleware, the policy handlers, and the JWKS
// cache hook.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	evaluations     *prometheus.CounterVec
	keyFetches      *prometheus.CounterVec
}

// New creates and registers the collectors. A nil registerer uses the
// default registry, which promhttp.Handler exposes; tests pass their own
// prometheus.NewRegistry() so repeated registration never collides.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bento_authz",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bento_authz",
			Name:      "evaluations_total",
			Help:      "Policy decisions by outcome.",
		}, []string{"decision"}),
		keyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bento_authz",
			Name:      "jwks_fetches_total",
			Help:      "Outbound JWKS fetches by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.requestDuration, m.evaluations, m.keyFetches)
	return m
}

// Middleware records one histogram observation per request. The route
// label is the matched ServeMux pattern, so /grants/1 and /grants/2 share
// a series.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.requestDuration.
				WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).
				Observe(time.Since(start).Seconds())
		})
	}
}

// CountDecision increments the evaluation counter for one allow or deny.
func (m *Metrics) CountDecision(allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.evaluations.WithLabelValues(decision).Inc()
}

// CountKeyFetch records the outcome of one outbound JWKS fetch. The
// signature matches the key cache's OnFetch hook.
func (m *Metrics) CountKeyFetch(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.keyFetches.WithLabelValues(outcome).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
