// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/accounts/internal/auth"
)

const namespace = "accounts"

// Metrics contains the account service's Prometheus collectors. It implements
// auth.Metrics and records HTTP request outcomes.
type Metrics struct {
	OperationsTotal      *prometheus.CounterVec
	SessionsRevokedTotal *prometheus.CounterVec
	SessionsReapedTotal  prometheus.Counter
	HashDuration         *prometheus.HistogramVec
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
}

// NewMetrics creates and registers the account metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of account operations by operation and outcome code",
			},
			[]string{"operation", "outcome"},
		),
		SessionsRevokedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_revoked_total",
				Help:      "Total number of sessions revoked by reason",
			},
			[]string{"reason"},
		),
		SessionsReapedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_reaped_total",
				Help:      "Total number of expired or revoked sessions purged from storage",
			},
		),
		HashDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "password_hash_duration_seconds",
				Help:      "Duration of password hashing and verification",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(
		m.OperationsTotal,
		m.SessionsRevokedTotal,
		m.SessionsReapedTotal,
		m.HashDuration,
		m.RequestsTotal,
		m.RequestDuration,
	)

	return m
}

// ObserveOperation implements auth.Metrics.
func (m *Metrics) ObserveOperation(operation, outcome string) {
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// SessionsRevoked implements auth.Metrics.
func (m *Metrics) SessionsRevoked(reason string, n int64) {
	if n > 0 {
		m.SessionsRevokedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// SessionsReaped implements auth.Metrics.
func (m *Metrics) SessionsReaped(n int64) {
	if n > 0 {
		m.SessionsReapedTotal.Add(float64(n))
	}
}

// ObserveHash implements auth.Metrics.
func (m *Metrics) ObserveHash(operation string, elapsed time.Duration) {
	m.HashDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

var _ auth.Metrics = (*Metrics)(nil)
