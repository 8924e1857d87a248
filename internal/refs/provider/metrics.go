// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provider

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "kapitan_refs"

// Metrics is a prometheus.Collector that collects metrics about ref
// backends and reveal caches.
type Metrics struct {
	backendCalls *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// NewMetricsCollector returns a new Metrics collector.
func NewMetricsCollector() *Metrics {
	return &Metrics{
		backendCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "backend_calls_total",
				Help:      "The number of calls made to ref backends.",
			}, []string{"backend", "operation", "result"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_lookups_total",
				Help:      "The number of reveal cache lookups.",
			}, []string{"result"},
		),
	}
}

// BackendCalls returns the backend call counter.
func (m *Metrics) BackendCalls() *prometheus.CounterVec {
	return m.backendCalls
}

// CacheLookups returns the cache lookup counter.
func (m *Metrics) CacheLookups() *prometheus.CounterVec {
	return m.cacheLookups
}

// ObserveCacheLookup records a reveal cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) observeCall(backend, op string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.backendCalls.WithLabelValues(backend, op, result).Inc()
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.backendCalls.Describe(ch)
	m.cacheLookups.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.backendCalls.Collect(ch)
	m.cacheLookups.Collect(ch)
}
