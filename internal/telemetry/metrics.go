// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// =============================================================================
// METRICS
// =============================================================================

// Metrics is a Recorder backed by Prometheus collectors.
// Each instance owns a private registry so several sessions (and tests) can
// coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	generations        *prometheus.CounterVec
	events             *prometheus.CounterVec
	openAttempts       *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	firstEventDelay    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memchat_generations_total",
				Help: "Finished generations by outcome.",
			},
			[]string{"outcome"},
		),

		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memchat_stream_events_total",
				Help: "Stream events received by payload kind.",
			},
			[]string{"kind"},
		),

		openAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memchat_open_attempts_total",
				Help: "Attempts to open an agent stream by result.",
			},
			[]string{"result"},
		),

		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memchat_generation_seconds",
				Help:    "Time from submission to terminal reply state.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"outcome"},
		),

		firstEventDelay: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "memchat_first_event_seconds",
				Help:    "Time from submission to the first stream event.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
			},
		),
	}

	m.registry.MustRegister(
		m.generations,
		m.events,
		m.openAttempts,
		m.generationDuration,
		m.firstEventDelay,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OpenAttempt implements Recorder.
func (m *Metrics) OpenAttempt(result string) {
	m.openAttempts.WithLabelValues(norm(result)).Inc()
}

// StreamEvent implements Recorder.
func (m *Metrics) StreamEvent(kind string) {
	m.events.WithLabelValues(norm(kind)).Inc()
}

// FirstEvent implements Recorder.
func (m *Metrics) FirstEvent(delay time.Duration) {
	m.firstEventDelay.Observe(delay.Seconds())
}

// GenerationFinished implements Recorder.
func (m *Metrics) GenerationFinished(outcome string, elapsed time.Duration) {
	outcome = norm(outcome)
	m.generations.WithLabelValues(outcome).Inc()
	m.generationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
