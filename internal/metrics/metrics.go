// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus collectors for generation turns.
//
// Collectors register on an explicit registry so that tests and embedded
// engines never touch the global default registry. All methods are safe to
// call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every collector name.
const Namespace = "rigchat"

// Turn outcomes.
const (
	OutcomeComplete  = "complete"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Metrics holds the engine collectors.
type Metrics struct {
	registry *prometheus.Registry

	turns             *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	tokens            *prometheus.CounterVec
	activeGenerations prometheus.Gauge
	chunks            prometheus.Counter
}

// New registers the collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "turns_total",
			Help:      "Generation turns by provider and outcome",
		}, []string{"provider", "outcome"}),
		turnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a generation turn",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by providers",
		}, []string{"provider", "kind"}),
		activeGenerations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_generations",
			Help:      "Generations currently streaming",
		}),
		chunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chunks_total",
			Help:      "Stream chunks received from providers",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// GenerationStarted increments the active gauge.
func (m *Metrics) GenerationStarted() {
	if m == nil {
		return
	}
	m.activeGenerations.Inc()
}

// GenerationFinished decrements the active gauge and records the turn.
func (m *Metrics) GenerationFinished(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activeGenerations.Dec()
	m.turns.WithLabelValues(provider, outcome).Inc()
	m.turnDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Chunk counts one received stream chunk.
func (m *Metrics) Chunk() {
	if m == nil {
		return
	}
	m.chunks.Inc()
}

// Tokens adds a turn's usage.
func (m *Metrics) Tokens(provider string, prompt, completion, cached int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.tokens.WithLabelValues(provider, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.tokens.WithLabelValues(provider, "completion").Add(float64(completion))
	}
	if cached > 0 {
		m.tokens.WithLabelValues(provider, "cached").Add(float64(cached))
	}
}
