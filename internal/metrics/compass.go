// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics holds the Prometheus collectors of the qibla service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "qibla"

// Compass session metrics.
var (
	SamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heading_samples_total",
			Help:      "Magnetometer samples applied to the compass session",
		},
		[]string{"source"},
	)

	SamplesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heading_samples_dropped_total",
			Help:      "Samples discarded because the session queue was full",
		},
	)

	AlignmentPulsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulses_total",
			Help:      "Pulses sent to the notifier",
		},
		[]string{"kind"}, // "alignment" / "calibration"
	)

	LocationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_failures_total",
			Help:      "Failed attempts to obtain the observer location",
		},
	)

	SensorFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_fallbacks_total",
			Help:      "Times the session fell back to the simulated heading source",
		},
	)

	FramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames handed to the renderer",
		},
	)

	HeadingDegrees = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heading_degrees",
			Help:      "Latest device heading",
		},
	)

	BearingDegrees = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bearing_degrees",
			Help:      "Qibla bearing for the current location",
		},
	)

	FieldStrength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "field_strength_microtesla",
			Help:      "Magnitude of the latest magnetometer sample",
		},
	)

	Accuracy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heading_accuracy",
			Help:      "Accuracy bucket of the latest sample (1 low, 2 medium, 3 high)",
		},
	)

	SessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Compass session state (0 uninitialized .. 4 torn down)",
		},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default registry. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SamplesTotal,
			SamplesDroppedTotal,
			AlignmentPulsesTotal,
			LocationFailuresTotal,
			SensorFallbacksTotal,
			FramesTotal,
			HeadingDegrees,
			BearingDegrees,
			FieldStrength,
			Accuracy,
			SessionState,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}
