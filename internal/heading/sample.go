// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package heading turns raw magnetometer samples into a compass heading and
// an accuracy bucket, and provides the sample sources (hardware, remote,
// simulated) the compass session subscribes to.
package heading

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/qibla"
)

// Vector is a 3-axis magnetic field reading in µT.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Norm is the field strength |B|.
func (v Vector) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sample is a single magnetometer reading. Samples are consumed once and
// never retained.
type Sample struct {
	Vector
	Time      time.Time `json:"time"`
	Simulated bool      `json:"simulated,omitempty"`
}

// Accuracy is a coarse signal quality bucket derived from field strength.
type Accuracy int

const (
	AccuracyLow Accuracy = iota + 1
	AccuracyMedium
	AccuracyHigh
)

func (a Accuracy) String() string {
	switch a {
	case 0:
		return "unknown"
	case AccuracyLow:
		return "low"
	case AccuracyMedium:
		return "medium"
	case AccuracyHigh:
		return "high"
	default:
		return fmt.Sprintf("Accuracy(%d)", int(a))
	}
}

// MarshalText encodes the accuracy by name.
func (a Accuracy) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes an accuracy name.
func (a *Accuracy) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unknown":
		*a = 0
	case "low":
		*a = AccuracyLow
	case "medium":
		*a = AccuracyMedium
	case "high":
		*a = AccuracyHigh
	default:
		return fmt.Errorf("unknown accuracy %q", string(b))
	}
	return nil
}

// Thresholds split field strength (µT) into accuracy buckets:
// s < Low is low, Low <= s < High is medium, s >= High is high.
// The values are empirical and device dependent.
type Thresholds struct {
	Low  float64
	High float64
}

// DefaultThresholds are tuned for phone-class magnetometers.
var DefaultThresholds = Thresholds{Low: 10, High: 25}

// Validate rejects thresholds that would not partition the range.
func (t Thresholds) Validate() error {
	if t.Low < 0 || t.High <= t.Low {
		return fmt.Errorf("accuracy thresholds must satisfy 0 <= low < high, got low=%v high=%v", t.Low, t.High)
	}
	return nil
}

// Classify buckets a field strength.
func (t Thresholds) Classify(strength float64) Accuracy {
	switch {
	case strength < t.Low:
		return AccuracyLow
	case strength < t.High:
		return AccuracyMedium
	default:
		return AccuracyHigh
	}
}

// State is the heading derived from the latest sample.
type State struct {
	Degrees   float64   `json:"heading"`
	Accuracy  Accuracy  `json:"accuracy"`
	Strength  float64   `json:"strength"`
	Simulated bool      `json:"simulated,omitempty"`
	Time      time.Time `json:"time"`
}

// Degrees returns the heading of a field vector, atan2(y, x) in [0, 360).
func Degrees(v Vector) float64 {
	return qibla.NormalizeDegrees(math.Atan2(v.Y, v.X) * 180 / math.Pi)
}

// FromSample derives a State from a single sample. No smoothing is applied.
func FromSample(s Sample, t Thresholds) State {
	strength := s.Norm()
	return State{
		Degrees:   Degrees(s.Vector),
		Accuracy:  t.Classify(strength),
		Strength:  strength,
		Simulated: s.Simulated,
		Time:      s.Time,
	}
}
