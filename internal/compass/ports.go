// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package compass

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/location"
	"github.com/relabs-tech/qibla_compass/internal/qibla"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingLocation
	StateActive
	StateCalibrating
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingLocation:
		return "awaiting_location"
	case StateActive:
		return "active"
	case StateCalibrating:
		return "calibrating"
	case StateTornDown:
		return "torn_down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateUninitialized; st <= StateTornDown; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", string(b))
}

// Running reports whether heading updates are applied in this state.
func (s State) Running() bool {
	return s == StateActive || s == StateCalibrating
}

// Frame is one smoothing step handed to the rendering layer.
type Frame struct {
	Session string `json:"session"`
	Seq     uint64 `json:"seq"`

	// Displayed rotations, normalized to [0, 360).
	CompassRotation float64 `json:"compass_rotation"`
	NeedleRotation  float64 `json:"needle_rotation"`

	// Pre-smoothing targets.
	CompassTarget float64 `json:"compass_target"`
	NeedleTarget  float64 `json:"needle_target"`

	Heading   float64          `json:"heading"`
	Bearing   float64          `json:"bearing"`
	Accuracy  heading.Accuracy `json:"accuracy"`
	Simulated bool             `json:"simulated,omitempty"`
	Aligned   bool             `json:"aligned"`
	State     State            `json:"state"`
	Time      time.Time        `json:"time"`
}

// AtRest reports whether both rotations have reached their targets, i.e.
// this is the last frame before the session stops rendering.
func (f Frame) AtRest() bool {
	return angleEqual(f.CompassRotation, f.CompassTarget) && angleEqual(f.NeedleRotation, f.NeedleTarget)
}

func angleEqual(a, b float64) bool {
	const eps = 1e-6
	d := qibla.NormalizeDegrees(a - b)
	return d < eps || d > 360-eps
}

// PulseKind says why a pulse fired.
type PulseKind string

const (
	PulseAlignment   PulseKind = "alignment"
	PulseCalibration PulseKind = "calibration"
)

// Pulse is a fire-and-forget haptic/alignment event.
type Pulse struct {
	ID      string    `json:"id"`
	Session string    `json:"session"`
	Kind    PulseKind `json:"kind"`
	Needle  float64   `json:"needle"`
	Time    time.Time `json:"time"`
}

// Renderer consumes frames. Render is called from the session loop and
// must not block.
type Renderer interface {
	Render(Frame)
}

// Notifier consumes pulses. Pulse is called from the session loop and
// must not block.
type Notifier interface {
	Pulse(Pulse)
}

// Renderers fans a frame out to several renderers.
type Renderers []Renderer

func (rs Renderers) Render(f Frame) {
	for _, r := range rs {
		r.Render(f)
	}
}

// Notifiers fans a pulse out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Pulse(p Pulse) {
	for _, n := range ns {
		n.Pulse(p)
	}
}

// LogNotifier writes pulses to a logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Pulse(p Pulse) {
	n.Logger.Info("pulse",
		zap.String("kind", string(p.Kind)),
		zap.String("id", p.ID),
		zap.Float64("needle", p.Needle),
	)
}

// Snapshot is a read-only copy of the session, safe to hand to other
// goroutines.
type Snapshot struct {
	Session    string             `json:"session"`
	State      State              `json:"state"`
	Location   *location.Location `json:"location,omitempty"`
	Bearing    float64            `json:"bearing"`
	DistanceKm float64            `json:"distance_km"`
	Heading    *heading.State     `json:"heading,omitempty"`
	Source     string             `json:"source,omitempty"`
	Frame      *Frame             `json:"frame,omitempty"`
}
