// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package compass

import (
	"fmt"
	"math"
	"time"
)

// maxSpringStep bounds the integration step so a late frame cannot make
// the semi-implicit Euler integrator unstable.
const maxSpringStep = 4 * time.Millisecond

// restEpsilon is the distance (deg) and speed (deg/s) below which the
// spring snaps onto its target.
const restEpsilon = 1e-3

// SpringConfig holds second-order spring parameters.
type SpringConfig struct {
	Stiffness float64
	Damping   float64
	Mass      float64
}

// DefaultSpring is slightly over the critical damping of 2·√90 ≈ 19 so the
// needle settles without a visible overshoot.
var DefaultSpring = SpringConfig{Stiffness: 90, Damping: 20, Mass: 1}

// Validate rejects parameters the integrator cannot use.
func (c SpringConfig) Validate() error {
	if c.Stiffness <= 0 || c.Mass <= 0 || c.Damping < 0 {
		return fmt.Errorf("spring needs stiffness > 0, mass > 0, damping >= 0, got %+v", c)
	}
	return nil
}

// Spring animates a displayed angle toward a target angle.
type Spring struct {
	cfg      SpringConfig
	position float64
	velocity float64
	target   float64
}

// NewSpring returns a spring resting at position.
func NewSpring(cfg SpringConfig, position float64) *Spring {
	return &Spring{cfg: cfg, position: position, target: position}
}

// Position is the displayed angle. It is continuous and may leave [0, 360).
func (s *Spring) Position() float64 { return s.position }

// Velocity in degrees per second.
func (s *Spring) Velocity() float64 { return s.velocity }

// Target is the angle the spring is chasing, in the spring's continuous
// frame.
func (s *Spring) Target() float64 { return s.target }

// SetTarget points the spring at the equivalent of deg nearest the current
// position, so crossing north takes the short way round.
func (s *Spring) SetTarget(deg float64) {
	s.target = nearestEquivalent(deg, s.position)
}

// AtRest reports whether the spring has settled on its target.
func (s *Spring) AtRest() bool {
	return s.position == s.target && s.velocity == 0
}

// Step advances the spring by dt.
func (s *Spring) Step(dt time.Duration) {
	if dt <= 0 || s.AtRest() {
		return
	}
	for dt > 0 {
		h := dt
		if h > maxSpringStep {
			h = maxSpringStep
		}
		dt -= h

		sec := h.Seconds()
		force := -s.cfg.Stiffness*(s.position-s.target) - s.cfg.Damping*s.velocity
		s.velocity += force / s.cfg.Mass * sec
		s.position += s.velocity * sec
	}
	if math.Abs(s.position-s.target) < restEpsilon && math.Abs(s.velocity) < restEpsilon {
		s.position = s.target
		s.velocity = 0
	}
}

// nearestEquivalent returns deg + k·360 closest to ref.
func nearestEquivalent(deg, ref float64) float64 {
	return ref + math.Remainder(deg-ref, 360)
}
