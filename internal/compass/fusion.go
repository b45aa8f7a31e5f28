// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package compass

import (
	"math"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/qibla"
)

// Targets returns the rotation targets for a Qibla bearing and a device
// heading:
//
//	compass = 360 - heading           (keeps north fixed on screen)
//	needle  = normalize(bearing - heading)
func Targets(bearing, heading float64) (compassTarget, needleTarget float64) {
	return 360 - heading, qibla.NormalizeDegrees(bearing - heading)
}

// InAlignmentBand reports whether a needle angle is within threshold
// degrees of straight up.
func InAlignmentBand(needle, threshold float64) bool {
	return math.Abs(needle) < threshold || math.Abs(needle-360) < threshold
}

// AlignmentConfig tunes when an alignment pulse fires.
type AlignmentConfig struct {
	// Threshold is the half-width of the alignment band in degrees.
	Threshold float64
	// Release is how far past the band the needle must move before the
	// detector re-arms.
	Release float64
	// Cooldown is the minimum time between two pulses.
	Cooldown time.Duration
}

// DefaultAlignment fires within 5° and re-arms at 7°.
var DefaultAlignment = AlignmentConfig{
	Threshold: 5,
	Release:   2,
	Cooldown:  1500 * time.Millisecond,
}

// AlignmentDetector turns the per-sample band test into one-shot events.
// It fires on entering the band, then stays quiet until the needle leaves
// the band by more than Release and Cooldown has elapsed.
type AlignmentDetector struct {
	cfg       AlignmentConfig
	armed     bool
	lastFired time.Time
}

// NewAlignmentDetector returns an armed detector.
func NewAlignmentDetector(cfg AlignmentConfig) *AlignmentDetector {
	return &AlignmentDetector{cfg: cfg, armed: true}
}

// Observe feeds the pre-smoothing needle target and reports whether a
// pulse should fire now.
func (d *AlignmentDetector) Observe(needle float64, now time.Time) bool {
	if InAlignmentBand(needle, d.cfg.Threshold) {
		if !d.armed {
			return false
		}
		if !d.lastFired.IsZero() && now.Sub(d.lastFired) < d.cfg.Cooldown {
			return false
		}
		d.armed = false
		d.lastFired = now
		return true
	}
	if !InAlignmentBand(needle, d.cfg.Threshold+d.cfg.Release) {
		d.armed = true
	}
	return false
}

// Reset re-arms the detector, e.g. after the bearing changes.
func (d *AlignmentDetector) Reset() {
	d.armed = true
}
