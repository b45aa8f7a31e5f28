// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heading

import (
	"errors"
	"math"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/qibla"
)

// SimulatedRamp is the fallback source for hosts without a magnetometer.
// The simulated heading advances by Step degrees every Interval.
type SimulatedRamp struct {
	Interval time.Duration
	Step     float64
	// Strength is the magnitude of the synthetic field vector in µT.
	Strength float64
	// Start is the heading of the first sample.
	Start float64
}

// NewSimulatedRamp returns a ramp of 1° every 50ms at a 30µT field.
func NewSimulatedRamp() *SimulatedRamp {
	return &SimulatedRamp{
		Interval: 50 * time.Millisecond,
		Step:     1,
		Strength: 30,
	}
}

func (r *SimulatedRamp) Name() string { return "simulated" }

// SampleAt builds the synthetic sample whose heading is deg.
func (r *SimulatedRamp) SampleAt(deg float64, t time.Time) Sample {
	rad := deg * math.Pi / 180
	return Sample{
		Vector: Vector{
			X: r.Strength * math.Cos(rad),
			Y: r.Strength * math.Sin(rad),
		},
		Time:      t,
		Simulated: true,
	}
}

func (r *SimulatedRamp) Subscribe(h Handler) (Subscription, error) {
	if r.Interval <= 0 {
		return nil, errors.New("simulated ramp: interval must be > 0")
	}

	sub := newLoopSubscription()
	go func() {
		defer close(sub.done)

		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()

		deg := qibla.NormalizeDegrees(r.Start)
		for {
			select {
			case <-sub.stop:
				return
			case t := <-ticker.C:
				deg = qibla.NormalizeDegrees(deg + r.Step)
				select {
				case <-sub.stop:
					return
				default:
				}
				h(r.SampleAt(deg, t))
			}
		}
	}()
	return sub, nil
}
