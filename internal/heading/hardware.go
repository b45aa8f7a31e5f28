// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heading

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// Sensor is a magnetometer that can be read on demand.
type Sensor interface {
	Sense() (Vector, error)
}

// HardwareMagnetometer polls a Sensor at a fixed interval.
type HardwareMagnetometer struct {
	name     string
	sensor   Sensor
	interval time.Duration
	logger   *zap.Logger
}

// NewHardwareMagnetometer returns a Source backed by sensor, sampled every
// interval (100ms is a good default).
func NewHardwareMagnetometer(name string, sensor Sensor, interval time.Duration, logger *zap.Logger) (*HardwareMagnetometer, error) {
	if sensor == nil {
		return nil, errors.New("hardware magnetometer: nil sensor")
	}
	if interval <= 0 {
		return nil, errors.New("hardware magnetometer: sample interval must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HardwareMagnetometer{
		name:     name,
		sensor:   sensor,
		interval: interval,
		logger:   logger.With(zap.String("source", name)),
	}, nil
}

func (m *HardwareMagnetometer) Name() string { return m.name }

// Subscribe probes the sensor once, then starts the polling loop. A failing
// probe is returned so the caller can fall back to another source.
func (m *HardwareMagnetometer) Subscribe(h Handler) (Subscription, error) {
	first, err := m.sensor.Sense()
	if err != nil {
		return nil, err
	}

	sub := newLoopSubscription()
	go func() {
		defer close(sub.done)

		h(Sample{Vector: first, Time: time.Now()})

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-sub.stop:
				return
			case t := <-ticker.C:
				v, err := m.sensor.Sense()
				if err != nil {
					m.logger.Warn("magnetometer read failed", zap.Error(err))
					continue
				}
				select {
				case <-sub.stop:
					return
				default:
				}
				h(Sample{Vector: v, Time: t})
			}
		}
	}()
	return sub, nil
}
