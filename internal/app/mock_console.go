// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/location"
	"github.com/relabs-tech/qibla_compass/internal/qibla"
)

// framePrinter prints at most one frame per interval, plus every pulse.
type framePrinter struct {
	w        io.Writer
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (p *framePrinter) Render(f compass.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.last.IsZero() && f.Time.Sub(p.last) < p.interval {
		return
	}
	p.last = f.Time
	fmt.Fprintf(p.w,
		"HEADING=%6.2f  COMPASS=%6.2f  NEEDLE=%6.2f  QIBLA=%6.2f  %s\n",
		f.Heading, f.CompassRotation, f.NeedleRotation, f.Bearing, AccuracyLabel(f),
	)
}

func (p *framePrinter) Pulse(pl compass.Pulse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, ">>> %s pulse (needle %.2f)\n", pl.Kind, pl.Needle)
}

// AccuracyLabel is "simulated" for simulated frames and the accuracy
// bucket otherwise.
func AccuracyLabel(f compass.Frame) string {
	if f.Simulated {
		return "simulated"
	}
	return f.Accuracy.String()
}

// RunMockConsole runs a compass session offline, with the simulated
// heading and the saved location, and prints it to w. No broker or
// hardware is needed.
func RunMockConsole(ctx context.Context, cfg *config.Config, logger *zap.Logger, w io.Writer) error {
	saved, err := location.NewFixed(
		qibla.GeoPoint{Latitude: cfg.LocationLatitude, Longitude: cfg.LocationLongitude},
		cfg.LocationName, "saved")
	if err != nil {
		return err
	}

	printer := &framePrinter{w: w, interval: 100 * time.Millisecond}
	session, err := compass.NewSession(SessionConfig(cfg), compass.Deps{
		Source:   SimulatedRamp(cfg),
		Locator:  saved,
		Renderer: printer,
		Notifier: printer,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	return session.Run(ctx)
}
