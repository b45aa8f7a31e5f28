// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package location provides the observer position the Qibla bearing is
// computed from: a GPS receiver, fixes relayed over MQTT, or a saved
// location.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/qibla"
)

var (
	// ErrPermissionDenied means the position source exists but may not be
	// read by this process.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrUnavailable means no position could be obtained.
	ErrUnavailable = errors.New("location unavailable")
)

// Location is an observer position with a display name.
type Location struct {
	qibla.GeoPoint
	Name   string    `json:"name,omitempty"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`
}

// Provider supplies the current location on demand. Locate may block until
// a position is known or ctx is done.
type Provider interface {
	Locate(ctx context.Context) (Location, error)
}

// Mecca is used when nothing better is known.
var Mecca = Location{
	GeoPoint: qibla.Kaaba,
	Name:     "Mecca, Saudi Arabia",
	Source:   "default",
}

// Fixed always returns the same location.
type Fixed struct {
	loc Location
}

// NewFixed validates p and returns a provider for it.
func NewFixed(p qibla.GeoPoint, name, source string) (*Fixed, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("fixed location: %w", err)
	}
	return &Fixed{loc: Location{GeoPoint: p, Name: name, Source: source}}, nil
}

func (f *Fixed) Locate(ctx context.Context) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	loc := f.loc
	loc.Time = time.Now()
	return loc, nil
}

// Chain tries each provider in order and returns the first success. Each
// provider gets at most Timeout (when set) before the next one is tried.
type Chain struct {
	Providers []Provider
	Timeout   time.Duration
}

func (c Chain) Locate(ctx context.Context) (Location, error) {
	var errs []error
	for _, p := range c.Providers {
		pctx := ctx
		cancel := func() {}
		if c.Timeout > 0 {
			pctx, cancel = context.WithTimeout(ctx, c.Timeout)
		}
		loc, err := p.Locate(pctx)
		cancel()
		if err == nil {
			return loc, nil
		}
		if ctx.Err() != nil {
			return Location{}, ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Location{}, ErrUnavailable
	}
	return Location{}, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

// latest holds the most recent location and lets callers wait for the
// first one.
type latest struct {
	mu    sync.RWMutex
	loc   Location
	have  bool
	ready chan struct{}
}

func newLatest() *latest {
	return &latest{ready: make(chan struct{})}
}

func (l *latest) set(loc Location) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loc = loc
	if !l.have {
		l.have = true
		close(l.ready)
	}
}

func (l *latest) get() (Location, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loc, l.have
}

func (l *latest) wait(ctx context.Context) (Location, error) {
	select {
	case <-l.ready:
		loc, _ := l.get()
		return loc, nil
	case <-ctx.Done():
		return Location{}, fmt.Errorf("%w: no fix yet: %w", ErrUnavailable, ctx.Err())
	}
}
