// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package compass fuses the Qibla bearing with the live device heading into
// smoothed compass-face and needle rotations, and fires alignment pulses.
package compass

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/location"
	"github.com/relabs-tech/qibla_compass/internal/metrics"
	"github.com/relabs-tech/qibla_compass/internal/qibla"
)

var (
	ErrNotActive      = errors.New("compass session not active")
	ErrTornDown       = errors.New("compass session torn down")
	ErrCalibrating    = errors.New("compass calibration already running")
	ErrAlreadyStarted = errors.New("compass session already started")
)

// maxFrameGap bounds the time a single frame may advance the springs.
const maxFrameGap = time.Second

// Config tunes a Session.
type Config struct {
	Thresholds          heading.Thresholds
	Spring              SpringConfig
	Alignment           AlignmentConfig
	FrameInterval       time.Duration
	CalibrationDuration time.Duration
	LocationRetry       time.Duration
	// SampleBuffer is the number of samples queued between the source and
	// the session loop. When full, the oldest sample is dropped.
	SampleBuffer int
}

// DefaultConfig renders at ~60 fps and calibrates for 3 s.
func DefaultConfig() Config {
	return Config{
		Thresholds:          heading.DefaultThresholds,
		Spring:              DefaultSpring,
		Alignment:           DefaultAlignment,
		FrameInterval:       16 * time.Millisecond,
		CalibrationDuration: 3 * time.Second,
		LocationRetry:       10 * time.Second,
		SampleBuffer:        8,
	}
}

func (c Config) Validate() error {
	var errs []error
	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Spring.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Alignment.Threshold <= 0 || c.Alignment.Release < 0 || c.Alignment.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("alignment needs threshold > 0, release >= 0, cooldown >= 0, got %+v", c.Alignment))
	}
	if c.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("frame interval must be > 0, got %v", c.FrameInterval))
	}
	if c.CalibrationDuration <= 0 {
		errs = append(errs, fmt.Errorf("calibration duration must be > 0, got %v", c.CalibrationDuration))
	}
	if c.LocationRetry <= 0 {
		errs = append(errs, fmt.Errorf("location retry must be > 0, got %v", c.LocationRetry))
	}
	if c.SampleBuffer < 1 {
		errs = append(errs, fmt.Errorf("sample buffer must be >= 1, got %d", c.SampleBuffer))
	}
	return errors.Join(errs...)
}

// Deps are the collaborators of a Session. Locator is required. Source may
// be nil, in which case Fallback is used directly; Fallback defaults to a
// SimulatedRamp.
type Deps struct {
	Source   heading.Source
	Fallback heading.Source
	Locator  location.Provider
	Renderer Renderer
	Notifier Notifier
	Logger   *zap.Logger
}

// Session owns one compass view: its bearing, heading and fusion state.
//
// All state changes happen on the Run goroutine. Source handlers only
// enqueue samples; other goroutines talk to the loop through channels and
// read Snapshot.
type Session struct {
	id       string
	cfg      Config
	source   heading.Source
	fallback heading.Source
	locator  location.Provider
	renderer Renderer
	notifier Notifier
	logger   *zap.Logger

	samples   chan heading.Sample
	locations chan location.Location
	calibrate chan chan error
	started   atomic.Bool
	done      chan struct{}

	mu   sync.RWMutex
	snap Snapshot

	// Run goroutine only.
	state         State
	loc           *location.Location
	bearing       float64
	distance      float64
	head          heading.State
	haveHeading   bool
	compass       *Spring
	needle        *Spring
	compassTarget float64
	needleTarget  float64
	detector      *AlignmentDetector
	sub           heading.Subscription
	sourceName    string
	dirty         bool
	seq           uint64
	// Set once SetLocation is applied; later locator results are ignored.
	userLocated bool
}

// NewSession validates cfg and returns an uninitialized session.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("compass config: %w", err)
	}
	if deps.Locator == nil {
		return nil, errors.New("compass session needs a location provider")
	}
	if deps.Fallback == nil {
		deps.Fallback = heading.NewSimulatedRamp()
	}
	if deps.Renderer == nil {
		deps.Renderer = Renderers(nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = Notifiers(nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	id := uuid.NewString()
	s := &Session{
		id:        id,
		cfg:       cfg,
		source:    deps.Source,
		fallback:  deps.Fallback,
		locator:   deps.Locator,
		renderer:  deps.Renderer,
		notifier:  deps.Notifier,
		logger:    deps.Logger.With(zap.String("session", id)),
		samples:   make(chan heading.Sample, cfg.SampleBuffer),
		locations: make(chan location.Location),
		calibrate: make(chan chan error),
		done:      make(chan struct{}),
		compass:   NewSpring(cfg.Spring, 0),
		needle:    NewSpring(cfg.Spring, 0),
		detector:  NewAlignmentDetector(cfg.Alignment),
	}
	s.snap = Snapshot{Session: id, State: StateUninitialized}
	return s, nil
}

// ID identifies the session in frames and pulses.
func (s *Session) ID() string { return s.id }

// Done is closed once the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

type locateResult struct {
	loc location.Location
	err error
}

// Run drives the session until ctx is done. It locates the observer,
// subscribes to the heading source once a bearing is known, and renders a
// frame every FrameInterval while the springs are moving. The subscription
// is always released before Run returns. A session runs at most once.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer s.teardown()

	s.setState(StateAwaitingLocation)
	located := make(chan locateResult, 1)
	s.startLocate(ctx, located)

	frames := time.NewTicker(s.cfg.FrameInterval)
	defer frames.Stop()
	last := time.Now()

	var retry, calibrated <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case res := <-located:
			if res.err == nil {
				res.err = res.loc.Validate()
			}
			if res.err != nil {
				metrics.LocationFailuresTotal.Inc()
				s.logger.Warn("location unavailable",
					zap.Error(res.err),
					zap.Duration("retry_in", s.cfg.LocationRetry),
				)
				if s.state == StateAwaitingLocation {
					retry = time.After(s.cfg.LocationRetry)
				}
				continue
			}
			retry = nil
			if s.userLocated {
				s.logger.Debug("keeping user location",
					zap.String("ignored_source", res.loc.Source),
				)
				continue
			}
			if err := s.applyLocation(res.loc); err != nil {
				return err
			}

		case <-retry:
			retry = nil
			s.startLocate(ctx, located)

		case loc := <-s.locations:
			retry = nil
			if err := s.applyLocation(loc); err != nil {
				return err
			}
			s.userLocated = true

		case smp := <-s.samples:
			s.applySample(smp)

		case reply := <-s.calibrate:
			switch s.state {
			case StateActive:
				s.setState(StateCalibrating)
				s.pulse(PulseCalibration, s.needleTarget, time.Now())
				calibrated = time.After(s.cfg.CalibrationDuration)
				reply <- nil
			case StateCalibrating:
				reply <- ErrCalibrating
			default:
				reply <- ErrNotActive
			}

		case <-calibrated:
			calibrated = nil
			s.setState(StateActive)

		case now := <-frames.C:
			dt := now.Sub(last)
			last = now
			s.stepFrame(dt, now)
		}
	}
}

// Calibrate starts the calibration affordance and fires a calibration
// pulse. It changes no computed value; the session returns to Active after
// CalibrationDuration.
func (s *Session) Calibrate(ctx context.Context) error {
	switch s.Snapshot().State {
	case StateUninitialized:
		return ErrNotActive
	case StateTornDown:
		return ErrTornDown
	}
	reply := make(chan error, 1)
	select {
	case s.calibrate <- reply:
	case <-s.done:
		return ErrTornDown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrTornDown
	}
}

// SetLocation replaces the observer location, e.g. with a location picked
// by the user. Once set, results of pending or retried Locate calls are
// discarded.
func (s *Session) SetLocation(ctx context.Context, loc location.Location) error {
	if err := loc.Validate(); err != nil {
		return fmt.Errorf("set location: %w", err)
	}
	select {
	case s.locations <- loc:
		return nil
	case <-s.done:
		return ErrTornDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) startLocate(ctx context.Context, out chan<- locateResult) {
	go func() {
		loc, err := s.locator.Locate(ctx)
		out <- locateResult{loc: loc, err: err}
	}()
}

// enqueue is the heading.Handler given to sources. It never blocks.
func (s *Session) enqueue(smp heading.Sample) {
	for {
		select {
		case s.samples <- smp:
			return
		default:
		}
		select {
		case <-s.samples:
			metrics.SamplesDroppedTotal.Inc()
		default:
		}
	}
}

func (s *Session) applyLocation(loc location.Location) error {
	bearing, err := loc.Bearing()
	if err != nil {
		return fmt.Errorf("bearing: %w", err)
	}
	distance, err := qibla.DistanceKm(loc.GeoPoint)
	if err != nil {
		return fmt.Errorf("distance: %w", err)
	}
	s.loc = &loc
	s.bearing = bearing
	s.distance = distance
	s.detector.Reset()
	metrics.BearingDegrees.Set(bearing)

	s.logger.Info("location set",
		zap.String("name", loc.Name),
		zap.String("source", loc.Source),
		zap.Float64("lat", loc.Latitude),
		zap.Float64("lon", loc.Longitude),
		zap.Float64("bearing", bearing),
		zap.Float64("distance_km", distance),
	)

	if s.state == StateAwaitingLocation {
		if err := s.subscribe(); err != nil {
			return err
		}
		s.setState(StateActive)
	}
	if s.haveHeading {
		s.retarget(time.Now())
	}
	s.publish()
	return nil
}

// subscribe attaches the session to its heading source, falling back to
// the simulated source when the primary one fails.
func (s *Session) subscribe() error {
	if s.source != nil {
		sub, err := s.source.Subscribe(s.enqueue)
		if err == nil {
			s.sub = sub
			s.sourceName = s.source.Name()
			s.logger.Info("heading source subscribed", zap.String("source", s.sourceName))
			return nil
		}
		metrics.SensorFallbacksTotal.Inc()
		s.logger.Warn("heading source unavailable, falling back",
			zap.String("source", s.source.Name()),
			zap.String("fallback", s.fallback.Name()),
			zap.Error(err),
		)
	}
	sub, err := s.fallback.Subscribe(s.enqueue)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.fallback.Name(), err)
	}
	s.sub = sub
	s.sourceName = s.fallback.Name()
	s.logger.Info("heading source subscribed", zap.String("source", s.sourceName))
	return nil
}

func (s *Session) applySample(smp heading.Sample) {
	if !s.state.Running() {
		return
	}
	if smp.Time.IsZero() {
		smp.Time = time.Now()
	}
	s.head = heading.FromSample(smp, s.cfg.Thresholds)
	s.haveHeading = true

	metrics.SamplesTotal.WithLabelValues(s.sourceName).Inc()
	metrics.HeadingDegrees.Set(s.head.Degrees)
	metrics.FieldStrength.Set(s.head.Strength)
	metrics.Accuracy.Set(float64(s.head.Accuracy))

	s.retarget(smp.Time)
	s.publish()
}

// retarget recomputes both targets from the current bearing and heading
// and runs alignment detection on the unsmoothed needle target.
func (s *Session) retarget(now time.Time) {
	s.compassTarget, s.needleTarget = Targets(s.bearing, s.head.Degrees)
	s.compass.SetTarget(s.compassTarget)
	s.needle.SetTarget(s.needleTarget)
	s.dirty = true

	if s.detector.Observe(s.needleTarget, now) {
		s.pulse(PulseAlignment, s.needleTarget, now)
	}
}

func (s *Session) stepFrame(dt time.Duration, now time.Time) {
	if !s.state.Running() || !s.haveHeading {
		return
	}
	if !s.dirty && s.compass.AtRest() && s.needle.AtRest() {
		return
	}
	if dt > maxFrameGap {
		dt = maxFrameGap
	}
	s.compass.Step(dt)
	s.needle.Step(dt)
	s.dirty = false
	s.seq++

	f := Frame{
		Session:         s.id,
		Seq:             s.seq,
		CompassRotation: qibla.NormalizeDegrees(s.compass.Position()),
		NeedleRotation:  qibla.NormalizeDegrees(s.needle.Position()),
		CompassTarget:   qibla.NormalizeDegrees(s.compassTarget),
		NeedleTarget:    s.needleTarget,
		Heading:         s.head.Degrees,
		Bearing:         s.bearing,
		Accuracy:        s.head.Accuracy,
		Simulated:       s.head.Simulated,
		Aligned:         InAlignmentBand(s.needleTarget, s.cfg.Alignment.Threshold),
		State:           s.state,
		Time:            now,
	}
	s.renderer.Render(f)
	metrics.FramesTotal.Inc()

	s.mu.Lock()
	s.snap.Frame = &f
	s.mu.Unlock()
}

func (s *Session) pulse(kind PulseKind, needle float64, now time.Time) {
	p := Pulse{
		ID:      uuid.NewString(),
		Session: s.id,
		Kind:    kind,
		Needle:  needle,
		Time:    now,
	}
	metrics.AlignmentPulsesTotal.WithLabelValues(string(kind)).Inc()
	s.notifier.Pulse(p)
}

func (s *Session) setState(st State) {
	if s.state != st {
		s.logger.Debug("session state", zap.Stringer("from", s.state), zap.Stringer("to", st))
	}
	s.state = st
	// Render one frame so renderers see the new state even at rest.
	s.dirty = true
	metrics.SessionState.Set(float64(st))
	s.publish()
}

// publish copies loop-owned state into the snapshot.
func (s *Session) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = s.state
	s.snap.Bearing = s.bearing
	s.snap.DistanceKm = s.distance
	s.snap.Source = s.sourceName
	if s.loc != nil {
		loc := *s.loc
		s.snap.Location = &loc
	}
	if s.haveHeading {
		h := s.head
		s.snap.Heading = &h
	}
}

func (s *Session) teardown() {
	if s.sub != nil {
		s.sub.Remove()
		s.sub = nil
	}
	s.setState(StateTornDown)
	close(s.done)
	s.logger.Info("session torn down")
}
