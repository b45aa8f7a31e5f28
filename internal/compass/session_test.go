// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package compass

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/location"
	"github.com/relabs-tech/qibla_compass/internal/qibla"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
	// bearing from (0°, 0°)
	equatorBearing = 58.508227348881576
)

var equator = location.Location{GeoPoint: qibla.GeoPoint{}, Name: "Null Island", Source: "test"}

// fakeSource is its own subscription.
type fakeSource struct {
	name string
	err  error

	mu      sync.Mutex
	handler heading.Handler
	subs    int
	removed bool
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Subscribe(h heading.Handler) (heading.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.subs++
	return f, nil
}

func (f *fakeSource) Remove() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	f.removed = true
}

func (f *fakeSource) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

func (f *fakeSource) isRemoved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed
}

// emit delivers a sample pointing the device at deg.
func (f *fakeSource) emit(deg, strength float64) bool {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	rad := deg * math.Pi / 180
	h(heading.Sample{
		Vector: heading.Vector{X: strength * math.Cos(rad), Y: strength * math.Sin(rad)},
		Time:   time.Now(),
	})
	return true
}

type fakeLocator struct {
	mu    sync.Mutex
	fails int
	calls int
	loc   location.Location
}

func (l *fakeLocator) Locate(ctx context.Context) (location.Location, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls <= l.fails {
		return location.Location{}, location.ErrPermissionDenied
	}
	return l.loc, nil
}

func (l *fakeLocator) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type recorder struct {
	mu     sync.Mutex
	frames []Frame
	pulses []Pulse
}

func (r *recorder) Render(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) Pulse(p Pulse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pulses = append(r.pulses, p)
}

func (r *recorder) lastFrame() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}

func (r *recorder) sawState(st State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.frames {
		if f.State == st {
			return true
		}
	}
	return false
}

func (r *recorder) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recorder) pulsesOf(kind PulseKind) []Pulse {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Pulse
	for _, p := range r.pulses {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FrameInterval = time.Millisecond
	cfg.CalibrationDuration = 30 * time.Millisecond
	cfg.LocationRetry = 5 * time.Millisecond
	cfg.Alignment.Cooldown = 0
	return cfg
}

type harness struct {
	session *Session
	source  *fakeSource
	locator *fakeLocator
	rec     *recorder
	cancel  context.CancelFunc
	result  chan error
}

func startSession(t *testing.T, cfg Config, source, fallback *fakeSource, locator *fakeLocator) *harness {
	t.Helper()
	rec := &recorder{}
	deps := Deps{
		Locator:  locator,
		Renderer: rec,
		Notifier: rec,
		Logger:   zap.NewNop(),
	}
	if source != nil {
		deps.Source = source
	}
	if fallback != nil {
		deps.Fallback = fallback
	}
	s, err := NewSession(cfg, deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{session: s, source: source, locator: locator, rec: rec, cancel: cancel, result: make(chan error, 1)}
	go func() { h.result <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.session.Snapshot().State == want }, waitFor, tick,
		"state never became %s", want)
}

func TestSession_Lifecycle(t *testing.T) {
	src := &fakeSource{name: "fake"}
	h := startSession(t, testConfig(), src, nil, &fakeLocator{loc: equator})

	h.waitState(t, StateActive)
	require.True(t, src.subscribed())

	snap := h.session.Snapshot()
	assert.Equal(t, h.session.ID(), snap.Session)
	assert.InDelta(t, equatorBearing, snap.Bearing, 1e-9)
	assert.Positive(t, snap.DistanceKm)
	assert.Equal(t, "fake", snap.Source)
	require.NotNil(t, snap.Location)
	assert.Equal(t, "Null Island", snap.Location.Name)

	require.True(t, src.emit(0, 40))
	require.Eventually(t, func() bool {
		f, ok := h.rec.lastFrame()
		return ok && math.Abs(f.NeedleRotation-equatorBearing) < 1e-6 && f.CompassRotation == 0
	}, waitFor, tick, "springs never settled on the targets")

	f, _ := h.rec.lastFrame()
	assert.Equal(t, h.session.ID(), f.Session)
	assert.Equal(t, heading.AccuracyHigh, f.Accuracy)
	assert.InDelta(t, equatorBearing, f.NeedleTarget, 1e-9)
	assert.False(t, f.Aligned)
	assert.Empty(t, h.rec.pulsesOf(PulseAlignment))

	h.cancel()
	select {
	case err := <-h.result:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StateTornDown, h.session.Snapshot().State)
	assert.True(t, src.isRemoved())
	assert.False(t, src.emit(10, 40), "no delivery after teardown")
}

func TestSession_FramesStopAtRest(t *testing.T) {
	src := &fakeSource{name: "fake"}
	h := startSession(t, testConfig(), src, nil, &fakeLocator{loc: equator})
	h.waitState(t, StateActive)
	require.True(t, src.emit(100, 40))

	require.Eventually(t, func() bool {
		f, ok := h.rec.lastFrame()
		return ok &&
			math.Abs(f.CompassRotation-f.CompassTarget) < 1e-9 &&
			math.Abs(f.NeedleRotation-f.NeedleTarget) < 1e-9
	}, waitFor, tick)
	f, _ := h.rec.lastFrame()
	assert.InDelta(t, 260, f.CompassRotation, 1e-9)

	n := h.rec.frameCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, h.rec.frameCount(), "no frames while both springs rest")
}

func TestSession_AlignmentPulse(t *testing.T) {
	src := &fakeSource{name: "fake"}
	h := startSession(t, testConfig(), src, nil, &fakeLocator{loc: equator})
	h.waitState(t, StateActive)

	require.True(t, src.emit(equatorBearing-2, 40))
	require.Eventually(t, func() bool { return len(h.rec.pulsesOf(PulseAlignment)) == 1 }, waitFor, tick)

	// staying in the band does not buzz
	for i := 0; i < 5; i++ {
		src.emit(equatorBearing+1, 40)
	}
	require.Eventually(t, func() bool {
		snap := h.session.Snapshot()
		return snap.Heading != nil && math.Abs(snap.Heading.Degrees-(equatorBearing+1)) < 1e-9
	}, waitFor, tick)
	assert.Len(t, h.rec.pulsesOf(PulseAlignment), 1)

	// leave and come back
	src.emit(equatorBearing+90, 40)
	src.emit(equatorBearing, 40)
	require.Eventually(t, func() bool { return len(h.rec.pulsesOf(PulseAlignment)) == 2 }, waitFor, tick)

	p := h.rec.pulsesOf(PulseAlignment)[1]
	assert.Equal(t, h.session.ID(), p.Session)
	assert.NotEmpty(t, p.ID)
	assert.True(t, InAlignmentBand(p.Needle, 1e-6), "needle=%v", p.Needle)
}

func TestSession_AwaitingLocationSuppressesUpdates(t *testing.T) {
	src := &fakeSource{name: "fake"}
	loc := &fakeLocator{fails: 1 << 30}
	h := startSession(t, testConfig(), src, nil, loc)

	h.waitState(t, StateAwaitingLocation)
	require.Eventually(t, func() bool { return loc.callCount() >= 3 }, waitFor, tick, "locate is retried")
	assert.False(t, src.subscribed(), "no sensor subscription without a bearing")
	assert.ErrorIs(t, h.session.Calibrate(context.Background()), ErrNotActive)
	assert.Zero(t, h.rec.frameCount())

	mecca := location.Mecca
	mecca.GeoPoint = qibla.GeoPoint{Latitude: 40.7128, Longitude: -74.0060}
	mecca.Name = "New York"
	require.NoError(t, h.session.SetLocation(context.Background(), mecca))
	h.waitState(t, StateActive)
	assert.True(t, src.subscribed())
	assert.InDelta(t, 58.481706, h.session.Snapshot().Bearing, 1e-6)
}

// gatedLocator blocks until release is closed, then returns loc.
type gatedLocator struct {
	loc     location.Location
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *gatedLocator) Locate(ctx context.Context) (location.Location, error) {
	l.once.Do(func() { close(l.started) })
	select {
	case <-l.release:
		return l.loc, nil
	case <-ctx.Done():
		return location.Location{}, ctx.Err()
	}
}

func TestSession_UserLocationWinsOverLateLocate(t *testing.T) {
	gate := &gatedLocator{loc: location.Mecca, started: make(chan struct{}), release: make(chan struct{})}
	rec := &recorder{}
	s, err := NewSession(testConfig(), Deps{Locator: gate, Fallback: &fakeSource{name: "fake"}, Renderer: rec, Notifier: rec})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	<-gate.started
	london := location.Location{GeoPoint: qibla.GeoPoint{Latitude: 51.5074, Longitude: -0.1278}, Name: "London", Source: "user"}
	require.NoError(t, s.SetLocation(context.Background(), london))
	require.Eventually(t, func() bool { return s.Snapshot().State == StateActive }, waitFor, tick)
	want := s.Snapshot().Bearing

	close(gate.release)
	assert.Never(t, func() bool {
		loc := s.Snapshot().Location
		return loc == nil || loc.Source != "user"
	}, 100*time.Millisecond, tick, "late locate replaced the user location")

	snap := s.Snapshot()
	require.NotNil(t, snap.Location)
	assert.Equal(t, "user", snap.Location.Source)
	assert.Equal(t, "London", snap.Location.Name)
	assert.InDelta(t, want, snap.Bearing, 1e-9)
	assert.NotZero(t, snap.Bearing)
}

func TestSession_SetLocationRejectsInvalid(t *testing.T) {
	h := startSession(t, testConfig(), &fakeSource{name: "fake"}, nil, &fakeLocator{loc: equator})
	err := h.session.SetLocation(context.Background(), location.Location{GeoPoint: qibla.GeoPoint{Latitude: 91}})
	assert.ErrorIs(t, err, qibla.ErrInvalidInput)
}

func TestSession_FallsBackToSimulated(t *testing.T) {
	broken := &fakeSource{name: "hmc5983", err: errors.New("i2c: no device")}
	sim := &fakeSource{name: "simulated"}
	h := startSession(t, testConfig(), broken, sim, &fakeLocator{loc: equator})

	h.waitState(t, StateActive)
	assert.Equal(t, "simulated", h.session.Snapshot().Source)
	assert.True(t, sim.subscribed())
}

func TestSession_RealSimulatedRamp(t *testing.T) {
	rec := &recorder{}
	ramp := heading.NewSimulatedRamp()
	ramp.Interval = time.Millisecond
	s, err := NewSession(testConfig(), Deps{Locator: &fakeLocator{loc: equator}, Fallback: ramp, Renderer: rec})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		f, ok := rec.lastFrame()
		return ok && f.Simulated
	}, waitFor, tick)
	cancel()
	require.NoError(t, <-done)
}

func TestSession_Calibrate(t *testing.T) {
	src := &fakeSource{name: "fake"}
	h := startSession(t, testConfig(), src, nil, &fakeLocator{loc: equator})
	h.waitState(t, StateActive)
	src.emit(0, 40)

	require.NoError(t, h.session.Calibrate(context.Background()))
	assert.Equal(t, StateCalibrating, h.session.Snapshot().State)
	require.Len(t, h.rec.pulsesOf(PulseCalibration), 1, "pulse fires when calibration starts")
	assert.ErrorIs(t, h.session.Calibrate(context.Background()), ErrCalibrating)

	// samples keep flowing while calibrating
	require.True(t, src.emit(45, 40))
	require.Eventually(t, func() bool { return h.rec.sawState(StateCalibrating) }, waitFor, tick)

	h.waitState(t, StateActive)
	require.Len(t, h.rec.pulsesOf(PulseCalibration), 1)
	assert.InDelta(t, equatorBearing, h.session.Snapshot().Bearing, 1e-9, "calibration changes no computed value")
	assert.InDelta(t, 45, h.session.Snapshot().Heading.Degrees, 1e-9)
}

func TestSession_AfterTeardown(t *testing.T) {
	src := &fakeSource{name: "fake"}
	h := startSession(t, testConfig(), src, nil, &fakeLocator{loc: equator})
	h.waitState(t, StateActive)

	h.cancel()
	<-h.session.Done()

	assert.ErrorIs(t, h.session.Calibrate(context.Background()), ErrTornDown)
	assert.ErrorIs(t, h.session.SetLocation(context.Background(), equator), ErrTornDown)
	assert.ErrorIs(t, h.session.Run(context.Background()), ErrAlreadyStarted)
}

func TestSession_CalibrateBeforeRun(t *testing.T) {
	s, err := NewSession(testConfig(), Deps{Locator: &fakeLocator{loc: equator}})
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, s.Snapshot().State)
	assert.ErrorIs(t, s.Calibrate(context.Background()), ErrNotActive)
}

func TestSession_DropsOldestSample(t *testing.T) {
	cfg := testConfig()
	cfg.SampleBuffer = 2
	s, err := NewSession(cfg, Deps{Locator: &fakeLocator{loc: equator}})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s.enqueue(heading.Sample{Vector: heading.Vector{X: float64(i)}})
	}
	require.Len(t, s.samples, 2)
	assert.Equal(t, 3.0, (<-s.samples).X)
	assert.Equal(t, 4.0, (<-s.samples).X)
}

func TestNewSession_Validation(t *testing.T) {
	_, err := NewSession(testConfig(), Deps{})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.FrameInterval = 0
	cfg.Thresholds = heading.Thresholds{Low: 30, High: 20}
	_, err = NewSession(cfg, Deps{Locator: &fakeLocator{}})
	assert.ErrorContains(t, err, "frame interval")
	assert.ErrorContains(t, err, "accuracy thresholds")
}
