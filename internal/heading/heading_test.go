// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heading

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		strength float64
		want     Accuracy
	}{
		{0, AccuracyLow},
		{9.999, AccuracyLow},
		{10, AccuracyMedium},
		{24.999, AccuracyMedium},
		{25, AccuracyHigh},
		{60, AccuracyHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultThresholds.Classify(tt.strength), "strength=%v", tt.strength)
	}
}

func TestClassify_Monotonic(t *testing.T) {
	prev := AccuracyLow
	for s := 0.0; s < 100; s += 0.25 {
		got := DefaultThresholds.Classify(s)
		assert.GreaterOrEqual(t, int(got), int(prev), "strength=%v", s)
		prev = got
	}
}

func TestThresholds_Validate(t *testing.T) {
	require.NoError(t, DefaultThresholds.Validate())
	assert.Error(t, Thresholds{Low: 25, High: 10}.Validate())
	assert.Error(t, Thresholds{Low: 10, High: 10}.Validate())
	assert.Error(t, Thresholds{Low: -1, High: 10}.Validate())
}

func TestDegrees(t *testing.T) {
	tests := []struct {
		v    Vector
		want float64
	}{
		{Vector{X: 1}, 0},
		{Vector{Y: 1}, 90},
		{Vector{X: -1}, 180},
		{Vector{Y: -1}, 270},
		{Vector{X: 1, Y: -1}, 315},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Degrees(tt.v), 1e-9, "%+v", tt.v)
	}
}

func TestFromSample(t *testing.T) {
	now := time.Now()
	st := FromSample(Sample{Vector: Vector{X: 0, Y: 12, Z: 16}, Time: now}, DefaultThresholds)

	assert.InDelta(t, 90, st.Degrees, 1e-9)
	assert.InDelta(t, 20, st.Strength, 1e-9)
	assert.Equal(t, AccuracyMedium, st.Accuracy)
	assert.Equal(t, now, st.Time)
	assert.False(t, st.Simulated)
}

func TestAccuracy_JSON(t *testing.T) {
	b, err := json.Marshal(State{Accuracy: AccuracyHigh})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"accuracy":"high"`)

	var st State
	require.NoError(t, json.Unmarshal([]byte(`{"accuracy":"low"}`), &st))
	assert.Equal(t, AccuracyLow, st.Accuracy)

	assert.Error(t, json.Unmarshal([]byte(`{"accuracy":"great"}`), &st))
	assert.Equal(t, "Accuracy(9)", Accuracy(9).String())

	// zero value survives a round trip, e.g. a frame before any sample
	b, err = json.Marshal(State{})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &st))
	assert.Equal(t, Accuracy(0), st.Accuracy)
}

func TestSimulatedRamp_SampleAtRoundTrips(t *testing.T) {
	r := NewSimulatedRamp()
	for deg := 0.0; deg < 360; deg += 15 {
		s := r.SampleAt(deg, time.Time{})
		assert.InDelta(t, deg, Degrees(s.Vector), 1e-9)
		assert.InDelta(t, r.Strength, s.Norm(), 1e-9)
		assert.True(t, s.Simulated)
	}
}

func TestSimulatedRamp_Advances(t *testing.T) {
	r := &SimulatedRamp{Interval: time.Millisecond, Step: 1, Strength: 30, Start: 358}

	var mu sync.Mutex
	var got []float64
	sub, err := r.Subscribe(func(s Sample) {
		mu.Lock()
		got = append(got, Degrees(s.Vector))
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 4
	}, time.Second, time.Millisecond)
	sub.Remove()

	mu.Lock()
	defer mu.Unlock()
	assert.InDelta(t, 359, got[0], 1e-9)
	assert.InDelta(t, 0, got[1], 1e-9)
	assert.InDelta(t, 1, got[2], 1e-9)
	assert.InDelta(t, 2, got[3], 1e-9)
}

func TestSimulatedRamp_NoDeliveryAfterRemove(t *testing.T) {
	r := &SimulatedRamp{Interval: time.Millisecond, Step: 1, Strength: 30}

	var n atomic.Int64
	sub, err := r.Subscribe(func(Sample) { n.Add(1) })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return n.Load() > 0 }, time.Second, time.Millisecond)

	sub.Remove()
	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, n.Load())

	// second Remove is a no-op
	sub.Remove()
}

func TestSimulatedRamp_RejectsBadInterval(t *testing.T) {
	_, err := (&SimulatedRamp{}).Subscribe(func(Sample) {})
	assert.Error(t, err)
}

type fakeSensor struct {
	mu    sync.Mutex
	reads int
	v     Vector
	err   error
}

func (f *fakeSensor) Sense() (Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.v, f.err
}

func TestHardwareMagnetometer_Delivers(t *testing.T) {
	sensor := &fakeSensor{v: Vector{X: 20, Y: 20, Z: 5}}
	m, err := NewHardwareMagnetometer("fake", sensor, time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "fake", m.Name())

	samples := make(chan Sample, 16)
	sub, err := m.Subscribe(func(s Sample) {
		select {
		case samples <- s:
		default:
		}
	})
	require.NoError(t, err)
	defer sub.Remove()

	first := <-samples
	assert.Equal(t, sensor.v, first.Vector)
	assert.False(t, first.Simulated)

	select {
	case <-samples:
	case <-time.After(time.Second):
		t.Fatal("no polled sample")
	}
}

func TestHardwareMagnetometer_ProbeFailure(t *testing.T) {
	sensor := &fakeSensor{err: errors.New("i2c: nack")}
	m, err := NewHardwareMagnetometer("broken", sensor, time.Millisecond, nil)
	require.NoError(t, err)

	_, err = m.Subscribe(func(Sample) {})
	assert.EqualError(t, err, "i2c: nack")
}

func TestNewHardwareMagnetometer_Validation(t *testing.T) {
	_, err := NewHardwareMagnetometer("x", nil, time.Millisecond, nil)
	assert.Error(t, err)
	_, err = NewHardwareMagnetometer("x", &fakeSensor{}, 0, nil)
	assert.Error(t, err)
}

type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
	removed  int
}

func (b *fakeBus) Subscribe(topic string, handler func([]byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = map[string]func([]byte){}
	}
	b.handlers[topic] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, topic)
		b.removed++
	}, nil
}

func (b *fakeBus) publish(topic string, payload []byte) {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func TestRemoteMagnetometer(t *testing.T) {
	bus := &fakeBus{}
	m := NewRemoteMagnetometer(bus, "qibla/mag", zap.NewNop())
	assert.Equal(t, "remote:qibla/mag", m.Name())

	var got []Sample
	sub, err := m.Subscribe(func(s Sample) { got = append(got, s) })
	require.NoError(t, err)

	bus.publish("qibla/mag", []byte(`{"mx":0,"my":30,"mz":0,"norm":30,"time":"2026-10-19T10:00:00Z"}`))
	bus.publish("qibla/mag", []byte(`not json`))

	require.Len(t, got, 1)
	assert.InDelta(t, 90, Degrees(got[0].Vector), 1e-9)
	assert.Equal(t, 2026, got[0].Time.Year())

	sub.Remove()
	sub.Remove()
	assert.Equal(t, 1, bus.removed)

	bus.publish("qibla/mag", []byte(`{"mx":1}`))
	assert.Len(t, got, 1)
}

func TestRemoteMagnetometer_NoBus(t *testing.T) {
	_, err := NewRemoteMagnetometer(nil, "t", nil).Subscribe(func(Sample) {})
	assert.Error(t, err)
}
