package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/location"
	"github.com/relabs-tech/qibla_compass/internal/mqttbus"
	"github.com/relabs-tech/qibla_compass/internal/qibla"
)

type fakeBus struct {
	mu        sync.Mutex
	handlers  map[string]func([]byte)
	published map[string][]any
	failPub   error
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string]func([]byte){}, published: map[string][]any{}}
}

func (b *fakeBus) Subscribe(topic string, h func([]byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
	return func() {
		b.mu.Lock()
		delete(b.handlers, topic)
		b.mu.Unlock()
	}, nil
}

func (b *fakeBus) PublishJSON(topic string, _ bool, v any) error {
	if b.failPub != nil {
		return b.failPub
	}
	b.PublishAsync(topic, false, v)
	return nil
}

func (b *fakeBus) PublishAsync(topic string, _ bool, v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = append(b.published[topic], v)
}

func (b *fakeBus) deliver(topic string, v any) {
	payload, _ := json.Marshal(v)
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (b *fakeBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[topic])
}

func TestSessionConfig(t *testing.T) {
	cfg := config.Default()
	cfg.SpringStiffness = 120
	cfg.AlignThresholdDegrees = 3
	cfg.AccuracyLowThreshold = 12

	c := SessionConfig(cfg)
	require.NoError(t, c.Validate())
	assert.Equal(t, 120.0, c.Spring.Stiffness)
	assert.Equal(t, 1.0, c.Spring.Mass)
	assert.Equal(t, 3.0, c.Alignment.Threshold)
	assert.Equal(t, 12.0, c.Thresholds.Low)
	assert.Equal(t, 1500*time.Millisecond, c.Alignment.Cooldown)
	assert.Equal(t, 16*time.Millisecond, c.FrameInterval)
	assert.Equal(t, 3*time.Second, c.CalibrationDuration)
}

func TestSimulatedRampFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.SimStepDegrees = 2.5
	r := SimulatedRamp(cfg)
	assert.Equal(t, 2.5, r.Step)
	assert.Equal(t, 50*time.Millisecond, r.Interval)
	assert.Equal(t, 30.0, r.Strength)
}

func TestHMCOptsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.HMCODRHz = 75
	opts := HMCOpts(cfg)
	assert.Equal(t, uint16(0x1E), opts.Addr)
	assert.Equal(t, 75, opts.ODRHz)
	assert.Equal(t, "continuous", opts.Mode)
}

func TestHeadingSource(t *testing.T) {
	cfg := config.Default()
	log := zap.NewNop()

	src, release, err := HeadingSource(cfg, nil, log)
	require.NoError(t, err)
	release()
	assert.Equal(t, "simulated", src.Name())

	cfg.HeadingSource = config.HeadingMQTT
	_, _, err = HeadingSource(cfg, nil, log)
	assert.Error(t, err)

	src, _, err = HeadingSource(cfg, newFakeBus(), log)
	require.NoError(t, err)
	assert.Equal(t, "remote:qibla/mag", src.Name())

	cfg.HeadingSource = "compass"
	_, _, err = HeadingSource(cfg, nil, log)
	assert.Error(t, err)
}

func TestLocationProvider_Fixed(t *testing.T) {
	cfg := config.Default()
	cfg.LocationSource = config.LocationFixed
	cfg.LocationLatitude, cfg.LocationLongitude = 51.5074, -0.1278
	cfg.LocationName = "London"

	p, release, err := LocationProvider(context.Background(), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	defer release()

	loc, err := p.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "London", loc.Name)
	assert.Equal(t, "saved", loc.Source)
}

func TestLocationProvider_AutoPrefersMQTT(t *testing.T) {
	cfg := config.Default()
	cfg.LocationTimeout = 50 * time.Millisecond
	bus := newFakeBus()

	p, release, err := LocationProvider(context.Background(), cfg, bus, zap.NewNop())
	require.NoError(t, err)
	defer release()

	// no relayed fix yet: the saved location wins after the timeout
	loc, err := p.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "saved", loc.Source)

	bus.deliver(cfg.TopicLocation, location.Fix{Latitude: 40.7128, Longitude: -74.006, Validity: "A"})
	loc, err = p.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mqtt", loc.Source)
	assert.InDelta(t, 40.7128, loc.Latitude, 1e-9)

	release()
	bus.mu.Lock()
	assert.Empty(t, bus.handlers)
	bus.mu.Unlock()
}

func TestLocationProvider_GPSUnavailable(t *testing.T) {
	cfg := config.Default()
	cfg.LocationSource = config.LocationGPS
	cfg.GPSSerialPort = "/nonexistent/tty"

	p, release, err := LocationProvider(context.Background(), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	defer release()

	_, err = p.Locate(context.Background())
	assert.Error(t, err)
}

func TestLocationProvider_MQTTNeedsBus(t *testing.T) {
	cfg := config.Default()
	cfg.LocationSource = config.LocationMQTT
	_, _, err := LocationProvider(context.Background(), cfg, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestPublishFix(t *testing.T) {
	bus := newFakeBus()
	hook := publishFix(bus, "qibla/location", zap.NewNop())

	hook(location.Fix{Latitude: 1, Longitude: 2, Validity: "V"})
	assert.Equal(t, 0, bus.count("qibla/location"))

	hook(location.Fix{Latitude: 1, Longitude: 2, Validity: "A"})
	assert.Equal(t, 1, bus.count("qibla/location"))

	bus.failPub = errors.New("offline")
	hook(location.Fix{Latitude: 1, Longitude: 2, Validity: "A"})
	assert.Equal(t, 1, bus.count("qibla/location"))
}

type vectorSensor struct{ v heading.Vector }

func (s vectorSensor) Sense() (heading.Vector, error) { return s.v, nil }

func TestProduceMag(t *testing.T) {
	bus := newFakeBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		produceMag(ctx, vectorSensor{heading.Vector{X: 3, Y: 4}}, bus, "qibla/mag", time.Millisecond, zap.NewNop())
		close(done)
	}()

	require.Eventually(t, func() bool { return bus.count("qibla/mag") >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done

	bus.mu.Lock()
	p := bus.published["qibla/mag"][0].(heading.RemotePayload)
	bus.mu.Unlock()
	assert.Equal(t, 5.0, p.Norm)

	// the payload decodes back into the same sample
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	s, err := heading.DecodeRemote(raw)
	require.NoError(t, err)
	assert.Equal(t, heading.Vector{X: 3, Y: 4}, s.Vector)
}

func TestConsoleFormatters(t *testing.T) {
	b, _ := json.Marshal(mqttbus.HeadingMessage{Heading: 12.5, Accuracy: heading.AccuracyHigh})
	line, err := formatHeading(b)
	require.NoError(t, err)
	assert.Equal(t, "[HEAD]  HEADING= 12.50  ACCURACY=high", line)

	b, _ = json.Marshal(mqttbus.HeadingMessage{Heading: 1, Simulated: true, Accuracy: heading.AccuracyHigh})
	line, _ = formatHeading(b)
	assert.Contains(t, line, "ACCURACY=simulated")

	b, _ = json.Marshal(mqttbus.BearingMessage{
		Bearing:    58.48,
		DistanceKm: 10300.4,
		Location:   &location.Location{GeoPoint: qibla.GeoPoint{Latitude: 40.7128, Longitude: -74.006}, Name: "NYC", Source: "gps"},
	})
	line, err = formatBearing(b)
	require.NoError(t, err)
	assert.Equal(t, "[QIBLA] BEARING= 58.48  DIST=10300km  FROM=NYC (40.71280, -74.00600) via gps", line)

	b, _ = json.Marshal(compass.Pulse{Kind: compass.PulseAlignment, Needle: 2})
	line, err = formatPulse(b)
	require.NoError(t, err)
	assert.Equal(t, "[PULSE] alignment  NEEDLE=  2.00", line)

	_, err = formatPulse([]byte("{"))
	assert.Error(t, err)
}

func TestStateFormatter_OnlyChanges(t *testing.T) {
	f := stateFormatter()
	active, _ := json.Marshal(compass.Snapshot{Session: "s1", State: compass.StateActive})

	line, err := f(active)
	require.NoError(t, err)
	assert.Equal(t, "[STATE] active  SESSION=s1", line)

	line, err = f(active)
	require.NoError(t, err)
	assert.Empty(t, line)

	calibrating, _ := json.Marshal(compass.Snapshot{Session: "s1", State: compass.StateCalibrating})
	line, _ = f(calibrating)
	assert.Equal(t, "[STATE] calibrating  SESSION=s1", line)
}

func TestPrintHijri(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintHijri(&buf, time.Date(2025, time.March, 31, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-03-31  1 Shawwal 1446 AH (Monday)\n  Eid al-Fitr\n", buf.String())

	buf.Reset()
	require.NoError(t, PrintHijriEvents(&buf, 1446))
	out := buf.String()
	assert.Contains(t, out, "Mon 2024-07-08")
	assert.Contains(t, out, "Eid al-Adha *")
	assert.Contains(t, out, "1 Ramadan")

	assert.Error(t, PrintHijriEvents(&buf, 0))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunMockConsole(t *testing.T) {
	cfg := config.Default()
	cfg.SimStepInterval = time.Millisecond
	cfg.FrameInterval = time.Millisecond

	var out syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- RunMockConsole(ctx, cfg, zap.NewNop(), &out) }()

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("simulated"))
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
	assert.Contains(t, out.String(), "QIBLA=")
}

func TestFramePrinter_Throttles(t *testing.T) {
	var buf bytes.Buffer
	p := &framePrinter{w: &buf, interval: 100 * time.Millisecond}
	t0 := time.Unix(0, 0)
	p.Render(compass.Frame{Time: t0, Accuracy: heading.AccuracyLow})
	p.Render(compass.Frame{Time: t0.Add(50 * time.Millisecond)})
	p.Render(compass.Frame{Time: t0.Add(150 * time.Millisecond), Simulated: true})
	p.Pulse(compass.Pulse{Kind: compass.PulseCalibration, Needle: 1})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "low")
	assert.Contains(t, string(lines[1]), "simulated")
	assert.Equal(t, ">>> calibration pulse (needle 1.00)", string(lines[2]))
}
