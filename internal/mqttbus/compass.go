// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mqttbus

import (
	"sync"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/location"
)

// Topics are the compass topics the service publishes on.
type Topics struct {
	Frame   string
	Heading string
	Bearing string
	Pulse   string
	State   string
}

// HeadingMessage is published on the heading topic with every frame.
type HeadingMessage struct {
	Heading   float64          `json:"heading"`
	Accuracy  heading.Accuracy `json:"accuracy"`
	Simulated bool             `json:"simulated,omitempty"`
	Time      time.Time        `json:"time"`
}

// BearingMessage is published, retained, whenever the location changes.
type BearingMessage struct {
	Session    string             `json:"session"`
	Bearing    float64            `json:"bearing"`
	DistanceKm float64            `json:"distance_km"`
	Location   *location.Location `json:"location,omitempty"`
}

type asyncPublisher interface {
	PublishAsync(topic string, retained bool, v any)
}

// CompassPublisher is a compass.Renderer and compass.Notifier that
// forwards frames and pulses to MQTT.
type CompassPublisher struct {
	bus    asyncPublisher
	topics Topics
	// MinInterval throttles frames that follow the previous published one
	// too closely. The newest throttled frame is held and published once
	// the interval has passed, so subscribers always end on the latest
	// frame. State changes and resting frames are never throttled. Zero
	// publishes every frame.
	MinInterval time.Duration

	mu          sync.Mutex
	lastFrame   time.Time
	lastState   compass.State
	lastBearing *BearingMessage
	pending     *compass.Frame
	flush       *time.Timer
}

// NewCompassPublisher publishes on bus using topics. Empty topics are
// skipped.
func NewCompassPublisher(bus *Bus, topics Topics) *CompassPublisher {
	return &CompassPublisher{bus: bus, topics: topics}
}

func (p *CompassPublisher) Render(f compass.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	since := f.Time.Sub(p.lastFrame)
	if p.MinInterval > 0 && since < p.MinInterval && f.State == p.lastState && !f.AtRest() {
		p.pending = &f
		if p.flush == nil {
			p.flush = time.AfterFunc(p.MinInterval-since, p.flushPending)
		}
		return
	}
	p.publishFrame(f)
}

// flushPending publishes the held frame unless a newer one went out first.
func (p *CompassPublisher) flushPending() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.flush = nil
	if p.pending != nil {
		p.publishFrame(*p.pending)
	}
}

// publishFrame must be called with p.mu held so frames leave in order.
func (p *CompassPublisher) publishFrame(f compass.Frame) {
	p.lastFrame = f.Time
	p.lastState = f.State
	p.pending = nil
	if p.flush != nil {
		p.flush.Stop()
		p.flush = nil
	}

	p.publish(p.topics.Frame, false, f)
	p.publish(p.topics.Heading, false, HeadingMessage{
		Heading:   f.Heading,
		Accuracy:  f.Accuracy,
		Simulated: f.Simulated,
		Time:      f.Time,
	})
}

func (p *CompassPublisher) Pulse(pl compass.Pulse) {
	p.publish(p.topics.Pulse, false, pl)
}

// PublishSnapshot publishes the session state (retained) and, when the
// location changed, the bearing (retained).
func (p *CompassPublisher) PublishSnapshot(s compass.Snapshot) {
	s.Frame = nil
	p.publish(p.topics.State, true, s)

	if s.Location == nil {
		return
	}
	msg := BearingMessage{Session: s.Session, Bearing: s.Bearing, DistanceKm: s.DistanceKm, Location: s.Location}

	p.mu.Lock()
	same := p.lastBearing != nil &&
		p.lastBearing.Bearing == msg.Bearing &&
		p.lastBearing.Location.GeoPoint == msg.Location.GeoPoint
	if !same {
		p.lastBearing = &msg
	}
	p.mu.Unlock()

	if !same {
		p.publish(p.topics.Bearing, true, msg)
	}
}

func (p *CompassPublisher) publish(topic string, retained bool, v any) {
	if topic == "" {
		return
	}
	p.bus.PublishAsync(topic, retained, v)
}
