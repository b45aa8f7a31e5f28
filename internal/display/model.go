// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package display

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/hijri"
)

// pulseHold is how long the dial stays inverted after a pulse.
const pulseHold = 400 * time.Millisecond

// Model keeps the latest compass messages received over MQTT. Handlers
// are called from MQTT goroutines; View is called from the draw loop.
type Model struct {
	mu sync.RWMutex
	// state is taken from whichever of frame and snapshot arrived last.
	state     compass.State
	snap      compass.Snapshot
	haveSnap  bool
	frame     compass.Frame
	haveFrame bool
	pulseAt   time.Time
}

// HandleState decodes a retained session snapshot.
func (m *Model) HandleState(payload []byte) error {
	var s compass.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	m.mu.Lock()
	m.snap = s
	m.haveSnap = true
	m.state = s.State
	m.mu.Unlock()
	return nil
}

// HandleFrame decodes a compass frame.
func (m *Model) HandleFrame(payload []byte) error {
	var f compass.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	m.mu.Lock()
	m.frame = f
	m.haveFrame = true
	m.state = f.State
	m.mu.Unlock()
	return nil
}

// HandlePulse records an alignment pulse.
func (m *Model) HandlePulse(payload []byte) error {
	var p compass.Pulse
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode pulse: %w", err)
	}
	if p.Kind != compass.PulseAlignment {
		return nil
	}
	m.mu.Lock()
	m.pulseAt = p.Time
	m.mu.Unlock()
	return nil
}

// View builds the screen contents at now.
func (m *Model) View(now time.Time) View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v := View{
		State:   m.state,
		Bearing: m.snap.Bearing,
		HasFix:  m.haveSnap && m.snap.Location != nil,
		Pulse:   !m.pulseAt.IsZero() && now.Sub(m.pulseAt) < pulseHold,
	}
	if m.snap.Location != nil {
		v.Place = m.snap.Location.Name
	}
	if m.haveFrame {
		f := m.frame
		v.Frame = &f
		v.HasFix = true
	}
	if d, err := hijri.Convert(now); err == nil {
		v.HijriDate = fmt.Sprintf("%d-%02d-%02d AH", d.Year, int(d.Month), d.Day)
	}
	return v
}
