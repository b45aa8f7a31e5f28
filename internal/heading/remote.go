// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heading

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Subscriber delivers raw payloads published on a topic. It is satisfied by
// the MQTT bus.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) (unsubscribe func(), err error)
}

// RemotePayload is the JSON schema published by the magnetometer producer.
// mx, my, mz are in µT.
type RemotePayload struct {
	Mx   float64 `json:"mx"`
	My   float64 `json:"my"`
	Mz   float64 `json:"mz"`
	Norm float64 `json:"norm"`
	Time string  `json:"time"`
}

// RemoteMagnetometer streams samples published by a magnetometer on
// another host.
type RemoteMagnetometer struct {
	bus    Subscriber
	topic  string
	logger *zap.Logger
}

// NewRemoteMagnetometer subscribes to topic on bus when Subscribe is called.
func NewRemoteMagnetometer(bus Subscriber, topic string, logger *zap.Logger) *RemoteMagnetometer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteMagnetometer{
		bus:    bus,
		topic:  topic,
		logger: logger.With(zap.String("source", "remote"), zap.String("topic", topic)),
	}
}

func (m *RemoteMagnetometer) Name() string { return "remote:" + m.topic }

// DecodeRemote parses a producer payload into a Sample.
func DecodeRemote(payload []byte) (Sample, error) {
	var p RemotePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Sample{}, fmt.Errorf("decode magnetometer payload: %w", err)
	}
	ts := time.Now()
	if p.Time != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, p.Time); err == nil {
			ts = parsed
		}
	}
	return Sample{Vector: Vector{X: p.Mx, Y: p.My, Z: p.Mz}, Time: ts}, nil
}

func (m *RemoteMagnetometer) Subscribe(h Handler) (Subscription, error) {
	if m.bus == nil {
		return nil, fmt.Errorf("remote magnetometer %s: no bus", m.topic)
	}
	unsubscribe, err := m.bus.Subscribe(m.topic, func(payload []byte) {
		s, err := DecodeRemote(payload)
		if err != nil {
			m.logger.Warn("dropping sample", zap.Error(err))
			return
		}
		h(s)
	})
	if err != nil {
		return nil, fmt.Errorf("remote magnetometer %s: %w", m.topic, err)
	}
	return &funcSubscription{release: unsubscribe}, nil
}
