// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package location

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Subscriber delivers raw payloads published on a topic.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) (unsubscribe func(), err error)
}

// Remote follows GPS fixes published by the GPS producer.
type Remote struct {
	topic  string
	logger *zap.Logger
	last   *latest
	stop   func()
}

// NewRemote subscribes to topic immediately so fixes published before the
// first Locate call are not missed.
func NewRemote(bus Subscriber, topic string, logger *zap.Logger) (*Remote, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Remote{
		topic:  topic,
		logger: logger.With(zap.String("topic", topic)),
		last:   newLatest(),
	}
	stop, err := bus.Subscribe(topic, r.handle)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %w", ErrUnavailable, topic, err)
	}
	r.stop = stop
	return r, nil
}

func (r *Remote) handle(payload []byte) {
	var f Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		r.logger.Warn("gps fix unmarshal error", zap.Error(err))
		return
	}
	loc, err := f.Location("mqtt")
	if err != nil {
		r.logger.Debug("ignoring fix", zap.Error(err))
		return
	}
	r.last.set(loc)
}

// Locate waits for the first valid relayed fix.
func (r *Remote) Locate(ctx context.Context) (Location, error) {
	return r.last.wait(ctx)
}

// Close unsubscribes.
func (r *Remote) Close() {
	if r.stop != nil {
		r.stop()
	}
}
