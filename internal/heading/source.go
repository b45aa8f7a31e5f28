// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heading

import "sync"

// Handler receives samples from a Source. Handlers are invoked sequentially
// from a single goroutine per subscription and must not block for long.
type Handler func(Sample)

// Subscription is an active sample stream. Remove stops delivery; once it
// returns, the handler is not called again. A removed subscription cannot be
// restarted.
type Subscription interface {
	Remove()
}

// Source is anything that can stream magnetometer samples: real hardware,
// a remote sensor over MQTT, or a simulated ramp.
type Source interface {
	Name() string
	Subscribe(h Handler) (Subscription, error)
}

// loopSubscription runs a delivery goroutine until removed.
type loopSubscription struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newLoopSubscription() *loopSubscription {
	return &loopSubscription{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Remove signals the loop and waits for it to exit.
func (s *loopSubscription) Remove() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// funcSubscription wraps a release function.
type funcSubscription struct {
	once    sync.Once
	release func()
}

func (s *funcSubscription) Remove() {
	s.once.Do(s.release)
}
