// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mqttbus wraps the paho MQTT client used by every daemon: JSON
// publishing, handler-style subscriptions and the compass frame/pulse
// publisher.
package mqttbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt operation timed out")

const (
	defaultTimeout = 5 * time.Second
	disconnectMs   = 250
)

// client is the part of mqtt.Client the bus uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

// Bus is a connected MQTT client.
type Bus struct {
	client  client
	logger  *zap.Logger
	qos     byte
	timeout time.Duration
}

// Connect dials broker and returns a bus once the connection is up. The
// client reconnects on its own after a drop.
func Connect(broker, clientID string, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("broker", broker), zap.String("client_id", clientID))

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(defaultTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("connected to MQTT broker")
		})

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return newBus(c, logger), nil
}

func newBus(c client, logger *zap.Logger) *Bus {
	return &Bus{client: c, logger: logger, timeout: defaultTimeout}
}

// Subscribe calls handler with the payload of every message on topic. It
// returns a function that unsubscribes. Handlers run on paho's goroutine
// and must not block.
func (b *Bus) Subscribe(topic string, handler func(payload []byte)) (func(), error) {
	token := b.client.Subscribe(topic, b.qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if err := b.wait(token); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	b.logger.Info("subscribed", zap.String("topic", topic))

	return func() {
		if err := b.wait(b.client.Unsubscribe(topic)); err != nil {
			b.logger.Warn("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}, nil
}

// PublishJSON marshals v and publishes it, waiting for the broker.
func (b *Bus) PublishJSON(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	if err := b.wait(b.client.Publish(topic, b.qos, retained, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishAsync marshals v and hands it to the client without waiting.
// Failures are logged.
func (b *Bus) PublishAsync(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("marshal payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	token := b.client.Publish(topic, b.qos, retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			b.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
		}
	default:
	}
}

// Close disconnects, giving in-flight messages a short grace period.
func (b *Bus) Close() {
	b.client.Disconnect(disconnectMs)
}

func (b *Bus) wait(token mqtt.Token) error {
	if !token.WaitTimeout(b.timeout) {
		return ErrTimeout
	}
	return token.Error()
}
