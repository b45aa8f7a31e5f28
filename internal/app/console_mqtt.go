package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/mqttbus"
)

// consoleLine formats one MQTT message for the console. An empty line is
// not printed.
type consoleLine func(payload []byte) (line string, err error)

func formatHeading(payload []byte) (string, error) {
	var m mqttbus.HeadingMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}
	quality := m.Accuracy.String()
	if m.Simulated {
		quality = "simulated"
	}
	return fmt.Sprintf("[HEAD]  HEADING=%6.2f  ACCURACY=%s", m.Heading, quality), nil
}

func formatBearing(payload []byte) (string, error) {
	var m mqttbus.BearingMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}
	place := "unknown"
	if m.Location != nil {
		place = fmt.Sprintf("%s (%.5f, %.5f) via %s", m.Location.Name, m.Location.Latitude, m.Location.Longitude, m.Location.Source)
	}
	return fmt.Sprintf("[QIBLA] BEARING=%6.2f  DIST=%.0fkm  FROM=%s", m.Bearing, m.DistanceKm, place), nil
}

func formatPulse(payload []byte) (string, error) {
	var p compass.Pulse
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", err
	}
	return fmt.Sprintf("[PULSE] %s  NEEDLE=%6.2f", p.Kind, p.Needle), nil
}

// stateFormatter prints the session state only when it changes; the
// retained snapshot is republished every second.
func stateFormatter() consoleLine {
	var (
		mu   sync.Mutex
		last = compass.State(-1)
	)
	return func(payload []byte) (string, error) {
		var s compass.Snapshot
		if err := json.Unmarshal(payload, &s); err != nil {
			return "", err
		}
		mu.Lock()
		defer mu.Unlock()
		if s.State == last {
			return "", nil
		}
		last = s.State
		return fmt.Sprintf("[STATE] %s  SESSION=%s", s.State, s.Session), nil
	}
}

// RunConsoleMQTT prints the compass topics to w until ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, logger *zap.Logger, w io.Writer) error {
	bus, err := mqttbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	var mu sync.Mutex
	subs := []struct {
		topic  string
		format consoleLine
	}{
		{cfg.TopicState, stateFormatter()},
		{cfg.TopicBearing, formatBearing},
		{cfg.TopicHeading, formatHeading},
		{cfg.TopicPulse, formatPulse},
	}
	for _, s := range subs {
		topic, format := s.topic, s.format
		unsubscribe, err := bus.Subscribe(topic, func(payload []byte) {
			line, err := format(payload)
			if err != nil {
				logger.Warn("console: unmarshal error", zap.String("topic", topic), zap.Error(err))
				return
			}
			if line == "" {
				return
			}
			mu.Lock()
			fmt.Fprintln(w, line)
			mu.Unlock()
		})
		if err != nil {
			return err
		}
		defer unsubscribe()
		logger.Info("console: subscribed", zap.String("topic", topic))
	}

	<-ctx.Done()
	return nil
}
