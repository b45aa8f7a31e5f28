package app

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/display"
	"github.com/relabs-tech/qibla_compass/internal/mqttbus"
)

// RunDisplay draws the compass published by the qibla service on an
// SSD1306 OLED until ctx is done.
func RunDisplay(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	i2cBus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus %q: %w", cfg.DisplayI2CBus, err)
	}
	defer i2cBus.Close()

	dev, err := ssd1306.NewI2C(i2cBus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	logger.Info("display initialized", zap.String("bus", cfg.DisplayI2CBus))

	var model display.Model
	if err := draw(dev, model.View(time.Now())); err != nil {
		logger.Warn("display: splash", zap.Error(err))
	}

	bus, err := mqttbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDDisplay, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	handlers := map[string]func([]byte) error{
		cfg.TopicState: model.HandleState,
		cfg.TopicFrame: model.HandleFrame,
		cfg.TopicPulse: model.HandlePulse,
	}
	for topic, handle := range handlers {
		unsubscribe, err := bus.Subscribe(topic, func(payload []byte) {
			if err := handle(payload); err != nil {
				logger.Warn("display: unmarshal error", zap.String("topic", topic), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		defer unsubscribe()
	}

	ticker := time.NewTicker(cfg.DisplayUpdateInterval)
	defer ticker.Stop()
	logger.Info("display: starting update loop", zap.Duration("interval", cfg.DisplayUpdateInterval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := draw(dev, model.View(now)); err != nil {
				logger.Warn("display: update", zap.Error(err))
			}
		}
	}
}

func draw(dev *ssd1306.Dev, v display.View) error {
	return dev.Draw(dev.Bounds(), display.Render(v), image.Point{})
}
