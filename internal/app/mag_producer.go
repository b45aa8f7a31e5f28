package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/metrics"
	"github.com/relabs-tech/qibla_compass/internal/mqttbus"
	"github.com/relabs-tech/qibla_compass/internal/sensors"
)

// samplePublisher is the bus capability the magnetometer producer needs.
type samplePublisher interface {
	PublishAsync(topic string, retained bool, v any)
}

// magPayload converts a reading into the producer schema.
func magPayload(v heading.Vector, t time.Time) heading.RemotePayload {
	return heading.RemotePayload{
		Mx:   v.X,
		My:   v.Y,
		Mz:   v.Z,
		Norm: v.Norm(),
		Time: t.UTC().Format(time.RFC3339Nano),
	}
}

// produceMag reads sensor every interval and publishes each reading on
// topic until ctx is done. Read errors are logged and skipped.
func produceMag(ctx context.Context, sensor heading.Sensor, bus samplePublisher, topic string, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			v, err := sensor.Sense()
			if err != nil {
				logger.Warn("magnetometer read error", zap.Error(err))
				continue
			}
			bus.PublishAsync(topic, false, magPayload(v, t))
			metrics.SamplesTotal.WithLabelValues("hmc5983").Inc()
		}
	}
}

// RunMagProducer reads the HMC5983 and publishes samples on TOPIC_MAG for
// a compass running with HEADING_SOURCE=mqtt on another host.
func RunMagProducer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	dev, i2cBus, err := sensors.OpenHMC5983(cfg.HMCI2CBus, HMCOpts(cfg))
	if err != nil {
		return err
	}
	defer i2cBus.Close()

	id, err := dev.ID()
	if err != nil {
		return err
	}
	logger.Info("hmc5983 ready",
		zap.String("id", id),
		zap.String("bus", cfg.HMCI2CBus),
		zap.Uint16("addr", cfg.HMCI2CAddr),
	)

	bus, err := mqttbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDMag, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	logger.Info("magnetometer producer started",
		zap.String("topic", cfg.TopicMag),
		zap.Duration("interval", cfg.MagSampleInterval),
	)
	produceMag(ctx, dev, bus, cfg.TopicMag, cfg.MagSampleInterval, logger)
	return nil
}
