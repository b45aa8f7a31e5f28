package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/location"
	"github.com/relabs-tech/qibla_compass/internal/metrics"
	"github.com/relabs-tech/qibla_compass/internal/mqttbus"
)

// fixPublisher is the bus capability the GPS producer needs.
type fixPublisher interface {
	PublishJSON(topic string, retained bool, v any) error
}

// publishFix returns the OnFix hook that relays RMC fixes to topic. Fixes
// are retained so a compass started later gets the last position at once.
func publishFix(bus fixPublisher, topic string, logger *zap.Logger) func(location.Fix) {
	return func(fix location.Fix) {
		if !fix.Valid() {
			logger.Debug("no gps lock", zap.String("validity", fix.Validity))
			return
		}
		if err := bus.PublishJSON(topic, true, fix); err != nil {
			logger.Warn("gps publish error", zap.Error(err))
			metrics.LocationFailuresTotal.Inc()
			return
		}
		logger.Debug("published gps fix",
			zap.Float64("lat", fix.Latitude),
			zap.Float64("lon", fix.Longitude),
			zap.String("time", fix.Time),
		)
	}
}

// RunGPSProducer opens the GPS serial port, parses NMEA sentences and
// publishes every valid RMC fix as JSON on TOPIC_LOCATION.
func RunGPSProducer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	bus, err := mqttbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDGPS, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	port, err := location.OpenSerial(location.SerialOptions{Port: cfg.GPSSerialPort, BaudRate: cfg.GPSBaudRate})
	if err != nil {
		return err
	}
	logger.Info("gps serial port opened",
		zap.String("port", cfg.GPSSerialPort),
		zap.Int("baud", cfg.GPSBaudRate),
	)

	// Closing the port unblocks the pending read.
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer func() {
		if stop() {
			port.Close()
		}
	}()

	g := location.NewGPS(port, logger)
	g.OnFix = publishFix(bus, cfg.TopicLocation, logger)
	if err := g.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
