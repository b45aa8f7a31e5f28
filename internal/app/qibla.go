package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/qibla_compass/internal/adhkar"
	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/metrics"
	"github.com/relabs-tech/qibla_compass/internal/mqttbus"
	"github.com/relabs-tech/qibla_compass/internal/web"
)

// snapshotInterval is how often the retained session state is republished.
const snapshotInterval = time.Second

// RunQibla runs the compass service: one session fed by the configured
// heading and location sources, published over MQTT (when a broker is
// configured), HTTP and WebSocket. It returns when ctx is done.
func RunQibla(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics.Register()

	var bus *mqttbus.Bus
	if cfg.MQTTBroker != "" {
		b, err := mqttbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDQibla, logger)
		if err != nil {
			return err
		}
		defer b.Close()
		bus = b
	} else {
		logger.Info("MQTT_BROKER not set, MQTT publishing disabled")
	}

	// A typed nil *Bus must not reach the sources as a non-nil interface.
	var sub Subscriber
	if bus != nil {
		sub = bus
	}

	source, closeSource, err := HeadingSource(cfg, sub, logger)
	if err != nil {
		if cfg.HeadingSource != config.HeadingHMC5983 {
			return err
		}
		logger.Warn("magnetometer unavailable, using simulated heading", zap.Error(err))
		metrics.SensorFallbacksTotal.Inc()
		source = nil
	}
	defer closeSource()

	locator, closeLocator, err := LocationProvider(ctx, cfg, sub, logger)
	if err != nil {
		return err
	}
	defer closeLocator()

	hub := web.NewHub(logger)
	renderers := compass.Renderers{hub}
	notifiers := compass.Notifiers{compass.LogNotifier{Logger: logger}, hub}

	var publisher *mqttbus.CompassPublisher
	if bus != nil {
		publisher = mqttbus.NewCompassPublisher(bus, mqttbus.Topics{
			Frame:   cfg.TopicFrame,
			Heading: cfg.TopicHeading,
			Bearing: cfg.TopicBearing,
			Pulse:   cfg.TopicPulse,
			State:   cfg.TopicState,
		})
		publisher.MinInterval = cfg.DisplayUpdateInterval / 2
		renderers = append(renderers, publisher)
		notifiers = append(notifiers, publisher)
	}

	session, err := compass.NewSession(SessionConfig(cfg), compass.Deps{
		Source:   source,
		Fallback: SimulatedRamp(cfg),
		Locator:  locator,
		Renderer: renderers,
		Notifier: notifiers,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	logger.Info("compass session created",
		zap.String("session", session.ID()),
		zap.String("heading_source", cfg.HeadingSource),
		zap.String("location_source", cfg.LocationSource),
	)

	server := web.NewServer(session, hub, logger)
	server.StaticDir = cfg.WebStaticDir
	if catalog, err := adhkar.Load(); err != nil {
		logger.Warn("adhkar catalog unavailable", zap.Error(err))
	} else {
		server.Adhkar = catalog
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(gctx)
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx, fmt.Sprintf(":%d", cfg.WebServerPort))
	})
	if publisher != nil {
		g.Go(func() error {
			ticker := time.NewTicker(snapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-session.Done():
					publisher.PublishSnapshot(session.Snapshot())
					return nil
				case <-ticker.C:
					publisher.PublishSnapshot(session.Snapshot())
				}
			}
		})
	}

	err = g.Wait()
	logger.Info("compass service stopped", zap.Error(err))
	return err
}
