package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/heading"
	"github.com/relabs-tech/qibla_compass/internal/location"
	"github.com/relabs-tech/qibla_compass/internal/qibla"
	"github.com/relabs-tech/qibla_compass/internal/sensors"
)

// Subscriber is the MQTT capability the heading and location sources need.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) (unsubscribe func(), err error)
}

// SessionConfig maps the file configuration onto the compass session.
func SessionConfig(cfg *config.Config) compass.Config {
	c := compass.DefaultConfig()
	c.Thresholds = heading.Thresholds{Low: cfg.AccuracyLowThreshold, High: cfg.AccuracyHighThreshold}
	c.Spring.Stiffness = cfg.SpringStiffness
	c.Spring.Damping = cfg.SpringDamping
	c.Alignment = compass.AlignmentConfig{
		Threshold: cfg.AlignThresholdDegrees,
		Release:   cfg.AlignReleaseDegrees,
		Cooldown:  cfg.AlignCooldown,
	}
	c.FrameInterval = cfg.FrameInterval
	c.CalibrationDuration = cfg.CalibrationDuration
	c.LocationRetry = cfg.LocationRetryInterval
	return c
}

// SimulatedRamp builds the simulated source from SIM_* keys.
func SimulatedRamp(cfg *config.Config) *heading.SimulatedRamp {
	r := heading.NewSimulatedRamp()
	r.Interval = cfg.SimStepInterval
	r.Step = cfg.SimStepDegrees
	r.Strength = cfg.SimFieldStrength
	return r
}

// HMCOpts maps the HMC_* keys onto the driver options.
func HMCOpts(cfg *config.Config) sensors.HMCOpts {
	opts := sensors.DefaultHMCOpts
	opts.Addr = cfg.HMCI2CAddr
	opts.GainCode = cfg.HMCGainCode
	opts.ODRHz = cfg.HMCODRHz
	opts.AvgSamples = cfg.HMCAvgSamples
	return opts
}

// HeadingSource picks the source named by HEADING_SOURCE. The returned
// release func closes hardware opened here. A nil source means "use the
// simulated fallback"; it is returned with the open error when the
// magnetometer cannot be reached, so the caller can log and carry on.
func HeadingSource(cfg *config.Config, bus Subscriber, logger *zap.Logger) (heading.Source, func(), error) {
	noop := func() {}
	switch cfg.HeadingSource {
	case config.HeadingSimulated:
		return SimulatedRamp(cfg), noop, nil

	case config.HeadingMQTT:
		if bus == nil {
			return nil, noop, fmt.Errorf("heading source %q needs MQTT_BROKER", cfg.HeadingSource)
		}
		return heading.NewRemoteMagnetometer(bus, cfg.TopicMag, logger), noop, nil

	case config.HeadingHMC5983:
		dev, i2cBus, err := sensors.OpenHMC5983(cfg.HMCI2CBus, HMCOpts(cfg))
		if err != nil {
			return nil, noop, err
		}
		src, err := heading.NewHardwareMagnetometer("hmc5983", dev, cfg.MagSampleInterval, logger)
		if err != nil {
			i2cBus.Close()
			return nil, noop, err
		}
		return src, func() { i2cBus.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unknown heading source %q", cfg.HeadingSource)
	}
}

// failedProvider reports the error that kept a provider from starting, so
// the session keeps waiting for a location instead of the daemon exiting.
type failedProvider struct{ err error }

func (p failedProvider) Locate(context.Context) (location.Location, error) {
	return location.Location{}, p.err
}

// LocationProvider builds the provider chain named by LOCATION_SOURCE:
//
//	auto:  gps (if a port is set), mqtt (if a bus is given), saved, Mecca
//	gps:   gps only
//	mqtt:  mqtt only
//	fixed: saved only
//
// GPS reading runs until ctx is done. The release func closes the serial
// port and MQTT subscription.
func LocationProvider(ctx context.Context, cfg *config.Config, bus Subscriber, logger *zap.Logger) (location.Provider, func(), error) {
	var (
		providers []location.Provider
		releases  []func()
	)
	release := func() {
		for _, r := range releases {
			r()
		}
	}

	useGPS := cfg.LocationSource == config.LocationGPS ||
		(cfg.LocationSource == config.LocationAuto && cfg.GPSSerialPort != "")
	useMQTT := cfg.LocationSource == config.LocationMQTT ||
		(cfg.LocationSource == config.LocationAuto && bus != nil)
	useSaved := cfg.LocationSource == config.LocationFixed || cfg.LocationSource == config.LocationAuto

	if useGPS {
		port, err := location.OpenSerial(location.SerialOptions{Port: cfg.GPSSerialPort, BaudRate: cfg.GPSBaudRate})
		if err != nil {
			logger.Warn("gps unavailable", zap.String("port", cfg.GPSSerialPort), zap.Error(err))
			if cfg.LocationSource == config.LocationGPS {
				providers = append(providers, failedProvider{err: err})
			}
		} else {
			g := location.NewGPS(port, logger.With(zap.String("component", "gps")))
			go func() {
				if err := g.Run(ctx); err != nil {
					logger.Warn("gps reader stopped", zap.Error(err))
				}
			}()
			providers = append(providers, g)
			releases = append(releases, func() { port.Close() })
		}
	}

	if useMQTT {
		if bus == nil {
			release()
			return nil, func() {}, fmt.Errorf("location source %q needs MQTT_BROKER", cfg.LocationSource)
		}
		r, err := location.NewRemote(bus, cfg.TopicLocation, logger)
		if err != nil {
			release()
			return nil, func() {}, err
		}
		providers = append(providers, r)
		releases = append(releases, r.Close)
	}

	if useSaved {
		saved, err := location.NewFixed(
			qibla.GeoPoint{Latitude: cfg.LocationLatitude, Longitude: cfg.LocationLongitude},
			cfg.LocationName, "saved")
		if err != nil {
			release()
			return nil, func() {}, err
		}
		providers = append(providers, saved)
	}

	if cfg.LocationSource == config.LocationAuto {
		mecca, err := location.NewFixed(location.Mecca.GeoPoint, location.Mecca.Name, location.Mecca.Source)
		if err != nil {
			release()
			return nil, func() {}, err
		}
		providers = append(providers, mecca)
	}

	if len(providers) == 0 {
		return nil, func() {}, fmt.Errorf("unknown location source %q", cfg.LocationSource)
	}
	if len(providers) == 1 {
		return providers[0], release, nil
	}
	return location.Chain{Providers: providers, Timeout: cfg.LocationTimeout}, release, nil
}
