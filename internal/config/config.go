package config

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Heading sources.
const (
	HeadingHMC5983   = "hmc5983"
	HeadingMQTT      = "mqtt"
	HeadingSimulated = "simulated"
)

// Location sources.
const (
	LocationAuto  = "auto"  // gps, then the saved location, then Mecca
	LocationGPS   = "gps"   // local serial receiver
	LocationMQTT  = "mqtt"  // fixes relayed by gps_producer
	LocationFixed = "fixed" // LOCATION_LATITUDE / LOCATION_LONGITUDE only
)

// Config holds all application configuration values. It is loaded once by
// each daemon's main and passed down explicitly.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDQibla   string
	MQTTClientIDGPS     string
	MQTTClientIDMag     string
	MQTTClientIDConsole string
	MQTTClientIDDisplay string

	// Topics
	TopicLocation string // GPS fixes
	TopicMag      string // raw magnetometer samples
	TopicHeading  string // derived heading state
	TopicFrame    string // smoothed compass frames
	TopicBearing  string // bearing + location, retained
	TopicPulse    string // alignment / calibration pulses
	TopicState    string // session state, retained

	// GPS
	GPSSerialPort string
	GPSBaudRate   int

	// Heading source: hmc5983, mqtt or simulated
	HeadingSource string

	// HMC5983 magnetometer
	HMCI2CBus     string
	HMCI2CAddr    uint16
	HMCGainCode   byte // 0-7, 1 = ±1.3Ga
	HMCODRHz      int  // 0, 1, 3, 7, 15, 30, 75, 220
	HMCAvgSamples int  // 1, 2, 4, 8

	// Sampling
	MagSampleInterval time.Duration
	SimStepInterval   time.Duration
	SimStepDegrees    float64
	SimFieldStrength  float64 // µT

	// Accuracy buckets (µT): s < low → low, s >= high → high
	AccuracyLowThreshold  float64
	AccuracyHighThreshold float64

	// Smoothing
	SpringStiffness float64
	SpringDamping   float64
	FrameInterval   time.Duration

	// Alignment pulse
	AlignThresholdDegrees float64
	AlignReleaseDegrees   float64
	AlignCooldown         time.Duration

	CalibrationDuration time.Duration

	// Location
	LocationSource        string
	LocationLatitude      float64
	LocationLongitude     float64
	LocationName          string
	LocationRetryInterval time.Duration
	LocationTimeout       time.Duration

	// Web Server
	WebServerPort int
	WebStaticDir  string // served at / when set

	// Display (SSD1306 at 0x3C)
	DisplayI2CBus         string
	DisplayUpdateInterval time.Duration

	// Logging
	LogEnv   string
	LogLevel string
}

// Default returns the configuration used for keys missing from the file.
// The saved location defaults to Mecca.
func Default() *Config {
	return &Config{
		MQTTClientIDQibla:   "qibla-service",
		MQTTClientIDGPS:     "qibla-gps",
		MQTTClientIDMag:     "qibla-mag",
		MQTTClientIDConsole: "qibla-console",
		MQTTClientIDDisplay: "qibla-display",

		TopicLocation: "qibla/location",
		TopicMag:      "qibla/mag",
		TopicHeading:  "qibla/heading",
		TopicFrame:    "qibla/frame",
		TopicBearing:  "qibla/bearing",
		TopicPulse:    "qibla/pulse",
		TopicState:    "qibla/state",

		GPSBaudRate: 9600,

		HeadingSource: HeadingSimulated,

		HMCI2CBus:     "1",
		HMCI2CAddr:    0x1E,
		HMCGainCode:   1,
		HMCODRHz:      15,
		HMCAvgSamples: 1,

		MagSampleInterval: 100 * time.Millisecond,
		SimStepInterval:   50 * time.Millisecond,
		SimStepDegrees:    1,
		SimFieldStrength:  30,

		AccuracyLowThreshold:  10,
		AccuracyHighThreshold: 25,

		SpringStiffness: 90,
		SpringDamping:   20,
		FrameInterval:   16 * time.Millisecond,

		AlignThresholdDegrees: 5,
		AlignReleaseDegrees:   2,
		AlignCooldown:         1500 * time.Millisecond,

		CalibrationDuration: 3000 * time.Millisecond,

		LocationSource:        LocationAuto,
		LocationLatitude:      21.422487,
		LocationLongitude:     39.826206,
		LocationName:          "Mecca, Saudi Arabia",
		LocationRetryInterval: 10 * time.Second,
		LocationTimeout:       30 * time.Second,

		WebServerPort: 8080,

		DisplayI2CBus:         "1",
		DisplayUpdateInterval: 200 * time.Millisecond,

		LogEnv:   "prod",
		LogLevel: "info",
	}
}

// Load reads the configuration file on top of Default.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines. Blank lines and lines starting with # are
// skipped; unknown keys are an error.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_QIBLA":
		c.MQTTClientIDQibla = value
	case "MQTT_CLIENT_ID_GPS":
		c.MQTTClientIDGPS = value
	case "MQTT_CLIENT_ID_MAG":
		c.MQTTClientIDMag = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_LOCATION":
		c.TopicLocation = value
	case "TOPIC_MAG":
		c.TopicMag = value
	case "TOPIC_HEADING":
		c.TopicHeading = value
	case "TOPIC_FRAME":
		c.TopicFrame = value
	case "TOPIC_BEARING":
		c.TopicBearing = value
	case "TOPIC_PULSE":
		c.TopicPulse = value
	case "TOPIC_STATE":
		c.TopicState = value

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = parseInt(key, value, 1, 921600)

	// Heading source
	case "HEADING_SOURCE":
		switch value {
		case HeadingHMC5983, HeadingMQTT, HeadingSimulated:
			c.HeadingSource = value
		default:
			return fmt.Errorf("HEADING_SOURCE must be hmc5983, mqtt or simulated, got %q", value)
		}

	// HMC5983
	case "HMC_I2C_BUS":
		c.HMCI2CBus = value
	case "HMC_I2C_ADDR":
		c.HMCI2CAddr, err = parseAddr(key, value)
	case "HMC_GAIN_CODE":
		var v int
		v, err = parseInt(key, value, 0, 7)
		c.HMCGainCode = byte(v)
	case "HMC_ODR_HZ":
		var v int
		v, err = parseInt(key, value, 0, 220)
		if err == nil {
			switch v {
			case 0, 1, 3, 7, 15, 30, 75, 220:
				c.HMCODRHz = v
			default:
				err = fmt.Errorf("HMC_ODR_HZ must be one of 0, 1, 3, 7, 15, 30, 75, 220, got %d", v)
			}
		}
	case "HMC_AVG_SAMPLES":
		var v int
		v, err = parseInt(key, value, 1, 8)
		if err == nil {
			switch v {
			case 1, 2, 4, 8:
				c.HMCAvgSamples = v
			default:
				err = fmt.Errorf("HMC_AVG_SAMPLES must be 1, 2, 4 or 8, got %d", v)
			}
		}

	// Sampling
	case "MAG_SAMPLE_INTERVAL":
		c.MagSampleInterval, err = parseMillis(key, value)
	case "SIM_STEP_INTERVAL":
		c.SimStepInterval, err = parseMillis(key, value)
	case "SIM_STEP_DEGREES":
		c.SimStepDegrees, err = parseFloat(key, value, -360, 360)
	case "SIM_FIELD_STRENGTH":
		c.SimFieldStrength, err = parseFloat(key, value, 0, 1000)

	// Accuracy
	case "ACCURACY_LOW_THRESHOLD":
		c.AccuracyLowThreshold, err = parseFloat(key, value, 0, 1000)
	case "ACCURACY_HIGH_THRESHOLD":
		c.AccuracyHighThreshold, err = parseFloat(key, value, 0, 1000)

	// Smoothing
	case "SPRING_STIFFNESS":
		c.SpringStiffness, err = parseFloat(key, value, 0, 10000)
	case "SPRING_DAMPING":
		c.SpringDamping, err = parseFloat(key, value, 0, 10000)
	case "FRAME_INTERVAL":
		c.FrameInterval, err = parseMillis(key, value)

	// Alignment
	case "ALIGN_THRESHOLD_DEGREES":
		c.AlignThresholdDegrees, err = parseFloat(key, value, 0, 180)
	case "ALIGN_RELEASE_DEGREES":
		c.AlignReleaseDegrees, err = parseFloat(key, value, 0, 180)
	case "ALIGN_COOLDOWN":
		c.AlignCooldown, err = parseMillis(key, value)
	case "CALIBRATION_DURATION":
		c.CalibrationDuration, err = parseMillis(key, value)

	// Location
	case "LOCATION_SOURCE":
		switch value {
		case LocationAuto, LocationGPS, LocationMQTT, LocationFixed:
			c.LocationSource = value
		default:
			return fmt.Errorf("LOCATION_SOURCE must be auto, gps, mqtt or fixed, got %q", value)
		}
	case "LOCATION_LATITUDE":
		c.LocationLatitude, err = parseFloat(key, value, -90, 90)
	case "LOCATION_LONGITUDE":
		c.LocationLongitude, err = parseFloat(key, value, -180, 180)
	case "LOCATION_NAME":
		c.LocationName = value
	case "LOCATION_RETRY_INTERVAL":
		c.LocationRetryInterval, err = parseMillis(key, value)
	case "LOCATION_TIMEOUT":
		c.LocationTimeout, err = parseMillis(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 1, 65535)
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseMillis(key, value)

	// Logging
	case "LOG_ENV":
		c.LogEnv = value
	case "LOG_LEVEL":
		c.LogLevel = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks cross-field constraints and required fields.
func (c *Config) validate() error {
	if c.AccuracyHighThreshold <= c.AccuracyLowThreshold {
		return fmt.Errorf("ACCURACY_HIGH_THRESHOLD (%v) must be greater than ACCURACY_LOW_THRESHOLD (%v)",
			c.AccuracyHighThreshold, c.AccuracyLowThreshold)
	}
	if c.SpringStiffness == 0 {
		return fmt.Errorf("SPRING_STIFFNESS must be > 0")
	}
	if c.AlignThresholdDegrees == 0 {
		return fmt.Errorf("ALIGN_THRESHOLD_DEGREES must be > 0")
	}
	if c.HeadingSource == HeadingMQTT && c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required when HEADING_SOURCE=mqtt")
	}
	if c.LocationSource == LocationMQTT && c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required when LOCATION_SOURCE=mqtt")
	}
	if c.LocationSource == LocationGPS && c.GPSSerialPort == "" {
		return fmt.Errorf("GPS_SERIAL_PORT is required when LOCATION_SOURCE=gps")
	}
	for key, d := range map[string]time.Duration{
		"MAG_SAMPLE_INTERVAL":     c.MagSampleInterval,
		"SIM_STEP_INTERVAL":       c.SimStepInterval,
		"FRAME_INTERVAL":          c.FrameInterval,
		"CALIBRATION_DURATION":    c.CalibrationDuration,
		"LOCATION_RETRY_INTERVAL": c.LocationRetryInterval,
		"DISPLAY_UPDATE_INTERVAL": c.DisplayUpdateInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", key)
		}
	}
	return nil
}

func parseInt(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func parseFloat(key, value string, lo, hi float64) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if math.IsNaN(v) || v < lo || v > hi {
		return 0, fmt.Errorf("%s must be within [%v, %v], got %v", key, lo, hi, v)
	}
	return v, nil
}

// parseMillis reads a duration given in milliseconds.
func parseMillis(key, value string) (time.Duration, error) {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if ms < 0 {
		return 0, fmt.Errorf("%s must be >= 0 ms, got %d", key, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseAddr(key, value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if addr > 0x7F {
		return 0, fmt.Errorf("%s must be a 7-bit I2C address, got 0x%X", key, addr)
	}
	return uint16(addr), nil
}
