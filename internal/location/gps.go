// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/qibla_compass/internal/qibla"
)

// Fix is a single GPS fix, as published on MQTT by the GPS producer.
type Fix struct {
	Time       string  `json:"time"`        // e.g. "12:34:56.0000"
	Date       string  `json:"date"`        // e.g. "23/03/94"
	Latitude   float64 `json:"lat"`         // decimal degrees
	Longitude  float64 `json:"lon"`         // decimal degrees
	SpeedKnots float64 `json:"speed_knots"` // speed over ground
	CourseDeg  float64 `json:"course_deg"`  // course over ground
	Validity   string  `json:"validity"`    // "A" (valid) / "V" (void)
}

// Valid reports whether the receiver had a position lock.
func (f Fix) Valid() bool {
	return f.Validity == nmea.ValidRMC
}

// Location converts a valid fix.
func (f Fix) Location(source string) (Location, error) {
	if !f.Valid() {
		return Location{}, fmt.Errorf("%w: fix validity %q", ErrUnavailable, f.Validity)
	}
	p := qibla.GeoPoint{Latitude: f.Latitude, Longitude: f.Longitude}
	if err := p.Validate(); err != nil {
		return Location{}, err
	}
	return Location{GeoPoint: p, Name: "Current Location", Source: source, Time: time.Now()}, nil
}

// ParseFix parses one NMEA line. ok is false for sentences other than RMC
// and for lines that are not NMEA at all.
func ParseFix(line string) (fix Fix, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return Fix{}, false, nil
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false, err
	}
	if sentence.DataType() != nmea.TypeRMC {
		return Fix{}, false, nil
	}
	m := sentence.(nmea.RMC)
	return Fix{
		Time:       m.Time.String(),
		Date:       m.Date.String(),
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		SpeedKnots: m.Speed,
		CourseDeg:  m.Course,
		Validity:   m.Validity,
	}, true, nil
}

// SerialOptions selects the GPS serial port.
type SerialOptions struct {
	Port     string
	BaudRate int
}

// OpenSerial opens a GPS receiver's serial port at 8N1.
func OpenSerial(opts SerialOptions) (io.ReadWriteCloser, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:              opts.Port,
		BaudRate:              uint(opts.BaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	})
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s: %w", ErrPermissionDenied, opts.Port, err)
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrUnavailable, opts.Port, err)
	}
	return port, nil
}

// GPS reads NMEA from a receiver and keeps the latest valid fix.
type GPS struct {
	r      io.Reader
	logger *zap.Logger
	last   *latest
	// OnFix, when set, is called for every parsed RMC fix, valid or not.
	OnFix func(Fix)
}

// NewGPS wraps an NMEA stream. Call Run to start reading.
func NewGPS(r io.Reader, logger *zap.Logger) *GPS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GPS{r: r, logger: logger, last: newLatest()}
}

// Run reads sentences until the stream ends or ctx is done. Closing the
// underlying port is the caller's job and unblocks a pending read.
func (g *GPS) Run(ctx context.Context) error {
	reader := bufio.NewReader(g.r)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("gps read: %w", err)
		}

		fix, ok, err := ParseFix(line)
		if err != nil {
			// partial sentences are normal right after opening the port
			g.logger.Debug("nmea parse error", zap.Error(err), zap.String("line", strings.TrimSpace(line)))
			continue
		}
		if !ok {
			continue
		}
		if g.OnFix != nil {
			g.OnFix(fix)
		}
		loc, err := fix.Location("gps")
		if err != nil {
			g.logger.Debug("ignoring fix", zap.Error(err))
			continue
		}
		g.last.set(loc)
	}
}

// Latest returns the most recent valid location.
func (g *GPS) Latest() (Location, bool) {
	return g.last.get()
}

// Locate waits for the first valid fix.
func (g *GPS) Locate(ctx context.Context) (Location, error) {
	return g.last.wait(ctx)
}
