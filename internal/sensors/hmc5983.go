// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/qibla_compass/internal/heading"
)

// HMC5983 / HMC5883L register map.
const (
	regConfigA = 0x00
	regConfigB = 0x01
	regMode    = 0x02
	regDataX   = 0x03 // X MSB, X LSB, Z MSB, Z LSB, Y MSB, Y LSB
	regStatus  = 0x09
	regIDA     = 0x0A

	modeContinuous = 0x00
	modeSingle     = 0x01

	// DefaultHMCAddr is the fixed I²C address of the HMC5983.
	DefaultHMCAddr = 0x1E

	// A saturated axis reads -4096.
	hmcOverflow = -4096
)

// LSB per gauss for each gain code (CRB bits 7:5).
var hmcGainLSB = [8]float64{1370, 1090, 820, 660, 440, 390, 330, 230}

// Output data rate in Hz → CRA bits 4:2.
var hmcODR = map[int]byte{0: 0, 1: 1, 3: 2, 7: 3, 15: 4, 30: 5, 75: 6, 220: 7}

// Averaged samples per measurement → CRA bits 6:5.
var hmcAvg = map[int]byte{1: 0, 2: 1, 4: 2, 8: 3}

// HMCOpts configures the magnetometer.
type HMCOpts struct {
	Addr       uint16
	ODRHz      int    // 0 (0.75Hz), 1, 3, 7, 15, 30, 75, 220
	AvgSamples int    // 1, 2, 4, 8
	GainCode   byte   // 0-7, 1 = ±1.3Ga
	Mode       string // "continuous" or "single"
}

// DefaultHMCOpts matches the producer defaults: 15Hz, no averaging, ±1.3Ga.
var DefaultHMCOpts = HMCOpts{
	Addr:       DefaultHMCAddr,
	ODRHz:      15,
	AvgSamples: 1,
	GainCode:   1,
	Mode:       "continuous",
}

// HMC5983 is a 3-axis magnetometer on I²C. It implements heading.Sensor.
type HMC5983 struct {
	mu     sync.Mutex
	dev    *i2c.Dev
	opts   HMCOpts
	single bool
}

// NewHMC5983 checks the chip ID and writes the configuration registers.
func NewHMC5983(bus i2c.Bus, opts HMCOpts) (*HMC5983, error) {
	if opts.Addr == 0 {
		opts.Addr = DefaultHMCAddr
	}
	if opts.GainCode > 7 {
		return nil, fmt.Errorf("hmc5983: gain code must be 0-7, got %d", opts.GainCode)
	}
	odr, ok := hmcODR[opts.ODRHz]
	if !ok {
		return nil, fmt.Errorf("hmc5983: unsupported output rate %dHz", opts.ODRHz)
	}
	avg, ok := hmcAvg[opts.AvgSamples]
	if !ok {
		return nil, fmt.Errorf("hmc5983: unsupported averaging %d", opts.AvgSamples)
	}

	var mode byte
	switch opts.Mode {
	case "", "continuous":
		mode = modeContinuous
	case "single":
		mode = modeSingle
	default:
		return nil, fmt.Errorf("hmc5983: unknown mode %q", opts.Mode)
	}

	d := &HMC5983{
		dev:    &i2c.Dev{Bus: bus, Addr: opts.Addr},
		opts:   opts,
		single: mode == modeSingle,
	}

	id, err := d.ID()
	if err != nil {
		return nil, err
	}
	if id != "H43" {
		return nil, fmt.Errorf("hmc5983: unexpected identification %q at 0x%02X", id, opts.Addr)
	}

	// Temperature compensation (bit 7) is a no-op on the HMC5883L.
	cra := byte(0x80) | avg<<5 | odr<<2
	if err := d.dev.Tx([]byte{regConfigA, cra}, nil); err != nil {
		return nil, fmt.Errorf("hmc5983: write config A: %w", err)
	}
	if err := d.dev.Tx([]byte{regConfigB, opts.GainCode << 5}, nil); err != nil {
		return nil, fmt.Errorf("hmc5983: write config B: %w", err)
	}
	if err := d.dev.Tx([]byte{regMode, mode}, nil); err != nil {
		return nil, fmt.Errorf("hmc5983: write mode: %w", err)
	}
	return d, nil
}

// OpenHMC5983 initializes the periph host, opens the named I²C bus and
// returns the device together with the bus to close when done.
func OpenHMC5983(busName string, opts HMCOpts) (*HMC5983, i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("hmc5983: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("hmc5983: i2c open %q: %w", busName, err)
	}
	dev, err := NewHMC5983(bus, opts)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	return dev, bus, nil
}

// ID returns the three identification bytes ("H43").
func (d *HMC5983) ID() (string, error) {
	id := make([]byte, 3)
	if err := d.dev.Tx([]byte{regIDA}, id); err != nil {
		return "", fmt.Errorf("hmc5983: read id: %w", err)
	}
	return string(id), nil
}

// Raw reads the three axes in counts.
func (d *HMC5983) Raw() (x, y, z int16, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.single {
		if err := d.dev.Tx([]byte{regMode, modeSingle}, nil); err != nil {
			return 0, 0, 0, fmt.Errorf("hmc5983: trigger measurement: %w", err)
		}
		time.Sleep(6 * time.Millisecond)
	}

	buf := make([]byte, 6)
	if err := d.dev.Tx([]byte{regDataX}, buf); err != nil {
		return 0, 0, 0, fmt.Errorf("hmc5983: read data: %w", err)
	}
	x = int16(binary.BigEndian.Uint16(buf[0:2]))
	z = int16(binary.BigEndian.Uint16(buf[2:4]))
	y = int16(binary.BigEndian.Uint16(buf[4:6]))
	if x == hmcOverflow || y == hmcOverflow || z == hmcOverflow {
		return x, y, z, fmt.Errorf("hmc5983: measurement overflow, lower the gain")
	}
	return x, y, z, nil
}

// Sense reads the field in µT.
func (d *HMC5983) Sense() (heading.Vector, error) {
	x, y, z, err := d.Raw()
	if err != nil {
		return heading.Vector{}, err
	}
	// 1 gauss = 100 µT
	scale := 100 / hmcGainLSB[d.opts.GainCode]
	return heading.Vector{
		X: float64(x) * scale,
		Y: float64(y) * scale,
		Z: float64(z) * scale,
	}, nil
}

// Status returns the status register (bit 0 = data ready).
func (d *HMC5983) Status() (byte, error) {
	b := make([]byte, 1)
	if err := d.dev.Tx([]byte{regStatus}, b); err != nil {
		return 0, fmt.Errorf("hmc5983: read status: %w", err)
	}
	return b[0], nil
}
