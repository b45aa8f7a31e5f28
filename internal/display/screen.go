// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display draws the compass on a 128x64 monochrome OLED.
package display

import (
	"fmt"
	"image"
	"math"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/heading"
)

const (
	Width  = 128
	Height = 64

	dialX      = 31
	dialY      = 32
	dialRadius = 30
	textX      = 66
)

// View is everything one screen shows.
type View struct {
	State     compass.State
	Frame     *compass.Frame
	Bearing   float64
	HasFix    bool
	Place     string
	HijriDate string
	// Pulse inverts the dial while an alignment pulse is shown.
	Pulse bool
}

// Render draws v into a new image.
func Render(v View) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, Width, Height))

	switch {
	case !v.HasFix || v.State == compass.StateAwaitingLocation || v.State == compass.StateUninitialized:
		drawLines(img, 0, "Qibla Compass", "Location", "required", v.HijriDate)
		return img
	case v.Frame == nil:
		drawLines(img, 0, "Qibla Compass", fmt.Sprintf("Qibla %05.1f", v.Bearing), "Waiting for", "heading...")
		return img
	}

	f := v.Frame
	drawDial(img, f.CompassRotation, f.NeedleRotation, v.Pulse)

	status := strings.ToUpper(AccuracyLabel(f.Accuracy, f.Simulated))
	switch {
	case v.State == compass.StateCalibrating:
		status = "CALIB"
	case f.Aligned:
		status = "QIBLA!"
	}
	drawLines(img, textX,
		fmt.Sprintf("Q %05.1f", f.Bearing),
		fmt.Sprintf("H %05.1f", f.Heading),
		status,
		truncate(v.Place, (Width-textX)/7),
	)
	return img
}

// drawLines writes up to four lines of 7x13 text starting at column x.
func drawLines(img *image1bit.VerticalLSB, x int, lines ...string) {
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if line == "" {
			continue
		}
		drawer.Dot = fixed.P(x, 13*(i+1)+(i*2))
		drawer.DrawString(line)
	}
}

// drawDial draws the compass ring, a north tick rotated by compassRot and
// the needle at needleRot, both clockwise from the top of the screen.
func drawDial(img *image1bit.VerticalLSB, compassRot, needleRot float64, inverted bool) {
	fg := image1bit.On
	if inverted {
		fg = image1bit.Off
		fillCircle(img, dialX, dialY, dialRadius, image1bit.On)
	}

	drawCircle(img, dialX, dialY, dialRadius, fg)

	// North tick on the ring.
	nx0, ny0 := polar(dialX, dialY, dialRadius-6, compassRot)
	nx1, ny1 := polar(dialX, dialY, dialRadius, compassRot)
	drawLine(img, nx0, ny0, nx1, ny1, fg)

	tx, ty := polar(dialX, dialY, dialRadius-3, needleRot)
	drawLine(img, dialX, dialY, tx, ty, fg)
	// Arrow head.
	lx, ly := polar(dialX, dialY, dialRadius-10, needleRot-12)
	rx, ry := polar(dialX, dialY, dialRadius-10, needleRot+12)
	drawLine(img, tx, ty, lx, ly, fg)
	drawLine(img, tx, ty, rx, ry, fg)
}

// polar returns the point at distance r from (cx, cy) in direction deg,
// measured clockwise from screen up.
func polar(cx, cy, r int, deg float64) (int, int) {
	rad := deg * math.Pi / 180
	x := float64(cx) + float64(r)*math.Sin(rad)
	y := float64(cy) - float64(r)*math.Cos(rad)
	return int(math.Round(x)), int(math.Round(y))
}

func drawLine(img *image1bit.VerticalLSB, x0, y0, x1, y1 int, c image1bit.Bit) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func drawCircle(img *image1bit.VerticalLSB, cx, cy, r int, c image1bit.Bit) {
	x, y := r, 0
	e := 1 - r
	for x >= y {
		for _, p := range [][2]int{{x, y}, {y, x}, {-y, x}, {-x, y}, {-x, -y}, {-y, -x}, {y, -x}, {x, -y}} {
			img.Set(cx+p[0], cy+p[1], c)
		}
		y++
		if e < 0 {
			e += 2*y + 1
		} else {
			x--
			e += 2*(y-x) + 1
		}
	}
}

func fillCircle(img *image1bit.VerticalLSB, cx, cy, r int, c image1bit.Bit) {
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			if x*x+y*y <= r*r {
				img.Set(cx+x, cy+y, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func truncate(s string, n int) string {
	if i := strings.IndexByte(s, ','); i > 0 {
		s = s[:i]
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}

// AccuracyLabel is the short label shown for an accuracy bucket.
func AccuracyLabel(a heading.Accuracy, simulated bool) string {
	if simulated {
		return "sim"
	}
	return a.String()
}
