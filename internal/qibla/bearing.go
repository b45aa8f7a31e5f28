// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package qibla computes the direction and distance from an observer to
// the Kaaba.
package qibla

import (
	"errors"
	"fmt"
	"math"
)

// Kaaba coordinates in decimal degrees.
const (
	KaabaLatitude  = 21.422487
	KaabaLongitude = 39.826206
)

// atTargetEpsilon is how close (in degrees, on both axes) an observer must
// be to the Kaaba for the bearing to be treated as undefined.
const atTargetEpsilon = 1e-7

const earthRadiusKm = 6371.0088

// ErrInvalidInput is returned for non-finite or out-of-range coordinates.
var ErrInvalidInput = errors.New("invalid input")

// GeoPoint is an observer position in decimal degrees.
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Kaaba is the fixed target point.
var Kaaba = GeoPoint{Latitude: KaabaLatitude, Longitude: KaabaLongitude}

// Validate checks that both coordinates are finite and within range.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) {
		return fmt.Errorf("%w: latitude %v is not finite", ErrInvalidInput, p.Latitude)
	}
	if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) {
		return fmt.Errorf("%w: longitude %v is not finite", ErrInvalidInput, p.Longitude)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %.6f outside [-90, 90]", ErrInvalidInput, p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %.6f outside [-180, 180]", ErrInvalidInput, p.Longitude)
	}
	return nil
}

// AtKaaba reports whether p coincides with the target point, where the
// bearing has no physical meaning.
func (p GeoPoint) AtKaaba() bool {
	return math.Abs(p.Latitude-KaabaLatitude) < atTargetEpsilon &&
		math.Abs(p.Longitude-KaabaLongitude) < atTargetEpsilon
}

// Bearing returns the Qibla direction from p, see Bearing.
func (p GeoPoint) Bearing() (float64, error) {
	return Bearing(p.Latitude, p.Longitude)
}

// Bearing returns the initial great-circle bearing from the observer to the
// Kaaba, in degrees clockwise from true north, normalized to [0, 360).
//
//	Δlon    = lon_kaaba - lon
//	bearing = atan2(sin Δlon, cos lat · tan lat_kaaba − sin lat · cos Δlon)
//
// An observer standing on the Kaaba gets 0.
func Bearing(latitude, longitude float64) (float64, error) {
	p := GeoPoint{Latitude: latitude, Longitude: longitude}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if p.AtKaaba() {
		return 0, nil
	}

	lat1 := toRadians(latitude)
	lat2 := toRadians(KaabaLatitude)
	dLon := toRadians(KaabaLongitude - longitude)

	rad := math.Atan2(
		math.Sin(dLon),
		math.Cos(lat1)*math.Tan(lat2)-math.Sin(lat1)*math.Cos(dLon),
	)
	return NormalizeDegrees(toDegrees(rad)), nil
}

// DistanceKm returns the haversine distance from p to the Kaaba.
func DistanceKm(p GeoPoint) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	lat1 := toRadians(p.Latitude)
	lat2 := toRadians(KaabaLatitude)
	dLat := lat2 - lat1
	dLon := toRadians(KaabaLongitude - p.Longitude)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c, nil
}

// NormalizeDegrees maps any finite angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	// -1e-15 + 360 rounds to 360; also folds -0 into 0.
	if d >= 360 || d == 0 {
		return 0
	}
	return d
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
