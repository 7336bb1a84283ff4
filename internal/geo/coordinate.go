// Package geo holds the coordinate value type shared by the location,
// routing and map packages.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// ErrInvalidCoordinate is returned by Validate for out-of-range values.
var ErrInvalidCoordinate = errors.New("geo: invalid coordinate")

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// New returns the coordinate (lat, lon).
func New(lat, lon float64) Coordinate {
	return Coordinate{Latitude: lat, Longitude: lon}
}

// Validate checks that the coordinate lies within the WGS-84 ranges.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v must be between -90 and 90", ErrInvalidCoordinate, c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v must be between -180 and 180", ErrInvalidCoordinate, c.Longitude)
	}
	return nil
}

// Point converts c to an orb.Point, which is ordered [lon, lat].
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

// FromPoint converts an orb.Point ([lon, lat]) back to a Coordinate.
func FromPoint(p orb.Point) Coordinate {
	return Coordinate{Latitude: p.Lat(), Longitude: p.Lon()}
}

// LineString converts an ordered path to an orb.LineString.
func LineString(path []Coordinate) orb.LineString {
	ls := make(orb.LineString, len(path))
	for i, c := range path {
		ls[i] = c.Point()
	}
	return ls
}

// String formats the coordinate the way the dashboard labels pins.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.4f, %.4f", c.Latitude, c.Longitude)
}

// HaversineMeters computes the great-circle distance in meters between two points.
func HaversineMeters(a, b Coordinate) float64 {
	const earthRadiusM = 6_371_000.0
	const deg2rad = math.Pi / 180.0

	dLat := (b.Latitude - a.Latitude) * deg2rad
	dLon := (b.Longitude - a.Longitude) * deg2rad
	lat1r := a.Latitude * deg2rad
	lat2r := b.Latitude * deg2rad

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)
	h := sinDLat*sinDLat + math.Cos(lat1r)*math.Cos(lat2r)*sinDLon*sinDLon
	return earthRadiusM * 2 * math.Asin(math.Sqrt(h))
}
