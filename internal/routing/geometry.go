package routing

import (
	"fmt"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
	"github.com/paulmach/orb"
)

// lonLatPath converts a provider path of [lon, lat(, elevation)] pairs into
// lat/lon coordinates. Every routing backend we speak to (GeoJSON, OSRM)
// emits longitude first.
func lonLatPath(pairs [][]float64) ([]geo.Coordinate, error) {
	if len(pairs) < 2 {
		return nil, &ProviderError{
			Code:    CodeInvalidGeometry,
			Message: fmt.Sprintf("route geometry has %d point(s), need at least 2", len(pairs)),
		}
	}

	path := make([]geo.Coordinate, 0, len(pairs))
	for i, pair := range pairs {
		if len(pair) < 2 {
			return nil, &ProviderError{
				Code:    CodeInvalidGeometry,
				Message: fmt.Sprintf("geometry point %d has %d component(s)", i, len(pair)),
			}
		}
		c := geo.FromPoint(orb.Point{pair[0], pair[1]})
		if err := c.Validate(); err != nil {
			return nil, &ProviderError{
				Code:    CodeInvalidGeometry,
				Message: fmt.Sprintf("geometry point %d: %v", i, err),
			}
		}
		path = append(path, c)
	}
	return path, nil
}

// lonLatPair encodes c in provider order.
func lonLatPair(c geo.Coordinate) [2]float64 {
	p := c.Point()
	return [2]float64{p.Lon(), p.Lat()}
}
