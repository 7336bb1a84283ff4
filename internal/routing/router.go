// Package routing computes driving routes between two coordinates through an
// external routing service.
package routing

import (
	"context"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
)

// RoutingRequest holds the origin and destination of a route calculation.
type RoutingRequest struct {
	Origin      geo.Coordinate
	Destination geo.Coordinate
}

// Instruction is one turn-by-turn maneuver along a route.
type Instruction struct {
	Text            string  `json:"text"`
	DistanceMeters  float64 `json:"distance_m"`
	DurationSeconds float64 `json:"duration_s"`
}

// RouteResult is a normalized route. Geometry is always ordered origin to
// destination, holds at least two points, and is expressed as lat/lon
// regardless of the provider's wire order.
type RouteResult struct {
	Geometry             []geo.Coordinate `json:"geometry"`
	Instructions         []Instruction    `json:"instructions"`
	TotalDistanceMeters  float64          `json:"total_distance_m"`
	TotalDurationSeconds float64          `json:"total_duration_s"`
}

// Router calculates a route between two geographic points.
//
// Implementations perform at most one network exchange per call and return
// a *NetworkError, a *ProviderError or ErrEmptyRoute on failure. They never
// retry.
type Router interface {
	Route(ctx context.Context, req RoutingRequest) (*RouteResult, error)
}
