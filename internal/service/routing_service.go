package service

import (
	"context"
	"fmt"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
	"github.com/EdouardKamole/clean-city-dashboard/internal/routing"
)

// RoutingService answers one-off route lookups between two coordinates,
// outside any map session.
type RoutingService struct {
	router routing.Router
}

// NewRoutingService creates a RoutingService.
//
// router should be a *routing.CachedRouter wrapping the configured provider
// for production use, or any Router implementation for testing.
func NewRoutingService(router routing.Router) *RoutingService {
	return &RoutingService{router: router}
}

// RouteBetween calculates the driving route from origin to destination.
//
// Errors:
//   - geo.ErrInvalidCoordinate (wrapped) for out-of-range input; the router
//     is not called.
//   - The router's error, wrapped, so errors.As still finds
//     *routing.NetworkError and *routing.ProviderError.
func (s *RoutingService) RouteBetween(ctx context.Context, origin, destination geo.Coordinate) (*routing.RouteResult, error) {
	if err := origin.Validate(); err != nil {
		return nil, fmt.Errorf("service: RouteBetween: origin: %w", err)
	}
	if err := destination.Validate(); err != nil {
		return nil, fmt.Errorf("service: RouteBetween: destination: %w", err)
	}

	resp, err := s.router.Route(ctx, routing.RoutingRequest{Origin: origin, Destination: destination})
	if err != nil {
		return nil, fmt.Errorf("service: RouteBetween: %w", err)
	}
	return resp, nil
}
