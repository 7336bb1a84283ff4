// Package mapview owns the map rendering surface of a pickup detail view:
// its markers, its route overlay and its teardown.
package mapview

import (
	"errors"
	"fmt"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
	"github.com/EdouardKamole/clean-city-dashboard/internal/routing"
)

// Role tags a waypoint as either end of a route.
type Role string

const (
	RoleOrigin      Role = "origin"
	RoleDestination Role = "destination"
)

// Marker labels shown on the map.
const (
	OriginLabel      = "Your Location"
	DestinationLabel = "Pickup Location"
)

// Layer ids on the owned surface.
const (
	originLayer      = "origin"
	destinationLayer = "destination"
	routeLayer       = "route"
)

// DefaultZoom matches the pickup detail view.
const DefaultZoom = 14

var (
	// ErrNotInitialized is returned by drawing calls made before Initialize.
	ErrNotInitialized = errors.New("mapview: session not initialized")
	// ErrDisposed is returned by any call made after Dispose, except Dispose.
	ErrDisposed = errors.New("mapview: session disposed")
)

// Waypoint is a rendered point of interest.
type Waypoint struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	Role       Role           `json:"role"`
	Label      string         `json:"label"`
}

// Origin returns the "Your Location" waypoint at c.
func Origin(c geo.Coordinate) Waypoint {
	return Waypoint{Coordinate: c, Role: RoleOrigin, Label: OriginLabel}
}

// Destination returns the "Pickup Location" waypoint at c.
func Destination(c geo.Coordinate) Waypoint {
	return Waypoint{Coordinate: c, Role: RoleDestination, Label: DestinationLabel}
}

// Session owns exactly one rendering surface for its mount point, the
// waypoints drawn on it and the current route overlay.
//
// A Session has no goroutines or timers of its own and is not safe for
// concurrent use; its owner serializes every call.
type Session struct {
	factory SurfaceFactory
	surface Surface

	mount       string
	zoom        int
	destination Waypoint
	origin      *Waypoint
	route       *routing.RouteResult

	disposed bool
}

// NewSession returns an uninitialized session drawing through factory.
func NewSession(factory SurfaceFactory) *Session {
	return &Session{factory: factory}
}

// Initialize opens the surface on mount, centered on destination with a
// single destination pin. Calling it again on an initialized session is a
// no-op.
func (s *Session) Initialize(mount string, destination Waypoint, zoom int) error {
	if s.disposed {
		return ErrDisposed
	}
	if s.surface != nil {
		return nil
	}
	if err := destination.Coordinate.Validate(); err != nil {
		return fmt.Errorf("mapview: initialize: %w", err)
	}
	if zoom <= 0 {
		zoom = DefaultZoom
	}

	surface, err := s.factory.Open(mount)
	if err != nil {
		return fmt.Errorf("mapview: initialize: %w", err)
	}

	s.surface = surface
	s.mount = mount
	s.zoom = zoom
	s.destination = destination
	s.surface.SetView(destination.Coordinate, zoom)
	s.surface.AddMarker(destinationLayer, destination)
	return nil
}

// ShowRoute draws origin and destination markers and the route polyline,
// replacing whatever was drawn before.
func (s *Session) ShowRoute(origin, destination Waypoint, route *routing.RouteResult) error {
	if err := s.ready(); err != nil {
		return err
	}
	if route == nil || len(route.Geometry) < 2 {
		return fmt.Errorf("mapview: show route: geometry needs at least 2 points")
	}

	s.clear()

	path := geo.LineString(route.Geometry)
	s.surface.AddPath(routeLayer, path, map[string]any{
		"instructions":         route.Instructions,
		"totalDistanceMeters":  route.TotalDistanceMeters,
		"totalDurationSeconds": route.TotalDurationSeconds,
	})
	s.surface.AddMarker(originLayer, origin)
	s.surface.AddMarker(destinationLayer, destination)

	bound := path.Bound().Extend(origin.Coordinate.Point()).Extend(destination.Coordinate.Point())
	s.surface.FitBounds(bound)

	s.origin = &origin
	s.destination = destination
	s.route = route
	return nil
}

// ShowDestinationOnly draws the destination pin alone.
func (s *Session) ShowDestinationOnly(destination Waypoint) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.clear()
	s.surface.AddMarker(destinationLayer, destination)
	s.surface.SetView(destination.Coordinate, s.zoom)

	s.destination = destination
	return nil
}

// SetZoom changes the zoom level and re-centers on the destination unless a
// route is framed.
func (s *Session) SetZoom(zoom int) error {
	if err := s.ready(); err != nil {
		return err
	}
	if zoom <= 0 {
		return fmt.Errorf("mapview: zoom %d must be positive", zoom)
	}
	s.zoom = zoom
	if s.route == nil {
		s.surface.SetView(s.destination.Coordinate, zoom)
	}
	return nil
}

// Render returns the current scene. A session that is not initialized or
// already disposed renders an empty scene.
func (s *Session) Render() Scene {
	if s.surface == nil || s.disposed {
		return Scene{Mount: s.mount, Zoom: s.zoom}
	}
	scene := s.surface.Render()
	scene.Zoom = s.zoom
	return scene
}

// Route returns the route currently on display, if any.
func (s *Session) Route() *routing.RouteResult { return s.route }

// Initialized reports whether the session holds a live surface.
func (s *Session) Initialized() bool { return s.surface != nil && !s.disposed }

// Dispose releases the surface and everything drawn on it. Safe to call
// more than once.
func (s *Session) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	if s.surface != nil {
		s.clear()
		s.surface.Close()
		s.surface = nil
	}
}

func (s *Session) ready() error {
	if s.disposed {
		return ErrDisposed
	}
	if s.surface == nil {
		return ErrNotInitialized
	}
	return nil
}

func (s *Session) clear() {
	s.surface.RemoveLayer(routeLayer)
	s.surface.RemoveLayer(originLayer)
	s.surface.RemoveLayer(destinationLayer)
	s.origin = nil
	s.route = nil
}
