package mapview

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrMountInUse is returned when a surface is requested for a mount point
// that already has a live surface.
var ErrMountInUse = errors.New("mapview: mount point already has a live surface")

// Layer kinds stored in the "kind" feature property.
const (
	KindMarker = "marker"
	KindPath   = "path"
)

// Surface is one live map view. It holds layers keyed by id and a camera.
// A Surface is owned by a single Session and is not safe for concurrent use.
type Surface interface {
	// AddMarker places (or replaces) a marker layer.
	AddMarker(id string, w Waypoint)
	// AddPath places (or replaces) a polyline layer. props are attached to
	// the rendered feature.
	AddPath(id string, path orb.LineString, props map[string]any)
	// RemoveLayer removes a layer; unknown ids are ignored.
	RemoveLayer(id string)
	// SetView centers the camera.
	SetView(center geo.Coordinate, zoom int)
	// FitBounds frames the camera on b, keeping the current zoom as a hint.
	FitBounds(b orb.Bound)
	// Render returns an immutable copy of the current scene.
	Render() Scene
	// Close releases the surface and its mount point. Idempotent.
	Close()
}

// SurfaceFactory creates surfaces bound to mount points.
type SurfaceFactory interface {
	Open(mount string) (Surface, error)
}

// Scene is the rendered state of a surface, drawn by the dashboard's map
// library on top of its own tiles.
type Scene struct {
	Mount  string                     `json:"mount"`
	Center geo.Coordinate             `json:"center"`
	Zoom   int                        `json:"zoom"`
	Bounds *orb.Bound                 `json:"bounds,omitempty"`
	Layers *geojson.FeatureCollection `json:"layers"`
}

// Markers returns the marker features of the scene.
func (s Scene) Markers() []*geojson.Feature { return s.layersOf(KindMarker) }

// Paths returns the path features of the scene.
func (s Scene) Paths() []*geojson.Feature { return s.layersOf(KindPath) }

func (s Scene) layersOf(kind string) []*geojson.Feature {
	if s.Layers == nil {
		return nil
	}
	var out []*geojson.Feature
	for _, f := range s.Layers.Features {
		if f.Properties.MustString("kind", "") == kind {
			out = append(out, f)
		}
	}
	return out
}

// Registry hands out GeoJSON scene surfaces and enforces at most one live
// surface per mount point. It is safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	live map[string]*sceneSurface
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*sceneSurface)}
}

// Open creates the surface for mount, failing with ErrMountInUse if one is
// already live there.
func (r *Registry) Open(mount string) (Surface, error) {
	if mount == "" {
		return nil, fmt.Errorf("mapview: open: empty mount point")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live[mount]; ok {
		return nil, fmt.Errorf("mapview: open %q: %w", mount, ErrMountInUse)
	}
	s := &sceneSurface{
		mount:    mount,
		layers:   make(map[string]*geojson.Feature),
		registry: r,
	}
	r.live[mount] = s
	return s, nil
}

// Live reports the number of live surfaces.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Registry) release(s *sceneSurface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[s.mount] == s {
		delete(r.live, s.mount)
	}
}

// sceneSurface keeps its layers as GeoJSON features.
type sceneSurface struct {
	mount    string
	center   geo.Coordinate
	zoom     int
	bounds   *orb.Bound
	layers   map[string]*geojson.Feature
	order    []string
	registry *Registry
	closed   bool
}

func (s *sceneSurface) AddMarker(id string, w Waypoint) {
	f := geojson.NewFeature(w.Coordinate.Point())
	f.ID = id
	f.Properties["kind"] = KindMarker
	f.Properties["role"] = string(w.Role)
	f.Properties["label"] = w.Label
	s.put(id, f)
}

func (s *sceneSurface) AddPath(id string, path orb.LineString, props map[string]any) {
	f := geojson.NewFeature(path.Clone())
	f.ID = id
	for k, v := range props {
		f.Properties[k] = v
	}
	f.Properties["kind"] = KindPath
	s.put(id, f)
}

func (s *sceneSurface) put(id string, f *geojson.Feature) {
	if s.closed {
		return
	}
	if _, ok := s.layers[id]; !ok {
		s.order = append(s.order, id)
	}
	s.layers[id] = f
}

func (s *sceneSurface) RemoveLayer(id string) {
	if _, ok := s.layers[id]; !ok {
		return
	}
	delete(s.layers, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *sceneSurface) SetView(center geo.Coordinate, zoom int) {
	s.center = center
	s.zoom = zoom
	s.bounds = nil
}

func (s *sceneSurface) FitBounds(b orb.Bound) {
	s.center = geo.FromPoint(b.Center())
	s.bounds = &b
}

func (s *sceneSurface) Render() Scene {
	fc := geojson.NewFeatureCollection()
	// Paths render below markers.
	ids := append([]string(nil), s.order...)
	sort.SliceStable(ids, func(i, j int) bool {
		return s.layers[ids[i]].Properties["kind"] == KindPath && s.layers[ids[j]].Properties["kind"] != KindPath
	})
	for _, id := range ids {
		src := s.layers[id]
		f := geojson.NewFeature(orb.Clone(src.Geometry))
		f.ID = src.ID
		f.Properties = src.Properties.Clone()
		fc.Append(f)
	}

	scene := Scene{Mount: s.mount, Center: s.center, Zoom: s.zoom, Layers: fc}
	if s.bounds != nil {
		b := *s.bounds
		scene.Bounds = &b
	}
	return scene
}

func (s *sceneSurface) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.layers = make(map[string]*geojson.Feature)
	s.order = nil
	s.registry.release(s)
}
