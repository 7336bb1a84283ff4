package coordinator

import (
	"time"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
	"github.com/EdouardKamole/clean-city-dashboard/internal/mapview"
	"github.com/EdouardKamole/clean-city-dashboard/internal/routing"
)

// State is the position of a coordinator in its request cycle.
type State int

const (
	Idle State = iota
	ResolvingOrigin
	ComputingRoute
	Displayed
	Disposed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ResolvingOrigin:
		return "resolving_origin"
	case ComputingRoute:
		return "computing_route"
	case Displayed:
		return "displayed"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Mode qualifies the Displayed state.
type Mode string

const (
	ModeNone            Mode = ""
	ModeWithRoute       Mode = "with_route"
	ModeDestinationOnly Mode = "destination_only"
)

// KindLocationUnavailable is the failure kind recorded when no origin could
// be resolved. The routing kinds are defined in package routing.
const KindLocationUnavailable = "location_unavailable"

// RouteRequest is one routing attempt. Token identifies the cycle that
// issued it; completions carrying any other token are discarded.
type RouteRequest struct {
	Origin      geo.Coordinate `json:"origin"`
	Destination geo.Coordinate `json:"destination"`
	Token       string         `json:"token"`
}

// Snapshot is an immutable view of a coordinator, safe to read from any
// goroutine.
type Snapshot struct {
	Version     uint64          `json:"version"`
	State       State           `json:"state"`
	Mode        Mode            `json:"mode,omitempty"`
	Token       string          `json:"token,omitempty"`
	Destination geo.Coordinate  `json:"destination"`
	Origin      *geo.Coordinate `json:"origin,omitempty"`
	// LocationStatus is the outcome of the last origin resolution.
	LocationStatus string               `json:"locationStatus,omitempty"`
	Route          *routing.RouteResult `json:"route,omitempty"`
	Failure        *routing.Failure     `json:"failure,omitempty"`
	// StraightLineMeters is set when a known origin could not be routed.
	StraightLineMeters float64       `json:"straightLineMeters,omitempty"`
	Scene              mapview.Scene `json:"scene"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// Notice is a user-visible, non-fatal message.
type Notice struct {
	Severity string           `json:"severity"`
	Title    string           `json:"title"`
	Message  string           `json:"message"`
	Failure  *routing.Failure `json:"failure,omitempty"`
}

// Notifier delivers notices to whoever is watching a session. Notify is
// called from the coordinator's loop and must not block.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) { f(n) }
