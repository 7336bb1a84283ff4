package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultOSRMURL is the public OSRM demo server. It needs no credential.
const DefaultOSRMURL = "https://router.project-osrm.org"

// OSRMRouter implements Router against an OSRM HTTP server. It is the
// credential-free provider, selected only when no openrouteservice key is
// configured.
type OSRMRouter struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	log        *zap.Logger
}

// NewOSRMRouter creates a Router backed by the OSRM server at baseURL.
func NewOSRMRouter(baseURL string, timeout time.Duration, log *zap.Logger) *OSRMRouter {
	if baseURL == "" {
		baseURL = DefaultOSRMURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OSRMRouter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: newHTTPClient(timeout),
		log:        log,
	}
}

// Route performs one route request and returns the first candidate.
func (o *OSRMRouter) Route(ctx context.Context, req RoutingRequest) (*RouteResult, error) {
	from, to := lonLatPair(req.Origin), lonLatPair(req.Destination)
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson&steps=true",
		o.baseURL, from[0], from[1], to[0], to[1])

	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("routing: osrm: create request: %w", err)
	}

	body, err := exchange(o.httpClient, httpReq)
	if err != nil {
		o.log.Debug("osrm exchange failed", zap.Error(err))
		return nil, err
	}

	return decodeOSRM(body)
}

// decodeOSRM turns an OSRM route response into a RouteResult.
func decodeOSRM(data []byte) (result *RouteResult, err error) {
	defer recoverDecode(&err)

	var resp osrmResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &ProviderError{Code: CodeMalformedResponse, Message: err.Error()}
	}
	if resp.Code != "Ok" {
		if resp.Code == "NoRoute" {
			return nil, ErrEmptyRoute
		}
		code := resp.Code
		if code == "" {
			code = CodeMissingField
		}
		return nil, &ProviderError{Code: code, Message: resp.Message}
	}
	if len(resp.Routes) == 0 {
		return nil, ErrEmptyRoute
	}

	route := resp.Routes[0]
	if route.Geometry == nil {
		return nil, &ProviderError{Code: CodeMissingField, Message: "route has no geometry"}
	}

	path, err := lonLatPath(route.Geometry.Coordinates)
	if err != nil {
		return nil, err
	}

	instructions := make([]Instruction, 0)
	for _, leg := range route.Legs {
		for _, step := range leg.Steps {
			instructions = append(instructions, Instruction{
				Text:            osrmInstructionText(step),
				DistanceMeters:  step.Distance,
				DurationSeconds: step.Duration,
			})
		}
	}

	return &RouteResult{
		Geometry:             path,
		Instructions:         instructions,
		TotalDistanceMeters:  route.Distance,
		TotalDurationSeconds: route.Duration,
	}, nil
}

// osrmInstructionText renders a maneuver as text; OSRM only returns its
// structured form.
func osrmInstructionText(s osrmStep) string {
	var verb string
	switch s.Maneuver.Type {
	case "depart":
		verb = "Head out"
	case "arrive":
		return "Arrive at destination"
	case "roundabout", "rotary":
		verb = "Enter the roundabout"
	case "merge":
		verb = "Merge"
	case "fork":
		verb = "Keep " + s.Maneuver.Modifier
	case "end of road", "turn", "new name", "continue", "on ramp", "off ramp":
		switch s.Maneuver.Modifier {
		case "", "straight":
			verb = "Continue straight"
		case "uturn":
			verb = "Make a U-turn"
		default:
			verb = "Turn " + s.Maneuver.Modifier
		}
	default:
		verb = "Continue"
	}
	if s.Name != "" {
		return verb + " onto " + s.Name
	}
	return verb
}

// --- JSON types for the OSRM route service ---

type osrmResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Routes  []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Geometry *struct {
		Coordinates [][]float64 `json:"coordinates"`
	} `json:"geometry"`
	Legs     []osrmLeg `json:"legs"`
	Distance float64   `json:"distance"`
	Duration float64   `json:"duration"`
}

type osrmLeg struct {
	Steps []osrmStep `json:"steps"`
}

type osrmStep struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Name     string  `json:"name"`
	Maneuver struct {
		Type     string `json:"type"`
		Modifier string `json:"modifier"`
	} `json:"maneuver"`
}
