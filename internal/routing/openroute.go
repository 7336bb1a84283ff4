package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultOpenRouteURL is the openrouteservice API root.
	DefaultOpenRouteURL = "https://api.openrouteservice.org"

	// DefaultOpenRouteProfile is the routing profile used for pickup trucks.
	DefaultOpenRouteProfile = "driving-car"
)

// OpenRouteRouter implements Router using the openrouteservice directions
// API in GeoJSON format.
type OpenRouteRouter struct {
	apiKey     string
	profile    string
	timeout    time.Duration
	httpClient *http.Client
	log        *zap.Logger
	// apiURL is the directions endpoint. Overrideable in tests.
	apiURL string
}

// OpenRouteOption configures an OpenRouteRouter.
type OpenRouteOption func(*OpenRouteRouter)

// WithOpenRouteBaseURL points the router at a different API root.
func WithOpenRouteBaseURL(baseURL string) OpenRouteOption {
	return func(r *OpenRouteRouter) {
		if baseURL != "" {
			r.apiURL = directionsURL(baseURL, r.profile)
		}
	}
}

// WithOpenRouteTimeout bounds each exchange.
func WithOpenRouteTimeout(d time.Duration) OpenRouteOption {
	return func(r *OpenRouteRouter) {
		if d > 0 {
			r.timeout = d
			r.httpClient = newHTTPClient(d)
		}
	}
}

// WithOpenRouteLogger sets the logger used for request diagnostics.
func WithOpenRouteLogger(l *zap.Logger) OpenRouteOption {
	return func(r *OpenRouteRouter) {
		if l != nil {
			r.log = l
		}
	}
}

// NewOpenRouteRouter creates a Router backed by openrouteservice.
// apiKey is sent as a bearer credential; profile defaults to driving-car.
func NewOpenRouteRouter(apiKey, profile string, opts ...OpenRouteOption) *OpenRouteRouter {
	if profile == "" {
		profile = DefaultOpenRouteProfile
	}
	r := &OpenRouteRouter{
		apiKey:     apiKey,
		profile:    profile,
		timeout:    DefaultTimeout,
		httpClient: newHTTPClient(DefaultTimeout),
		log:        zap.NewNop(),
		apiURL:     directionsURL(DefaultOpenRouteURL, profile),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func directionsURL(baseURL, profile string) string {
	return fmt.Sprintf("%s/v2/directions/%s/geojson", baseURL, profile)
}

// Route performs one directions request and returns the first candidate.
func (o *OpenRouteRouter) Route(ctx context.Context, req RoutingRequest) (*RouteResult, error) {
	body := orsRequest{
		Coordinates:        [][2]float64{lonLatPair(req.Origin), lonLatPair(req.Destination)},
		Instructions:       true,
		InstructionsFormat: "text",
		Geometry:           true,
		Units:              "m",
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("routing: openroute: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, o.apiURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("routing: openroute: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/geo+json, application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	respBytes, err := exchange(o.httpClient, httpReq)
	if err != nil {
		o.log.Debug("openroute exchange failed", zap.Error(err))
		return nil, err
	}

	return decodeOpenRoute(respBytes)
}

// decodeOpenRoute turns a directions GeoJSON body into a RouteResult.
func decodeOpenRoute(data []byte) (result *RouteResult, err error) {
	defer recoverDecode(&err)

	var resp orsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &ProviderError{Code: CodeMalformedResponse, Message: err.Error()}
	}
	if resp.Features == nil {
		return nil, &ProviderError{Code: CodeMissingField, Message: "response has no features member"}
	}
	if len(*resp.Features) == 0 {
		return nil, ErrEmptyRoute
	}

	route := (*resp.Features)[0]
	if route.Geometry == nil {
		return nil, &ProviderError{Code: CodeMissingField, Message: "route has no geometry"}
	}

	path, err := lonLatPath(route.Geometry.Coordinates)
	if err != nil {
		return nil, err
	}

	instructions := make([]Instruction, 0)
	for _, seg := range route.Properties.Segments {
		for _, step := range seg.Steps {
			instructions = append(instructions, Instruction{
				Text:            step.Instruction,
				DistanceMeters:  step.Distance,
				DurationSeconds: step.Duration,
			})
		}
	}

	result = &RouteResult{
		Geometry:     path,
		Instructions: instructions,
	}
	if s := route.Properties.Summary; s != nil {
		result.TotalDistanceMeters = s.Distance
		result.TotalDurationSeconds = s.Duration
	}
	return result, nil
}

// --- JSON types for the openrouteservice directions API ---

type orsRequest struct {
	Coordinates        [][2]float64 `json:"coordinates"`
	Instructions       bool         `json:"instructions"`
	InstructionsFormat string       `json:"instructions_format"`
	Geometry           bool         `json:"geometry"`
	Units              string       `json:"units"`
}

type orsResponse struct {
	Features *[]orsFeature `json:"features"`
}

type orsFeature struct {
	Geometry   *orsGeometry  `json:"geometry"`
	Properties orsProperties `json:"properties"`
}

type orsGeometry struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

type orsProperties struct {
	Segments []orsSegment `json:"segments"`
	Summary  *orsSummary  `json:"summary"`
}

type orsSegment struct {
	Distance float64   `json:"distance"`
	Duration float64   `json:"duration"`
	Steps    []orsStep `json:"steps"`
}

type orsStep struct {
	Distance    float64 `json:"distance"`
	Duration    float64 `json:"duration"`
	Type        int     `json:"type"`
	Instruction string  `json:"instruction"`
	Name        string  `json:"name"`
}

type orsSummary struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
}
