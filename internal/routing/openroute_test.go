package routing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
)

// newFakeOpenRouteServer starts an httptest.Server standing in for the
// openrouteservice directions endpoint and returns a router pointed at it.
func newFakeOpenRouteServer(t *testing.T, h http.HandlerFunc, opts ...OpenRouteOption) *OpenRouteRouter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	opts = append([]OpenRouteOption{WithOpenRouteBaseURL(srv.URL)}, opts...)
	return NewOpenRouteRouter("test-api-key", "", opts...)
}

// threePointRoute is the end-to-end fixture: 3 geometry points, 2 steps,
// 1500 m / 300 s. Coordinates are [lon, lat] as on the wire.
const threePointRoute = `{
  "type": "FeatureCollection",
  "features": [{
    "type": "Feature",
    "geometry": {"type": "LineString", "coordinates": [[7.490, 9.060], [7.494, 9.058], [7.498, 9.056]]},
    "properties": {
      "segments": [{
        "distance": 1500, "duration": 300,
        "steps": [
          {"distance": 900, "duration": 180, "type": 11, "instruction": "Head southeast on Ahmadu Bello Way", "name": "Ahmadu Bello Way"},
          {"distance": 600, "duration": 120, "type": 10, "instruction": "Arrive at your destination", "name": "-"}
        ]
      }],
      "summary": {"distance": 1500, "duration": 300}
    }
  }]
}`

func TestOpenRouteRouter_Success(t *testing.T) {
	var gotBody orsRequest
	var gotAuth, gotPath string
	router := newFakeOpenRouteServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(threePointRoute))
	})

	res, err := router.Route(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Bearer test-api-key" {
		t.Errorf("Authorization = %q, want bearer credential", gotAuth)
	}
	if gotPath != "/v2/directions/driving-car/geojson" {
		t.Errorf("path = %q", gotPath)
	}
	if !gotBody.Instructions || gotBody.InstructionsFormat != "text" || !gotBody.Geometry {
		t.Errorf("request must ask for text instructions and geometry, got %+v", gotBody)
	}

	if len(res.Geometry) != 3 {
		t.Fatalf("geometry has %d points, want 3", len(res.Geometry))
	}
	if len(res.Instructions) != 2 {
		t.Fatalf("instructions = %d, want 2", len(res.Instructions))
	}
	if res.Instructions[0].Text != "Head southeast on Ahmadu Bello Way" || res.Instructions[0].DistanceMeters != 900 {
		t.Errorf("first instruction = %+v", res.Instructions[0])
	}
	if res.TotalDistanceMeters != 1500 || res.TotalDurationSeconds != 300 {
		t.Errorf("totals = %v m / %v s, want 1500 / 300", res.TotalDistanceMeters, res.TotalDurationSeconds)
	}
}

func TestOpenRouteRouter_CoordinateOrder(t *testing.T) {
	// The request carries [lon, lat], origin first; the response is converted
	// back to lat/lon. Getting either direction backwards moves the pin
	// across the globe, so both are asserted explicitly.
	var gotBody orsRequest
	router := newFakeOpenRouteServer(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(threePointRoute))
	})

	res, err := router.Route(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gotBody.Coordinates) != 2 {
		t.Fatalf("request has %d coordinates, want 2", len(gotBody.Coordinates))
	}
	if gotBody.Coordinates[0] != [2]float64{7.490, 9.060} {
		t.Errorf("origin on the wire = %v, want [lon lat] = [7.49 9.06]", gotBody.Coordinates[0])
	}
	if gotBody.Coordinates[1] != [2]float64{7.498, 9.056} {
		t.Errorf("destination on the wire = %v, want [7.498 9.056]", gotBody.Coordinates[1])
	}

	if first := res.Geometry[0]; first.Latitude != 9.060 || first.Longitude != 7.490 {
		t.Errorf("first point = %+v, want latitude 9.060 longitude 7.490", first)
	}
	if last := res.Geometry[2]; last != geo.New(9.056, 7.498) {
		t.Errorf("last point = %+v, want destination", last)
	}
}

func TestOpenRouteRouter_NonSuccessStatus(t *testing.T) {
	router := newFakeOpenRouteServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		// A route-shaped body must still not be parsed.
		_, _ = w.Write([]byte(threePointRoute))
	})

	res, err := router.Route(context.Background(), testRequest)
	if res != nil {
		t.Fatalf("expected no route on 503, got %+v", res)
	}
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %T %v", err, err)
	}
	if netErr.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", netErr.Status)
	}
}

func TestOpenRouteRouter_EmptyRoute(t *testing.T) {
	router := newFakeOpenRouteServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	})

	_, err := router.Route(context.Background(), testRequest)
	if !errors.Is(err, ErrEmptyRoute) {
		t.Fatalf("expected ErrEmptyRoute, got %v", err)
	}
}

func TestOpenRouteRouter_Timeout(t *testing.T) {
	release := make(chan struct{})
	router := newFakeOpenRouteServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithOpenRouteTimeout(30*time.Millisecond))
	defer close(release)

	_, err := router.Route(context.Background(), testRequest)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError on timeout, got %T %v", err, err)
	}
	if !netErr.Timeout() {
		t.Errorf("expected Timeout() to be true, err = %v", netErr.Err)
	}
}

func TestOpenRouteRouter_TruncatedBody(t *testing.T) {
	router := newFakeOpenRouteServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Promise more than is sent; the client sees an unexpected EOF.
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"features": [`))
	})

	_, err := router.Route(context.Background(), testRequest)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %T %v", err, err)
	}
	if netErr.Status != 0 {
		t.Errorf("Status = %d, want 0 for a failed body read", netErr.Status)
	}
	if !strings.Contains(netErr.Error(), "read response") {
		t.Errorf("Error() = %q, want the read failure", netErr.Error())
	}
	if f := Classify(err); f.Kind != KindNetwork || f.Status != 0 {
		t.Errorf("Classify = %+v, want network failure without status", f)
	}
}

func TestDecodeOpenRoute(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantCode string
		check    func(t *testing.T, res *RouteResult)
	}{
		{
			name:     "malformed json",
			body:     `{"features": [`,
			wantCode: CodeMalformedResponse,
		},
		{
			name:     "missing features",
			body:     `{"type":"FeatureCollection"}`,
			wantCode: CodeMissingField,
		},
		{
			name:     "missing geometry",
			body:     `{"features":[{"properties":{}}]}`,
			wantCode: CodeMissingField,
		},
		{
			name:     "single point geometry",
			body:     `{"features":[{"geometry":{"coordinates":[[7.49,9.06]]},"properties":{}}]}`,
			wantCode: CodeInvalidGeometry,
		},
		{
			name:     "short coordinate pair",
			body:     `{"features":[{"geometry":{"coordinates":[[7.49,9.06],[7.5]]},"properties":{}}]}`,
			wantCode: CodeInvalidGeometry,
		},
		{
			name:     "out of range coordinate",
			body:     `{"features":[{"geometry":{"coordinates":[[7.49,9.06],[7.5,123]]},"properties":{}}]}`,
			wantCode: CodeInvalidGeometry,
		},
		{
			name: "no steps and no summary",
			body: `{"features":[{"geometry":{"coordinates":[[7.49,9.06],[7.498,9.056]]},"properties":{"segments":[{"steps":[]}]}}]}`,
			check: func(t *testing.T, res *RouteResult) {
				if res.Instructions == nil || len(res.Instructions) != 0 {
					t.Errorf("instructions = %#v, want empty non-nil slice", res.Instructions)
				}
				if res.TotalDistanceMeters != 0 || res.TotalDurationSeconds != 0 {
					t.Errorf("totals = %v/%v, want 0/0", res.TotalDistanceMeters, res.TotalDurationSeconds)
				}
			},
		},
		{
			name: "steps flattened across segments in order",
			body: `{"features":[{"geometry":{"coordinates":[[7.49,9.06],[7.498,9.056]]},"properties":{
				"segments":[{"steps":[{"instruction":"a"},{"instruction":"b"}]},{"steps":[{"instruction":"c"}]}]}}]}`,
			check: func(t *testing.T, res *RouteResult) {
				var got []string
				for _, in := range res.Instructions {
					got = append(got, in.Text)
				}
				if strings.Join(got, ",") != "a,b,c" {
					t.Errorf("instructions = %v, want [a b c]", got)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := decodeOpenRoute([]byte(tc.body))
			if tc.wantCode != "" {
				var provErr *ProviderError
				if !errors.As(err, &provErr) {
					t.Fatalf("expected *ProviderError, got %T %v", err, err)
				}
				if provErr.Code != tc.wantCode {
					t.Errorf("code = %q, want %q", provErr.Code, tc.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.check(t, res)
		})
	}
}

func TestLonLatPath(t *testing.T) {
	path, err := lonLatPath([][]float64{{7.490, 9.060, 480}, {7.498, 9.056}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []geo.Coordinate{geo.New(9.060, 7.490), geo.New(9.056, 7.498)}
	for i := range want {
		if path[i] != want[i] {
			t.Errorf("path[%d] = %+v, want %+v", i, path[i], want[i])
		}
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
	if f := Classify(ErrEmptyRoute); f.Kind != KindEmpty {
		t.Errorf("kind = %q, want %q", f.Kind, KindEmpty)
	}
	if f := Classify(&NetworkError{Status: 503}); f.Kind != KindNetwork || f.Status != 503 {
		t.Errorf("unexpected failure %+v", f)
	}
	if f := Classify(&ProviderError{Code: "2010", Message: "point not routable"}); f.Kind != KindProvider || f.Code != "2010" {
		t.Errorf("unexpected failure %+v", f)
	}
	if f := Classify(errors.New("boom")); f.Kind != KindUnknown {
		t.Errorf("kind = %q, want %q", f.Kind, KindUnknown)
	}
}
