package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// ---- CachedRouter ----

// mockCacheStore is a simple in-memory CacheStore for tests.
type mockCacheStore struct {
	mu       sync.Mutex
	data     map[string]*RouteResult
	getErr   error
	setErr   error
	getCalls int
	setCalls int
	lastTTL  time.Duration
}

func newMockCacheStore() *mockCacheStore {
	return &mockCacheStore{data: make(map[string]*RouteResult)}
}

func (m *mockCacheStore) GetCachedRoute(_ context.Context, key string) (*RouteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.data[key], nil
}

func (m *mockCacheStore) SetCachedRoute(_ context.Context, key string, route *RouteResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	m.lastTTL = ttl
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = route
	return nil
}

// mockRouter is a Router that returns a fixed response or error.
type mockRouter struct {
	resp  *RouteResult
	err   error
	calls int
}

func (m *mockRouter) Route(_ context.Context, _ RoutingRequest) (*RouteResult, error) {
	m.calls++
	return m.resp, m.err
}

var testRequest = RoutingRequest{
	Origin:      geo.New(9.060, 7.490),
	Destination: geo.New(9.056, 7.498),
}

func testRoute(label string) *RouteResult {
	return &RouteResult{
		Geometry:            []geo.Coordinate{testRequest.Origin, testRequest.Destination},
		Instructions:        []Instruction{{Text: label}},
		TotalDistanceMeters: 1500,
	}
}

// waitFor blocks until done is closed or the deadline passes.
func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async cache write")
	}
}

func TestCachedRouter_CacheMiss_CallsInnerAndCaches(t *testing.T) {
	store := newMockCacheStore()
	inner := &mockRouter{resp: testRoute("fresh")}

	done := make(chan struct{})
	cr := NewCachedRouter(inner, store, WithTTL(time.Minute), withAfterStore(func() { close(done) }))

	got, err := cr.Route(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Instructions[0].Text != "fresh" {
		t.Errorf("instruction = %q, want %q", got.Instructions[0].Text, "fresh")
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}

	waitFor(t, done)
	if store.setCalls != 1 {
		t.Errorf("SetCachedRoute called %d times, want 1", store.setCalls)
	}
	if store.lastTTL != time.Minute {
		t.Errorf("ttl = %v, want 1m", store.lastTTL)
	}
}

func TestCachedRouter_CacheHit_DoesNotCallInner(t *testing.T) {
	store := newMockCacheStore()
	inner := &mockRouter{resp: testRoute("fresh")}
	cr := NewCachedRouter(inner, store)

	store.data[routeKey(testRequest)] = testRoute("cached")

	got, err := cr.Route(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Instructions[0].Text != "cached" {
		t.Errorf("instruction = %q, want %q", got.Instructions[0].Text, "cached")
	}
	if inner.calls != 0 {
		t.Errorf("inner called %d times, want 0 (cache hit)", inner.calls)
	}
}

func TestCachedRouter_CacheReadError_FallsThrough(t *testing.T) {
	store := newMockCacheStore()
	store.getErr = errors.New("db down")
	inner := &mockRouter{resp: testRoute("ok")}
	cr := NewCachedRouter(inner, store)

	got, err := cr.Route(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1 (cache error should fall through)", inner.calls)
	}
	if got.Instructions[0].Text != "ok" {
		t.Errorf("instruction = %q, want %q", got.Instructions[0].Text, "ok")
	}
}

func TestCachedRouter_InnerError_PropagatedAndNotCached(t *testing.T) {
	store := newMockCacheStore()
	inner := &mockRouter{err: &NetworkError{Status: 503}}
	cr := NewCachedRouter(inner, store)

	_, err := cr.Route(context.Background(), testRequest)
	var netErr *NetworkError
	if !errors.As(err, &netErr) || netErr.Status != 503 {
		t.Fatalf("expected NetworkError(503), got %v", err)
	}

	// Failures are returned before the async write is scheduled.
	if store.setCalls != 0 {
		t.Errorf("SetCachedRoute called %d times, want 0", store.setCalls)
	}
}

func TestCachedRouter_AsyncWriteError_IsLogged(t *testing.T) {
	store := newMockCacheStore()
	store.setErr = errors.New("write failed")

	core, logs := observer.New(zap.WarnLevel)
	done := make(chan struct{})
	cr := NewCachedRouter(&mockRouter{resp: testRoute("abc")}, store,
		WithLogger(zap.New(core)),
		withAfterStore(func() { close(done) }),
	)

	if _, err := cr.Route(context.Background(), testRequest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, done)

	entries := logs.FilterMessage("route cache async write failed").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d write failures, want 1", len(entries))
	}
	if entries[0].ContextMap()["key"] != routeKey(testRequest) {
		t.Errorf("log key = %v, want %q", entries[0].ContextMap()["key"], routeKey(testRequest))
	}
}

// ---- routeKey ----

func TestRouteKey_Deterministic(t *testing.T) {
	if routeKey(testRequest) != routeKey(testRequest) {
		t.Error("routeKey not deterministic")
	}
}

func TestRouteKey_DirectionMatters(t *testing.T) {
	reversed := RoutingRequest{Origin: testRequest.Destination, Destination: testRequest.Origin}
	if routeKey(testRequest) == routeKey(reversed) {
		t.Error("reversed request must not share a cache key")
	}
}

func TestRouteKey_NearbyOriginsShareCell(t *testing.T) {
	nudged := testRequest
	nudged.Origin = geo.New(testRequest.Origin.Latitude+0.00001, testRequest.Origin.Longitude)
	if routeKey(testRequest) != routeKey(nudged) {
		t.Error("origins ~1m apart should share a geohash cell")
	}
}
