package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mmcloughlin/geohash"
	"go.uber.org/zap"
)

const (
	// DefaultCacheTTL is how long a cached route entry remains valid.
	DefaultCacheTTL = 10 * time.Minute

	// cacheQueryTimeout is the deadline for each cache read/write.
	cacheQueryTimeout = 5 * time.Second

	// geohashPrecision controls the spatial resolution of both endpoints.
	// Precision 7 is a ±76m latitude / ±152m longitude cell, finer than the
	// distance between neighbouring pickup addresses on most streets.
	geohashPrecision = 7
)

// CacheStore abstracts the persistence layer for route caching.
type CacheStore interface {
	// GetCachedRoute returns the cached route for key, or (nil, nil) when
	// there is no valid (non-expired) entry.
	GetCachedRoute(ctx context.Context, key string) (*RouteResult, error)

	// SetCachedRoute upserts a route entry expiring after ttl.
	SetCachedRoute(ctx context.Context, key string, route *RouteResult, ttl time.Duration) error
}

// CachedRouter wraps another Router and transparently caches successful
// results. Failures are never cached, so a provider outage does not outlive
// the outage itself.
type CachedRouter struct {
	inner      Router
	store      CacheStore
	ttl        time.Duration
	log        *zap.Logger
	afterStore func() // optional hook called after every async store attempt; used in tests for synchronization
}

// CachedRouterOption configures a CachedRouter.
type CachedRouterOption func(*CachedRouter)

// WithLogger sets the logger used to report cache failures.
func WithLogger(l *zap.Logger) CachedRouterOption {
	return func(r *CachedRouter) {
		if l != nil {
			r.log = l
		}
	}
}

// WithTTL overrides DefaultCacheTTL.
func WithTTL(ttl time.Duration) CachedRouterOption {
	return func(r *CachedRouter) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// withAfterStore sets a hook called after every async store attempt (success or
// failure). Intended exclusively for test synchronization.
func withAfterStore(fn func()) CachedRouterOption {
	return func(r *CachedRouter) { r.afterStore = fn }
}

// NewCachedRouter wraps inner with a cache-aside layer backed by store.
func NewCachedRouter(inner Router, store CacheStore, opts ...CachedRouterOption) *CachedRouter {
	r := &CachedRouter{inner: inner, store: store, ttl: DefaultCacheTTL, log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Route satisfies the Router interface.
// It checks the cache first; on a miss it delegates to the inner Router and
// persists the result.
func (r *CachedRouter) Route(ctx context.Context, req RoutingRequest) (*RouteResult, error) {
	key := routeKey(req)

	cached, err := r.store.GetCachedRoute(ctx, key)
	if err != nil {
		// Cache read failures are non-fatal: fall through to the real router.
		r.log.Warn("route cache read failed", zap.String("key", key), zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}

	resp, err := r.inner.Route(ctx, req)
	if err != nil {
		return nil, err
	}

	// Persist asynchronously with a detached context so a caller that
	// disposes its session right after the answer does not abort the write.
	go func() {
		storeCtx, cancel := context.WithTimeout(context.Background(), cacheQueryTimeout)
		defer cancel()

		if err := r.store.SetCachedRoute(storeCtx, key, resp, r.ttl); err != nil {
			r.log.Warn("route cache async write failed", zap.String("key", key), zap.Error(err))
		}

		if r.afterStore != nil {
			r.afterStore()
		}
	}()

	return resp, nil
}

// routeKey identifies the (origin cell, destination cell) pair.
func routeKey(req RoutingRequest) string {
	return geohash.EncodeWithPrecision(req.Origin.Latitude, req.Origin.Longitude, geohashPrecision) +
		":" +
		geohash.EncodeWithPrecision(req.Destination.Latitude, req.Destination.Longitude, geohashPrecision)
}

// --- pgx-backed CacheStore implementation ---

// Querier is the subset of *pgxpool.Pool used by the Postgres store. pgxmock
// pools satisfy it as well.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgCacheStore is the Postgres implementation of CacheStore.
type PgCacheStore struct {
	db Querier
}

// NewPgCacheStore creates a CacheStore backed by db.
func NewPgCacheStore(db Querier) *PgCacheStore {
	return &PgCacheStore{db: db}
}

// GetCachedRoute queries route_cache for a valid (non-expired) entry.
func (s *PgCacheStore) GetCachedRoute(ctx context.Context, key string) (*RouteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheQueryTimeout)
	defer cancel()

	const q = `
		SELECT payload
		FROM route_cache
		WHERE cache_key  = $1
		  AND expires_at > NOW()`

	var payload []byte
	err := s.db.QueryRow(ctx, q, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // cache miss
	}
	if err != nil {
		return nil, fmt.Errorf("routing: cache: get: %w", err)
	}

	var route RouteResult
	if err := json.Unmarshal(payload, &route); err != nil {
		return nil, fmt.Errorf("routing: cache: decode %q: %w", key, err)
	}
	return &route, nil
}

// SetCachedRoute upserts a route entry into route_cache.
// The expiry is computed in Go so the TTL has a single source of truth.
func (s *PgCacheStore) SetCachedRoute(ctx context.Context, key string, route *RouteResult, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, cacheQueryTimeout)
	defer cancel()

	payload, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("routing: cache: encode %q: %w", key, err)
	}

	const q = `
		INSERT INTO route_cache (cache_key, payload, calc_ts, expires_at)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT (cache_key)
		DO UPDATE SET
			payload    = EXCLUDED.payload,
			calc_ts    = EXCLUDED.calc_ts,
			expires_at = EXCLUDED.expires_at`

	if _, err := s.db.Exec(ctx, q, key, string(payload), time.Now().Add(ttl)); err != nil {
		return fmt.Errorf("routing: cache: set: %w", err)
	}
	return nil
}

// Prune deletes expired entries and returns how many were removed.
func (s *PgCacheStore) Prune(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheQueryTimeout)
	defer cancel()

	tag, err := s.db.Exec(ctx, `DELETE FROM route_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("routing: cache: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}
