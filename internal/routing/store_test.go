package routing

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
)

// ---- PgCacheStore ----

func TestPgCacheStore_GetHit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	payload, _ := json.Marshal(testRoute("cached"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload")).
		WithArgs("s1t7d3q:s1t7d6e").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	store := NewPgCacheStore(mock)
	got, err := store.GetCachedRoute(context.Background(), "s1t7d3q:s1t7d6e")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Instructions[0].Text != "cached" {
		t.Fatalf("unexpected route %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPgCacheStore_GetMiss(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM route_cache")).
		WithArgs("k").
		WillReturnError(pgx.ErrNoRows)

	got, err := NewPgCacheStore(mock).GetCachedRoute(context.Background(), "k")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) on miss, got (%v, %v)", got, err)
	}
}

func TestPgCacheStore_GetError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	dbErr := errors.New("connection reset")
	mock.ExpectQuery(regexp.QuoteMeta("FROM route_cache")).
		WithArgs("k").
		WillReturnError(dbErr)

	_, err = NewPgCacheStore(mock).GetCachedRoute(context.Background(), "k")
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestPgCacheStore_Set(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	route := testRoute("stored")
	payload, _ := json.Marshal(route)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO route_cache")).
		WithArgs("k", string(payload), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := NewPgCacheStore(mock).SetCachedRoute(context.Background(), "k", route, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPgCacheStore_Prune(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM route_cache")).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := NewPgCacheStore(mock).Prune(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("pruned = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---- RedisCacheStore ----

func newRedisStore(t *testing.T) (*RedisCacheStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCacheStore(client), mr
}

func TestRedisCacheStore_RoundTripAndExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if got, err := store.GetCachedRoute(ctx, "k"); err != nil || got != nil {
		t.Fatalf("expected miss on empty store, got (%v, %v)", got, err)
	}

	if err := store.SetCachedRoute(ctx, "k", testRoute("redis"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("route:k") {
		t.Fatal("expected key under the route: prefix")
	}

	got, err := store.GetCachedRoute(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Instructions[0].Text != "redis" || len(got.Geometry) != 2 {
		t.Fatalf("unexpected route %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	if got, _ := store.GetCachedRoute(ctx, "k"); got != nil {
		t.Fatalf("expected entry to expire, got %+v", got)
	}
}

func TestRedisCacheStore_CorruptPayload(t *testing.T) {
	store, mr := newRedisStore(t)
	_ = mr.Set("route:k", "{not json")

	if _, err := store.GetCachedRoute(context.Background(), "k"); err == nil {
		t.Fatal("expected decode error for corrupt payload")
	}
}
