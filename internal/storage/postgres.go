// Package storage connects the service to its backing stores: Postgres for
// the route cache and its migrations, Redis for the route cache and the
// session event bus.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// DBError represents a database-related error.
type DBError struct {
	Op  string
	Err error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("db error during %q: %v", e.Op, e.Err)
}

func (e *DBError) Unwrap() error { return e.Err }

// ConnectPostgres opens and pings a pgx pool for dsn.
func ConnectPostgres(ctx context.Context, dsn string, log *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &DBError{Op: "parse_dsn", Err: err}
	}

	poolCfg.MaxConns = 10
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &DBError{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &DBError{Op: "ping", Err: err}
	}

	log.Info("database connection pool established",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database))
	return pool, nil
}
