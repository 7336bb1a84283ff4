package storage

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConnectRedis returns a pinged client for addr.
func ConnectRedis(ctx context.Context, addr, password string, log *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &DBError{Op: "redis_ping", Err: err}
	}

	log.Info("redis connection established", zap.String("addr", addr))
	return client, nil
}
