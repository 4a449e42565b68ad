package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/trial-visit-scheduling/internal/config"
)

// NewRedisClient connects with the credentials from cfg and pings once. The
// pool is small: the only traffic is subject lock SETNX/unlock pairs.
func NewRedisClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}

	return rdb, nil
}

// LockKey scopes a subject lock to one visit schedule and schedule.
func LockKey(subject, visitScheduleName, scheduleName string) string {
	return subject + ":" + visitScheduleName + ":" + scheduleName
}
