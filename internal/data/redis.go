package data

import (
	"context"
	"fmt"
	"time"

	"hashmatch/internal/conf"
	pkgredis "hashmatch/internal/pkg/redis"

	"github.com/go-kratos/kratos/v2/log"
	redis "github.com/redis/go-redis/v9"
)

// NewRedisCache creates a new Redis cache from configuration.
func NewRedisCache(c *conf.Data, logger log.Logger) (pkgredis.Cache, func(), error) {
	helper := log.NewHelper(logger)
	rc := c.GetRedis()
	if rc == nil || rc.Addr == "" {
		return nil, nil, fmt.Errorf("data.redis.addr is not configured")
	}

	// Build connection options from config
	opts := &redis.Options{
		Addr:     rc.Addr,
		Network:  rc.Network,
		Password: rc.Password,
		DB:       rc.Db,
	}
	if rc.ReadTimeout != nil {
		opts.ReadTimeout = rc.ReadTimeout.AsDuration()
	}
	if rc.WriteTimeout != nil {
		opts.WriteTimeout = rc.WriteTimeout.AsDuration()
	}

	client := redis.NewClient(opts)

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		helper.Errorf("failed to connect to Redis at %s: %v", rc.Addr, err)
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	helper.Infof("connected to Redis at %s", rc.Addr)

	cleanup := func() {
		helper.Info("closing Redis connection")
		client.Close()
	}
	return pkgredis.NewWithClient(client), cleanup, nil
}
