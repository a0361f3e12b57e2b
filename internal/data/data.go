package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hashmatch/internal/conf"
	pkgredis "hashmatch/internal/pkg/redis"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewBankRepo,
	NewIndexRepo,
)

const (
	DriverMemory     = "memory"
	DriverFilesystem = "filesystem"
	DriverPostgres   = "postgres"
	DriverRedis      = "redis"
	DriverS3         = "s3"
)

// Data holds the clients of whichever backends the configuration selects.
// Unused clients are nil.
type Data struct {
	Pool  *pgxpool.Pool  // bank store and postgres index store
	Cache pkgredis.Cache // redis index store
	S3    S3Client       // s3 index store
}

// NewData connects the backends named by the bank and index store drivers.
func NewData(c *conf.Data, logger log.Logger) (*Data, func(), error) {
	helper := log.NewHelper(logger)
	ctx := context.Background()

	d := &Data{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	indexDriver := c.GetIndexStore().GetDriver()
	if c.GetBankStoreDriver() == DriverPostgres || indexDriver == DriverPostgres {
		pool, err := NewPool(ctx, c.GetDatabase())
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() {
			helper.Info("closing db connections")
			pool.Close()
		})
		if c.GetDatabase().AutoMigrate {
			if err := RunMigrateWithPool(pool); err != nil {
				cleanup()
				return nil, nil, err
			}
		}
		d.Pool = pool
	}

	switch indexDriver {
	case DriverRedis:
		cache, closeRedis, err := NewRedisCache(c, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, closeRedis)
		d.Cache = cache
	case DriverS3:
		client, err := NewS3Client(ctx, c.GetS3())
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		d.S3 = client
	}

	return d, cleanup, nil
}

// NewPool opens and pings a pgx pool.
func NewPool(ctx context.Context, c *conf.Data_Database) (*pgxpool.Pool, error) {
	if c == nil || c.Source == "" {
		return nil, errors.New("data.database.source is not configured")
	}
	cfg, err := newPgxPoolConfig(c)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pool, nil
}

// newPgxPoolConfig creates a pgxpool.Config from conf.Data_Database
func newPgxPoolConfig(c *conf.Data_Database) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(c.Source)
	if err != nil {
		return nil, err
	}
	pool := c.Pool
	if pool == nil {
		return cfg, nil
	}
	if pool.MaxOpenConns > 0 {
		cfg.MaxConns = pool.MaxOpenConns
	}
	if pool.MinIdleConns > 0 {
		cfg.MinConns = pool.MinIdleConns
	}
	if pool.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = time.Duration(pool.MaxConnLifetime) * time.Minute
	}
	if pool.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = time.Duration(pool.MaxConnIdleTime) * time.Minute
	}
	return cfg, nil
}
