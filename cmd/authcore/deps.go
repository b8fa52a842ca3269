// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/kv"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/store"
	"github.com/holomush/authcore/internal/user"
	usermongo "github.com/holomush/authcore/internal/user/mongo"
	userpostgres "github.com/holomush/authcore/internal/user/postgres"
)

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// HashStoreFactory opens the session hash store.
	// Default: go-redis client wrapped in kv.RedisHashStore
	HashStoreFactory func(ctx context.Context, cfg config.RedisConfig) (HashStore, error)

	// UserStoreFactory opens the user record store selected by database.driver.
	// Default: MongoDB or PostgreSQL
	UserStoreFactory func(ctx context.Context, cfg config.DatabaseConfig) (UserStore, error)

	// MigratorFactory creates a PostgreSQL schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// MetricsPusher sends batch metrics to a Pushgateway.
	// Default: observability.Push
	MetricsPusher func(ctx context.Context, url, job string, g prometheus.Gatherer) error

	// Backoff returns the retry policy for initial connections.
	// Default: exponential from 250ms, capped at 5s, 5 retries
	Backoff func() retry.Backoff

	// Clock returns the current time.
	// Default: time.Now
	Clock func() time.Time
}

// HashStore is the session hash store plus connection management.
type HashStore interface {
	kv.HashStore
	Ping(ctx context.Context) error
	Close() error
}

// UserStore is a connected user repository.
type UserStore interface {
	Users() user.Repository
	Ping(ctx context.Context) error
	// EnsureIndexes creates document-store indexes; relational stores rely on
	// migrations and return nil.
	EnsureIndexes(ctx context.Context) error
	Close(ctx context.Context) error
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.HashStoreFactory == nil {
		out.HashStoreFactory = openRedis
	}
	if out.UserStoreFactory == nil {
		out.UserStoreFactory = openUserStore
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if out.MetricsPusher == nil {
		out.MetricsPusher = observability.Push
	}
	if out.Backoff == nil {
		out.Backoff = defaultBackoff
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	return &out
}

func defaultBackoff() retry.Backoff {
	b := retry.NewExponential(250 * time.Millisecond)
	b = retry.WithCappedDuration(5*time.Second, b)
	return retry.WithMaxRetries(5, b)
}

// connect calls open until it succeeds or the backoff gives up.
func connect[T any](ctx context.Context, backoff retry.Backoff, open func(context.Context) (T, error)) (T, error) {
	var conn T
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := open(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}

type redisStore struct {
	*kv.RedisHashStore
	client *redis.Client
}

func (s *redisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return oops.Code("KV_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (HashStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := &redisStore{RedisHashStore: kv.NewRedisHashStore(client), client: client}
	if err := s.Ping(ctx); err != nil {
		_ = client.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("KV_CONNECT_FAILED").With("addr", cfg.Addr).Wrap(err)
	}
	return s, nil
}

func openUserStore(ctx context.Context, cfg config.DatabaseConfig) (UserStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := store.Connect(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return &postgresUserStore{pool: pool, repo: userpostgres.NewUserRepository(pool)}, nil
	case config.DriverMongo:
		client, err := usermongo.Connect(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		coll := client.Database(cfg.Name).Collection(usermongo.CollectionName)
		return &mongoUserStore{client: client, repo: usermongo.NewUserRepository(coll)}, nil
	default:
		return nil, oops.Code("CONFIG_INVALID").With("driver", cfg.Driver).Errorf("unknown database driver")
	}
}

type postgresUserStore struct {
	pool *pgxpool.Pool
	repo *userpostgres.UserRepository
}

func (s *postgresUserStore) Users() user.Repository { return s.repo }

func (s *postgresUserStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("DB_PING_FAILED").Wrap(err)
	}
	return nil
}

func (s *postgresUserStore) EnsureIndexes(context.Context) error { return nil }

func (s *postgresUserStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

type mongoUserStore struct {
	client *mongodriver.Client
	repo   *usermongo.UserRepository
}

func (s *mongoUserStore) Users() user.Repository { return s.repo }

func (s *mongoUserStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return oops.Code("DB_PING_FAILED").Wrap(err)
	}
	return nil
}

func (s *mongoUserStore) EnsureIndexes(ctx context.Context) error {
	return s.repo.EnsureIndexes(ctx)
}

func (s *mongoUserStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return oops.Code("DB_CLOSE_FAILED").Wrap(err)
	}
	return nil
}
