package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisOptions configure the shared cache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis shares cached snapshots between server replicas.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedis connects to Redis lazily; failures surface as cache misses.
func NewRedis(opts RedisOptions, logger zerolog.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Redis{
		client: client,
		ttl:    opts.TTL,
		logger: logger.With().Str("component", "redis_cache").Logger(),
	}
}

// Get returns the cached bytes if present.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		return nil, false
	}
	return data, true
}

// Put stores value with the configured TTL.
func (r *Redis) Put(ctx context.Context, key string, value []byte) {
	if r.ttl <= 0 {
		return
	}
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("cache put failed")
	}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Cache = (*Redis)(nil)
