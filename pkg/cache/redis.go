package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string        `env:"ADDR"`
	Password  string        `env:"PASSWORD"`
	DB        int           `env:"DB" envDefault:"0"`
	CacheTTL  time.Duration `env:"TTL" envDefault:"1m"`
	KeyPrefix string        `env:"KEY_PREFIX" envDefault:"userquery:"`
	// WriteTimeout bounds the background write-back after a source hit.
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
}

// RedisCache is a read-through cache backed by Redis and shared between
// processes. Values are stored as JSON. On a miss, or when Redis itself is
// failing, it falls back to the configured Source and writes the result back
// in the background.
type RedisCache[K any, V any] struct {
	redisClient  redis.UniversalClient
	logger       zerolog.Logger
	ttl          time.Duration
	prefix       string
	writeTimeout time.Duration
	fallback     Source[K, V]
	writes       sync.WaitGroup
}

// NewRedisCache creates and connects a new RedisCache.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisCache[K any, V any](
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
	fallback Source[K, V],
) (*RedisCache[K, V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return NewRedisCacheWithClient(rdb, cfg, logger, fallback), nil
}

// NewRedisCacheWithClient wraps an already connected client. The cache takes
// ownership of the client and closes it on Close.
func NewRedisCacheWithClient[K any, V any](
	client redis.UniversalClient,
	cfg *RedisConfig,
	logger zerolog.Logger,
	fallback Source[K, V],
) *RedisCache[K, V] {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &RedisCache[K, V]{
		redisClient:  client,
		logger:       logger.With().Str("component", "RedisCache").Logger(),
		ttl:          cfg.CacheTTL,
		prefix:       cfg.KeyPrefix,
		writeTimeout: writeTimeout,
		fallback:     fallback,
	}
}

// Fetch retrieves an item by key. It first checks Redis. On a cache miss, if a
// fallback is configured, it fetches from the fallback, writes the result back
// to Redis in the background, and returns the value. Errors from the fallback
// are returned unchanged so callers can classify them.
func (c *RedisCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V

	value, err := c.FetchFromCache(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, redis.Nil) {
		// Redis being unavailable must not take the source down with it.
		c.logger.Warn().Err(err).Str("key", c.redisKey(key)).Msg("Redis read failed, falling back to source.")
	}

	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' not found in cache and no fallback is configured", key)
	}

	sourceValue, sourceErr := c.fallback.Fetch(ctx, key)
	if sourceErr != nil {
		return zero, sourceErr
	}

	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		writeCtx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		defer cancel()
		if writeErr := c.WriteToCache(writeCtx, key, sourceValue); writeErr != nil {
			c.logger.Error().Err(writeErr).Str("key", c.redisKey(key)).Msg("Failed to write to cache in background.")
		}
	}()

	return sourceValue, nil
}

// FetchFromCache reads a value directly from Redis. A miss is reported as
// redis.Nil.
func (c *RedisCache[K, V]) FetchFromCache(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := c.redisKey(key)
	cachedData, err := c.redisClient.Get(ctx, stringKey).Bytes()
	if err != nil {
		return zero, err
	}

	var value V
	if err := json.Unmarshal(cachedData, &value); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to unmarshal cached data.")
		return zero, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Redis cache hit.")
	return value, nil
}

// WriteToCache sets a value in Redis with the configured TTL.
func (c *RedisCache[K, V]) WriteToCache(ctx context.Context, key K, value V) error {
	stringKey := c.redisKey(key)
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := c.redisClient.Set(ctx, stringKey, jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Successfully stored data in Redis cache.")
	return nil
}

// Invalidate deletes a key from Redis.
func (c *RedisCache[K, V]) Invalidate(ctx context.Context, key K) error {
	stringKey := c.redisKey(key)
	if err := c.redisClient.Del(ctx, stringKey).Err(); err != nil {
		return fmt.Errorf("redis del failed for key %s: %w", stringKey, err)
	}
	return nil
}

// Close waits for pending background writes, then closes the fallback and the
// Redis client.
func (c *RedisCache[K, V]) Close() error {
	c.writes.Wait()
	var errs []error
	if c.fallback != nil {
		if err := c.fallback.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing source: %w", err))
		}
	}
	if c.redisClient != nil {
		c.logger.Info().Msg("Closing Redis client connection...")
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *RedisCache[K, V]) redisKey(key K) string {
	return c.prefix + fmt.Sprintf("%v", key)
}
