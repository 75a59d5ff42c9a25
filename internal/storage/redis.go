package storage

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/net/context"

	"github.com/markethub/admission-gateway/internal/circuitbreaker"
)

// RedisClient is the engine's counter store. Every call goes through a
// circuit breaker so that a Redis outage degrades to fast failures
// instead of a timeout per request; the admission controller maps
// those failures to fail-open decisions.
type RedisClient struct {
	client  *redis.Client
	breaker *circuitbreaker.Breaker
	log     zerolog.Logger
}

func NewRedis(addr, password string, db int, log zerolog.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{
		client:  client,
		breaker: circuitbreaker.New(circuitbreaker.Config{}, log),
		log:     log.With().Str("component", "redis").Logger(),
	}, nil
}

// Get returns the value for key and whether it exists.
func (r *RedisClient) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found bool

	err := r.breaker.Do(func() error {
		result, err := r.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		value = result
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// Set stores value with a TTL. Zero TTL persists the key.
func (r *RedisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.breaker.Do(func() error {
		return r.client.Set(ctx, key, value, ttl).Err()
	})
}

func (r *RedisClient) Delete(ctx context.Context, key string) error {
	return r.breaker.Do(func() error {
		return r.client.Del(ctx, key).Err()
	})
}

// DeletePattern removes every key starting with prefix using SCAN so a
// large keyspace never blocks Redis the way KEYS would.
func (r *RedisClient) DeletePattern(ctx context.Context, prefix string) error {
	return r.breaker.Do(func() error {
		iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
				return err
			}
		}
		return iter.Err()
	})
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// BreakerState exposes the store guard's state for the admin API.
func (r *RedisClient) BreakerState() string {
	return r.breaker.State().String()
}

// ResetBreaker forces the store guard closed.
func (r *RedisClient) ResetBreaker() {
	r.breaker.Reset()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
