// Package redis provides an elk.KeyValue in Redis, so that workers enriching
// in parallel share identity lookups.
package redis

import (
	"context"
	"time"

	"github.com/grimoire/elk"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key.
	Prefix string
}

// commander is the part of the Redis client KeyValue uses.
type commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// KeyValue is an elk.KeyValue in Redis. Expiry is left to Redis.
type KeyValue struct {
	rdb    commander
	prefix string
}

var _ elk.KeyValue = &KeyValue{}

// NewKeyValue connects to Redis and checks that it answers.
func NewKeyValue(cfg Config) (*KeyValue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "connecting to Redis at %s", cfg.Addr)
	}
	return &KeyValue{rdb: rdb, prefix: cfg.Prefix}, nil
}

// Close closes the Redis connection.
func (kv *KeyValue) Close() error {
	return kv.rdb.Close()
}

// Get implements elk.KeyValue.
func (kv *KeyValue) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := kv.rdb.Get(ctx, kv.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Wrapf(err, "getting %s", key)
	}
	return val, true, nil
}

// Set implements elk.KeyValue.
func (kv *KeyValue) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return errors.Wrapf(kv.rdb.Set(ctx, kv.prefix+key, val, ttl).Err(), "setting %s", key)
}
