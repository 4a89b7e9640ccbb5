package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one JSON document per entitlement under keyPrefix +
// Key.Encode(). Records have no TTL; expiry is evaluated on read.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func OpenRedis(url, keyPrefix string) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("missing redis url")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisStore(redis.NewClient(opt), keyPrefix), nil
}

func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "accessgate:entitlement:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisStore) key(k Key) string { return r.keyPrefix + k.Encode() }

func (r *RedisStore) Get(ctx context.Context, key Key) (Entitlement, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entitlement{}, false, nil
	}
	if err != nil {
		return Entitlement{}, false, err
	}
	var ent Entitlement
	if err := json.Unmarshal(val, &ent); err != nil {
		return Entitlement{}, false, fmt.Errorf("decode entitlement %s: %w", r.key(key), err)
	}
	return ent, true, nil
}

func (r *RedisStore) Put(ctx context.Context, ent Entitlement) error {
	b, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(ent.Key()), b, 0).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
