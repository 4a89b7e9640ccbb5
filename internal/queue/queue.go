package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"accessgate/internal/store"
)

// Queue holds grants that were acknowledged to the processor but could not be
// written to the entitlement store. Items are JSON entitlements in a Redis list.
type Queue struct {
	client *redis.Client
	name   string
}

func New(url, name string) (*Queue, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewWithClient(redis.NewClient(opt), name), nil
}

func NewWithClient(client *redis.Client, name string) *Queue {
	if name == "" {
		name = "accessgate:grant_retries"
	}
	return &Queue{client: client, name: name}
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) PushGrant(ctx context.Context, ent store.Entitlement) error {
	b, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.name, b).Err()
}

// PopGrant removes the oldest pending grant. ok is false when the queue is empty.
func (q *Queue) PopGrant(ctx context.Context) (store.Entitlement, bool, error) {
	res, err := q.client.RPop(ctx, q.name).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Entitlement{}, false, nil
	}
	if err != nil {
		return store.Entitlement{}, false, err
	}
	var ent store.Entitlement
	if err := json.Unmarshal(res, &ent); err != nil {
		return store.Entitlement{}, false, fmt.Errorf("decode pending grant: %w", err)
	}
	return ent, true, nil
}

func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

func (q *Queue) Close() error {
	return q.client.Close()
}
