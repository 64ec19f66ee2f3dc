package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/five82/segcache/internal/query"
)

// RedisFetcher reads records stored as Redis hashes. The record for a query
// lives at <prefix><resource>:<encoded query>, for example
// "segcache:users:username=alice".
type RedisFetcher struct {
	client redis.Cmdable
	prefix string
}

var _ Fetcher = (*RedisFetcher)(nil)

// NewRedisFetcher wraps client. prefix may be empty.
func NewRedisFetcher(client redis.Cmdable, prefix string) *RedisFetcher {
	return &RedisFetcher{client: client, prefix: prefix}
}

// Key returns the hash key holding the record for q.
func (f *RedisFetcher) Key(resource string, q query.Flat) string {
	return f.prefix + resource + ":" + q.Encode()
}

// Lookup returns the hash fields as a record. A missing hash is ErrNotFound.
func (f *RedisFetcher) Lookup(ctx context.Context, resource string, q query.Flat) (map[string]any, error) {
	key := f.Key(resource, q)
	fields, err := f.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	rec := make(map[string]any, len(fields))
	for k, v := range fields {
		rec[k] = v
	}
	return rec, nil
}
