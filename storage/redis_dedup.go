package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupKeyPrefix namespaces dedup keys in a shared Redis.
const DefaultDedupKeyPrefix = "argus:dedup:"

// RedisDedupIndex is a DedupIndex shared across processes. Reservation is a
// SETNX with the retention horizon as expiry.
type RedisDedupIndex struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDedupIndex creates an index over client.
func NewRedisDedupIndex(client *redis.Client, prefix string, ttl time.Duration) *RedisDedupIndex {
	if prefix == "" {
		prefix = DefaultDedupKeyPrefix
	}
	return &RedisDedupIndex{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisDedupIndex) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return ok, nil
}

func (r *RedisDedupIndex) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis Del failed: %w", err)
	}
	return nil
}

const purgeBatch = 500

// Purge deletes every key under the prefix. Keys are collected by a full
// SCAN before any is deleted, since deleting mid-scan can skip keys.
func (r *RedisDedupIndex) Purge(ctx context.Context) error {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", purgeBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	for start := 0; start < len(keys); start += purgeBatch {
		end := min(start+purgeBatch, len(keys))
		if err := r.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("redis Del failed: %w", err)
		}
	}
	return nil
}

// Count returns the number of keys under the prefix.
func (r *RedisDedupIndex) Count(ctx context.Context) (int, error) {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}
