// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package kv provides a flat string-keyed hash store abstraction and its
// Redis implementation.
package kv

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// scanBatch is the COUNT hint passed to HSCAN.
const scanBatch = 512

// HashStore is a collection of named hashes mapping fields to string values.
// There is no per-field expiry.
type HashStore interface {
	// HGet returns the value of field in key. ok is false when the field is absent.
	HGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	// HExists reports whether field is set in key.
	HExists(ctx context.Context, key, field string) (bool, error)
	// HSet writes field in key.
	HSet(ctx context.Context, key, field, value string) error
	// HDel removes fields from key and returns how many were present.
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	// HScan calls fn for every field of key. Iteration stops on the first error from fn.
	HScan(ctx context.Context, key string, fn func(field, value string) error) error
}

// RedisHashStore implements HashStore on Redis hashes.
type RedisHashStore struct {
	client redis.UniversalClient
}

// NewRedisHashStore wraps an existing Redis client.
func NewRedisHashStore(client redis.UniversalClient) *RedisHashStore {
	return &RedisHashStore{client: client}
}

// HGet implements HashStore.
func (s *RedisHashStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	value, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, oops.Code("KV_HGET_FAILED").With("key", key).Wrap(err)
	}
	return value, true, nil
}

// HExists implements HashStore.
func (s *RedisHashStore) HExists(ctx context.Context, key, field string) (bool, error) {
	ok, err := s.client.HExists(ctx, key, field).Result()
	if err != nil {
		return false, oops.Code("KV_HEXISTS_FAILED").With("key", key).Wrap(err)
	}
	return ok, nil
}

// HSet implements HashStore.
func (s *RedisHashStore) HSet(ctx context.Context, key, field, value string) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return oops.Code("KV_HSET_FAILED").With("key", key).Wrap(err)
	}
	return nil
}

// HDel implements HashStore.
func (s *RedisHashStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	n, err := s.client.HDel(ctx, key, fields...).Result()
	if err != nil {
		return 0, oops.Code("KV_HDEL_FAILED").
			With("key", key).
			With("fields", len(fields)).
			Wrap(err)
	}
	return n, nil
}

// HScan implements HashStore using HSCAN so large hashes are walked in batches.
// Fields written or removed during the walk may or may not be visited.
func (s *RedisHashStore) HScan(ctx context.Context, key string, fn func(field, value string) error) error {
	var cursor uint64
	for {
		pairs, next, err := s.client.HScan(ctx, key, cursor, "*", scanBatch).Result()
		if err != nil {
			return oops.Code("KV_HSCAN_FAILED").With("key", key).With("cursor", cursor).Wrap(err)
		}
		for i := 0; i+1 < len(pairs); i += 2 {
			if err := fn(pairs[i], pairs[i+1]); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping checks connectivity.
func (s *RedisHashStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return oops.Code("KV_PING_FAILED").Wrap(err)
	}
	return nil
}
