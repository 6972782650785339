package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKVStore はRedisを使用するストア。
// キーは "clientalio:{namespace}:{key}" の形式で保存する。
type RedisKVStore struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisKVStore はRedisKVStoreを生成する。
func NewRedisKVStore(client redis.UniversalClient, namespace string) *RedisKVStore {
	return &RedisKVStore{client: client, namespace: namespace}
}

func (r *RedisKVStore) redisKey(key string) string {
	return "clientalio:" + r.namespace + ":" + key
}

// Get は指定キーの値を取得する。
func (r *RedisKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return v, true, nil
}

// Set は指定キーに値を保存する。有効期限は設定しない。
func (r *RedisKVStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

// Delete は指定キーを削除する。
func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// SetMany は複数のキーをMULTI/EXECでまとめて保存する。
func (r *RedisKVStore) SetMany(ctx context.Context, values map[string]string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, r.redisKey(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set keys: %w", err)
	}
	return nil
}

// DeleteMany は複数のキーを1回のDELで削除する。
func (r *RedisKVStore) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = r.redisKey(k)
	}
	if err := r.client.Del(ctx, redisKeys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// compile-time interface check
var _ KeyValueStore = (*RedisKVStore)(nil)
