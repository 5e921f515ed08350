/*
Copyright 2023 - 2025 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a shared remote cache backend. Keys are namespaced
// "<namespace>:<bucket>:<key>" so multiple callers of the same process
// (or different processes against the same Redis instance) don't collide.
type Redis struct {
	client    *redis.Client
	namespace string
	bucket    string
	log       *slog.Logger
}

// NewRedis creates a Redis-backed cache under namespace/bucket.
func NewRedis(client *redis.Client, namespace, bucket string, log *slog.Logger) *Redis {
	return &Redis{client: client, namespace: namespace, bucket: bucket, log: log}
}

func (c *Redis) fullKey(key string) string {
	return c.namespace + ":" + c.bucket + ":" + key
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("Failed to read from cache", "key", key, "error", err)
		}
		return nil, false
	}
	return v, true
}

func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl int64) {
	if err := c.client.Set(ctx, c.fullKey(key), value, time.Duration(ttl)*time.Second).Err(); err != nil {
		c.log.Warn("Failed to write to cache", "key", key, "error", err)
	}
}

func (c *Redis) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.fullKey(key)).Err(); err != nil {
		c.log.Warn("Failed to delete from cache", "key", key, "error", err)
	}
}
