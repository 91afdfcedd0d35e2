/*
Copyright 2024 Blnk Finance Authors.

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
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Cache stores slow-changing aggregator data, such as the institution list,
// so the consent flow does not spend aggregator calls on every page load.
type Cache interface {
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get loads key into dst. found is false on a cache miss.
	Get(ctx context.Context, key string, dst interface{}) (found bool, err error)

	// GetOrLoad loads key into dst, calling load and caching its result on a
	// miss. Concurrent misses for the same key share one load.
	GetOrLoad(ctx context.Context, key string, dst interface{}, ttl time.Duration, load func(context.Context) (interface{}, error)) error

	Delete(ctx context.Context, key string) error
}

// localCacheSize bounds the in-process TinyLFU layer in front of Redis.
const localCacheSize = 1024

type RedisCache struct {
	cache *cache.Cache
}

// NewCache returns a two-level cache: an in-process TinyLFU with a short TTL
// in front of Redis.
func NewCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{cache: cache.New(&cache.Options{
		Redis:      client,
		LocalCache: cache.NewTinyLFU(localCacheSize, time.Minute),
	})}
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{Ctx: ctx, Key: key, Value: value, TTL: ttl})
}

func (r *RedisCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	err := r.cache.Get(ctx, key, dst)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisCache) GetOrLoad(ctx context.Context, key string, dst interface{}, ttl time.Duration, load func(context.Context) (interface{}, error)) error {
	return r.cache.Once(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: dst,
		TTL:   ttl,
		Do: func(item *cache.Item) (interface{}, error) {
			return load(item.Context())
		},
	})
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
