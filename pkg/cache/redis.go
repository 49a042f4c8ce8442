package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache Redis缓存实现
type redisCache struct {
	client *redis.Client
	config RedisConfig
}

// NewRedisCache 创建Redis缓存
func NewRedisCache(config RedisConfig) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, config), nil
}

// NewRedisCacheWithClient 复用已有客户端
func NewRedisCacheWithClient(client *redis.Client, config RedisConfig) Cache {
	return &redisCache{client: client, config: config}
}

func (rc *redisCache) key(k string) string { return rc.config.Prefix + k }

// Get 获取缓存值
func (rc *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := rc.client.Get(ctx, rc.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

// Set 设置缓存值
func (rc *redisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return rc.client.Set(ctx, rc.key(key), value, expiration).Err()
}

// Add 基于 SETNX
func (rc *redisCache) Add(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	ok, err := rc.client.SetNX(ctx, rc.key(key), value, expiration).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return ok, nil
}

// Delete 删除缓存
func (rc *redisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, rc.key(key)).Err()
}

// Client 暴露底层客户端，供限流等共用连接
func (rc *redisCache) Client() *redis.Client { return rc.client }

// Close 关闭缓存连接
func (rc *redisCache) Close() error {
	return rc.client.Close()
}
