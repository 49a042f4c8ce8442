package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type lruItem struct {
	value     []byte
	expiresAt time.Time
}

// lruCache 有容量上限的本地缓存，整体 TTL 由 expirable 负责，单项 TTL 在读取时检查
type lruCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, lruItem]
	ttl time.Duration
}

// NewLRUCache 创建基于 golang-lru 的本地缓存
func NewLRUCache(config LocalConfig) Cache {
	config = config.withDefaults()
	return &lruCache{
		lru: expirable.NewLRU[string, lruItem](config.MaxSize, nil, config.DefaultExpiration),
		ttl: config.DefaultExpiration,
	}
}

func (lc *lruCache) item(value []byte, expiration time.Duration) lruItem {
	if expiration <= 0 || expiration > lc.ttl {
		expiration = lc.ttl
	}
	return lruItem{value: value, expiresAt: time.Now().Add(expiration)}
}

// getLocked 调用方需持有锁
func (lc *lruCache) getLocked(key string) ([]byte, bool) {
	it, ok := lc.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(it.expiresAt) {
		lc.lru.Remove(key)
		return nil, false
	}
	return it.value, true
}

func (lc *lruCache) Get(ctx context.Context, key string) ([]byte, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.getLocked(key)
}

func (lc *lruCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.lru.Add(key, lc.item(value, expiration))
	return nil
}

func (lc *lruCache) Add(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if _, ok := lc.getLocked(key); ok {
		return false, nil
	}
	lc.lru.Add(key, lc.item(value, expiration))
	return true, nil
}

func (lc *lruCache) Delete(ctx context.Context, key string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.lru.Remove(key)
	return nil
}

func (lc *lruCache) Close() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.lru.Purge()
	return nil
}
