package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache 缓存接口，值统一为字节串以便在本地和 Redis 之间切换
type Cache interface {
	// Get 获取缓存值
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set 设置缓存值，expiration<=0 使用默认过期时间
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// Add 仅在键不存在时写入，返回是否写入成功
	Add(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error)

	// Delete 删除缓存
	Delete(ctx context.Context, key string) error

	// Close 关闭缓存连接
	Close() error
}

// Config 缓存配置
type Config struct {
	// 缓存类型: memory | lru | redis
	Type  string      `json:"type" yaml:"type" env:"CACHE_BACKEND"`
	Redis RedisConfig `json:"redis" yaml:"redis"`
	Local LocalConfig `json:"local" yaml:"local"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string        `json:"addr" yaml:"addr" env:"REDIS_ADDR"`
	Password     string        `json:"password" yaml:"password" env:"REDIS_PASSWORD"`
	DB           int           `json:"db" yaml:"db" env:"REDIS_DB"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// 键前缀，多个实例共用一个 Redis 时区分
	Prefix string `json:"prefix" yaml:"prefix"`
}

// LocalConfig 本地缓存配置
type LocalConfig struct {
	// 最大缓存项数（仅 lru）
	MaxSize int `json:"max_size" yaml:"max_size"`

	// 默认过期时间
	DefaultExpiration time.Duration `json:"default_expiration" yaml:"default_expiration"`

	// 清理间隔（仅 memory）
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}

func (c LocalConfig) withDefaults() LocalConfig {
	if c.MaxSize <= 0 {
		c.MaxSize = 10000
	}
	if c.DefaultExpiration <= 0 {
		c.DefaultExpiration = 10 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 2 * c.DefaultExpiration
	}
	return c
}

// NewCache 创建缓存实例
func NewCache(config Config) (Cache, error) {
	switch strings.ToLower(config.Type) {
	case "", "memory", "gocache":
		return NewGoCache(config.Local), nil
	case "lru":
		return NewLRUCache(config.Local), nil
	case "redis":
		return NewRedisCache(config.Redis)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
}
