// Package cache 提供响应缓存的持久化存储。
// 存储以命名空间（默认 apiclient.cache）隔离键，条目带有过期时间；
// TTL 低于 MinTTL 的条目永远不会被写入，避免极短 TTL 造成的缓存抖动。
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/mcnielsen/nepal-core/internal/config"
)

// MinTTL 可持久化的最小 TTL
const MinTTL = time.Second

// Store 是响应缓存的键值存储接口。
type Store interface {
	// Get 读取键对应的值，不存在或已过期时 ok 为 false
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set 写入值；ttl < MinTTL 时不写入
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete 删除键，键不存在不视为错误
	Delete(ctx context.Context, key string) error
	// DeletePrefix 删除所有以 prefix 开头的键
	DeletePrefix(ctx context.Context, prefix string) error
	// Flush 清空命名空间内的所有条目
	Flush(ctx context.Context) error
	// Close 释放底层资源
	Close() error
}

// Persistable 报告给定 TTL 的条目是否应当被写入。
func Persistable(ttl time.Duration) bool {
	return ttl >= MinTTL
}

// New 根据配置创建缓存存储。
func New(cfg *config.Config) (Store, error) {
	switch cfg.Cache.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.Cache.Namespace, cfg.Cache.Capacity)
	case "redis":
		return NewRedisStore(cfg.Storage.Redis, cfg.Cache.Namespace)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func namespaced(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}
