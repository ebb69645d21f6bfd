package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcnielsen/nepal-core/internal/config"
)

// RedisStore 基于 Redis 的共享缓存，多个进程可以观察到彼此写入的条目。
// 过期交给 Redis 的 PX 处理，不做跨进程协调。
type RedisStore struct {
	client    *redis.Client
	namespace string
	owned     bool
}

// NewRedisStore 连接 Redis 并验证连通性。
func NewRedisStore(cfg config.RedisConfig, namespace string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return &RedisStore{client: client, namespace: namespace, owned: true}, nil
}

// NewRedisStoreFromClient 使用已有的 Redis 客户端，Close 不会关闭该客户端。
func NewRedisStoreFromClient(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, namespaced(s.namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !Persistable(ttl) {
		return nil
	}
	if err := s.client.Set(ctx, namespaced(s.namespace, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, namespaced(s.namespace, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeletePrefix 删除以 prefix 开头的键，prefix 中的通配符按字面匹配。
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) error {
	return s.deleteMatching(ctx, globEscaper.Replace(namespaced(s.namespace, prefix))+"*")
}

// Flush 使用 SCAN 遍历命名空间并删除，避免 KEYS 阻塞服务端。
func (s *RedisStore) Flush(ctx context.Context) error {
	return s.deleteMatching(ctx, globEscaper.Replace(namespaced(s.namespace, ""))+"*")
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func (s *RedisStore) deleteMatching(ctx context.Context, pattern string) error {
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
