package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maypok86/otter"
)

// MemoryStore 基于 otter 的进程内缓存，按条目各自的 TTL 过期，容量满时 LRU 淘汰。
type MemoryStore struct {
	namespace string
	cache     otter.CacheWithVariableTTL[string, []byte]
}

// NewMemoryStore 创建容量为 capacity 的内存缓存。
func NewMemoryStore(namespace string, capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	c, err := otter.MustBuilder[string, []byte](capacity).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, fmt.Errorf("build memory cache: %w", err)
	}
	return &MemoryStore{namespace: namespace, cache: c}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.cache.Get(namespaced(s.namespace, key))
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if !Persistable(ttl) {
		return nil
	}
	s.cache.Set(namespaced(s.namespace, key), value, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(namespaced(s.namespace, key))
	return nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	full := namespaced(s.namespace, prefix)
	s.cache.DeleteByFunc(func(key string, _ []byte) bool {
		return strings.HasPrefix(key, full)
	})
	return nil
}

func (s *MemoryStore) Flush(_ context.Context) error {
	s.cache.Clear()
	return nil
}

// Len 返回当前条目数。
func (s *MemoryStore) Len() int {
	return s.cache.Size()
}

func (s *MemoryStore) Close() error {
	s.cache.Close()
	return nil
}
