// Package validation 提供响应内容的 JSON Schema 校验。
//
// Schema 由可插拔的 Provider 提供，Provider 可以通过 Composite 暴露子 Provider，
// Resolver 在构造时将其展开为扁平列表。查找时第一个声明拥有该 Schema 的 Provider 胜出，
// 跨 Schema 的 $ref 依赖按需递归加载。
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mcnielsen/nepal-core/internal/domain"
)

// Provider 提供 Schema 文档。
type Provider interface {
	// HasSchema 报告是否能提供给定 ID 的 Schema
	HasSchema(id string) bool
	// Schema 返回 Schema 的原始 JSON
	Schema(ctx context.Context, id string) (json.RawMessage, error)
}

// Composite 由包含子 Provider 的 Provider 实现。
type Composite interface {
	Providers() []Provider
}

// flatten 深度优先展开 Provider 链，父节点排在子节点之前。
func flatten(providers []Provider) []Provider {
	var out []Provider
	var walk func(p Provider)
	walk = func(p Provider) {
		if p == nil {
			return
		}
		out = append(out, p)
		if c, ok := p.(Composite); ok {
			for _, sub := range c.Providers() {
				walk(sub)
			}
		}
	}
	for _, p := range providers {
		walk(p)
	}
	return out
}

// StaticProvider 基于内存映射的 Provider。
type StaticProvider struct {
	mu      sync.RWMutex
	schemas map[string]json.RawMessage
	subs    []Provider
}

// NewStaticProvider 创建 StaticProvider，schemas 可以为 nil。
func NewStaticProvider(schemas map[string]json.RawMessage) *StaticProvider {
	p := &StaticProvider{schemas: make(map[string]json.RawMessage, len(schemas))}
	for id, raw := range schemas {
		p.schemas[id] = raw
	}
	return p
}

// Add 注册或替换一个 Schema。
func (p *StaticProvider) Add(id string, raw json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemas[id] = raw
}

// Chain 追加子 Provider，使 StaticProvider 成为 Composite。
func (p *StaticProvider) Chain(subs ...Provider) *StaticProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, subs...)
	return p
}

func (p *StaticProvider) Providers() []Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Provider(nil), p.subs...)
}

func (p *StaticProvider) HasSchema(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.schemas[id]
	return ok
}

func (p *StaticProvider) Schema(_ context.Context, id string) (json.RawMessage, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	raw, ok := p.schemas[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSchemaNotFound, id)
	}
	return raw, nil
}

// LoadDir 从目录中加载所有 .json 文件，文件名（不含扩展名）作为 Schema ID。
func LoadDir(dir string) (*StaticProvider, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	p := NewStaticProvider(nil)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", e.Name(), err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("schema %s is not valid JSON", e.Name())
		}
		p.Add(strings.TrimSuffix(e.Name(), ".json"), data)
	}
	return p, nil
}
