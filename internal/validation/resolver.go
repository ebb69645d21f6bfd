package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-openapi/jsonpointer"
	"github.com/go-openapi/spec"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/validate"

	"github.com/mcnielsen/nepal-core/internal/domain"
)

var expandMu sync.Mutex

// Resolver 按 ID 查找 Schema 并递归加载依赖。已获取的文档会被缓存。
type Resolver struct {
	providers []Provider

	mu   sync.Mutex
	docs map[string]any
}

// NewResolver 创建 Resolver，Composite Provider 在此展开。
func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{
		providers: flatten(providers),
		docs:      make(map[string]any),
	}
}

// Bundle 是一个 Schema 及其全部依赖文档。
type Bundle struct {
	// ID 入口 Schema ID，可以带 JSON 指针片段（如 "common#/definitions/account"）
	ID string
	// Documents 文档 ID 到解码后 JSON 的映射
	Documents map[string]any
}

// FindSchema 查找 Schema，并递归加载它通过 $ref 引用的其他文档。
func (r *Resolver) FindSchema(ctx context.Context, id string) (*Bundle, error) {
	docID, _ := splitRef(id)
	b := &Bundle{ID: id, Documents: make(map[string]any)}
	if err := r.load(ctx, docID, b.Documents); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Resolver) load(ctx context.Context, id string, into map[string]any) error {
	if _, ok := into[id]; ok {
		return nil
	}
	doc, err := r.document(ctx, id)
	if err != nil {
		return err
	}
	into[id] = doc

	for _, dep := range collectRefs(doc) {
		if dep == "" {
			continue
		}
		if err := r.load(ctx, dep, into); err != nil {
			return fmt.Errorf("resolve dependency of %s: %w", id, err)
		}
	}
	return nil
}

func (r *Resolver) document(ctx context.Context, id string) (any, error) {
	r.mu.Lock()
	doc, ok := r.docs[id]
	r.mu.Unlock()
	if ok {
		return doc, nil
	}

	for _, p := range r.providers {
		if !p.HasSchema(id) {
			continue
		}
		raw, err := p.Schema(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load schema %s: %w", id, err)
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", id, err)
		}
		r.mu.Lock()
		r.docs[id] = doc
		r.mu.Unlock()
		return doc, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrSchemaNotFound, id)
}

// Validate 校验 data 是否满足 schemaID 对应的 Schema。
// 校验失败返回 *ValidationError；Schema 无法解析时返回普通错误。
// 自引用的 Schema（如树形结构）由 go-openapi 按数据深度惰性展开。
func (r *Resolver) Validate(ctx context.Context, schemaID string, data any) error {
	b, err := r.FindSchema(ctx, schemaID)
	if err != nil {
		return err
	}
	schema, root, err := b.Schema()
	if err != nil {
		return err
	}

	// go-openapi 把根文档登记在进程级的解析缓存中，不同根文档的展开和校验必须串行
	expandMu.Lock()
	defer expandMu.Unlock()
	if err := spec.ExpandSchema(schema, root, nil); err != nil {
		return fmt.Errorf("expand schema %s: %w", schemaID, err)
	}
	res := validate.NewSchemaValidator(schema, root, "", strfmt.Default).Validate(data)
	if res.HasErrors() {
		err := res.AsError()
		return &ValidationError{SchemaID: schemaID, Data: data, Reason: err.Error(), Err: err}
	}
	return nil
}

// Schema 返回入口 Schema 以及解析其 $ref 所用的根文档。
// 根文档把全部依赖文档放在 definitions/<文档 ID> 下，所有 $ref 改写为指向根文档的本地引用，
// 入口 Schema 是指向 b.ID 的单个 $ref。
func (b *Bundle) Schema() (schema, root *spec.Schema, err error) {
	defs := make(map[string]any, len(b.Documents))
	for id, doc := range b.Documents {
		rewritten, err := b.rewrite(doc, id)
		if err != nil {
			return nil, nil, err
		}
		if m, ok := rewritten.(map[string]any); ok {
			// 文档级 id 会改变 go-openapi 的引用基址
			delete(m, "id")
			delete(m, "$id")
			delete(m, "$schema")
		}
		defs[id] = rewritten
	}
	if err := b.checkAlias(b.ID, ""); err != nil {
		return nil, nil, err
	}
	entryDoc, _ := splitRef(b.ID)
	entry, err := b.localRef(b.ID, entryDoc)
	if err != nil {
		return nil, nil, err
	}

	root = &spec.Schema{}
	if err := remarshal(map[string]any{"definitions": defs}, root); err != nil {
		return nil, nil, fmt.Errorf("decode schema %s: %w", b.ID, err)
	}
	return spec.RefSchema(entry), root, nil
}

// rewrite 深拷贝 node，并把其中的 $ref 改写为根文档内的本地引用。doc 为 node 所在文档。
func (b *Bundle) rewrite(node any, doc string) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			if ref, ok := child.(string); ok && k == "$ref" {
				if err := b.checkAlias(ref, doc); err != nil {
					return nil, err
				}
				local, err := b.localRef(ref, doc)
				if err != nil {
					return nil, err
				}
				out[k] = local
				continue
			}
			expanded, err := b.rewrite(child, doc)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			expanded, err := b.rewrite(child, doc)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}

// localRef 把 doc 内的引用 ref 转换为根文档中的 JSON 指针引用。
func (b *Bundle) localRef(ref, doc string) (string, error) {
	docID, pointer := splitRef(ref)
	if docID == "" {
		docID = doc
	}
	if _, ok := b.Documents[docID]; !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrSchemaNotFound, docID)
	}
	return "#/definitions/" + pointerEscaper.Replace(docID) + pointer, nil
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// checkAlias 沿只包含 $ref 的节点追踪引用链；链条回到自身时永远无法得到具体的 Schema。
func (b *Bundle) checkAlias(ref, doc string) error {
	seen := make(map[string]bool)
	for {
		target, targetDoc, err := b.deref(ref, doc)
		if err != nil {
			return err
		}
		docID, pointer := splitRef(ref)
		if docID == "" {
			docID = doc
		}
		key := docID + "#" + pointer
		if seen[key] {
			return fmt.Errorf("circular schema reference at %s", key)
		}
		seen[key] = true

		m, ok := target.(map[string]any)
		if !ok || len(m) != 1 {
			return nil
		}
		next, ok := m["$ref"].(string)
		if !ok {
			return nil
		}
		ref, doc = next, targetDoc
	}
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// deref 解析引用。ref 的文档部分为空时相对于 root 文档。
func (b *Bundle) deref(ref, root string) (any, string, error) {
	docID, pointer := splitRef(ref)
	if docID == "" {
		docID = root
	}
	doc, ok := b.Documents[docID]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", domain.ErrSchemaNotFound, docID)
	}
	if pointer == "" {
		return doc, docID, nil
	}
	p, err := jsonpointer.New(pointer)
	if err != nil {
		return nil, "", fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	target, _, err := p.Get(doc)
	if err != nil {
		return nil, "", fmt.Errorf("reference %q: %w", ref, err)
	}
	return target, docID, nil
}

// collectRefs 返回文档中所有 $ref 的文档 ID 部分（本地引用为空字符串）。
func collectRefs(node any) []string {
	var refs []string
	var walk func(n any)
	walk = func(n any) {
		switch v := n.(type) {
		case map[string]any:
			if ref, ok := v["$ref"].(string); ok {
				docID, _ := splitRef(ref)
				refs = append(refs, docID)
			}
			for _, child := range v {
				walk(child)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(node)
	return refs
}

func splitRef(ref string) (docID, pointer string) {
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}
