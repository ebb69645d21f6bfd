package location

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Matrix 位置矩阵。
// 所有方法都是并发安全的；返回的 Descriptor 是副本。
type Matrix struct {
	mu sync.RWMutex

	nodes   []*Descriptor
	index   map[string]*Descriptor
	insight map[string]InsightLocation

	acting Context

	// memo 按位置类型缓存无覆盖上下文时的解析结果；uriMemo 缓存按 URI 反查的结果
	memo    map[string]*Descriptor
	uriMemo map[string]*Descriptor

	patterns map[string]*regexp.Regexp
}

// NewMatrix 使用内置字典创建位置矩阵，并以 ctx 作为初始上下文。
func NewMatrix(ctx Context) *Matrix {
	m := &Matrix{
		index:    make(map[string]*Descriptor),
		insight:  make(map[string]InsightLocation),
		memo:     make(map[string]*Descriptor),
		uriMemo:  make(map[string]*Descriptor),
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, loc := range InsightLocations() {
		m.insight[loc.ID] = loc
	}
	m.Load(DefaultDescriptors())
	m.SetContext(ctx)
	return m
}

// NewEmptyMatrix 创建不含任何描述的位置矩阵，主要用于测试和完全自定义的字典。
func NewEmptyMatrix(ctx Context, locations ...InsightLocation) *Matrix {
	m := &Matrix{
		index:    make(map[string]*Descriptor),
		insight:  make(map[string]InsightLocation),
		memo:     make(map[string]*Descriptor),
		uriMemo:  make(map[string]*Descriptor),
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, loc := range locations {
		m.insight[loc.ID] = loc
	}
	m.SetContext(ctx)
	return m
}

// Load 追加位置描述并重建索引。
func (m *Matrix) Load(descriptors []Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range descriptors {
		node := d
		node.Aliases = append([]string(nil), d.Aliases...)
		if node.OriginalURI == "" {
			node.OriginalURI = node.URI
		}
		m.nodes = append(m.nodes, &node)
	}
	m.reindexLocked()
}

// Remap 将某个位置类型的所有节点指向新的 URI，可选地同时改写环境和驻留区域。
// 用于本地开发或运维覆盖。返回被改写的节点数。
func (m *Matrix) Remap(locTypeID, uri, environment, residency string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, node := range m.nodes {
		if node.LocTypeID != locTypeID {
			continue
		}
		node.URI = uri
		node.OriginalURI = uri
		if environment != "" {
			node.Environment = environment
		}
		if residency != "" {
			node.Residency = residency
		}
		n++
	}
	if n > 0 {
		m.reindexLocked()
	}
	return n
}

// SetContext 合并并规范化当前上下文。
//
// 规范化规则：
//   - 洞察位置存在备选列表时，替换为第一个出现在 Accessible 中的备选，否则取第一个备选
//   - 驻留区域强制与解析出的洞察位置所声明的区域一致，即使调用方显式要求了其他区域
//
// 任何上下文变化都会清空解析缓存。
func (m *Matrix) SetContext(ctx Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acting := m.acting.clone()
	if ctx.Environment != "" {
		acting.Environment = ctx.Environment
	}
	if ctx.Residency != "" {
		acting.Residency = ctx.Residency
	}
	if ctx.Accessible != nil {
		acting.Accessible = append([]string(nil), ctx.Accessible...)
	}
	if ctx.InsightLocationID != "" {
		acting.InsightLocationID = ctx.InsightLocationID
	}

	if loc, ok := m.insight[acting.InsightLocationID]; ok {
		declared := loc.Residency
		if len(loc.Alternatives) > 0 {
			selected := ""
			for _, candidate := range loc.Alternatives {
				if contains(acting.Accessible, candidate) {
					selected = candidate
					break
				}
			}
			if selected == "" {
				selected = loc.Alternatives[0]
			}
			acting.InsightLocationID = selected
			if alt, ok := m.insight[selected]; ok && alt.Residency != "" {
				declared = alt.Residency
			}
		}
		// 位置声明的驻留区域优先于显式指定的区域
		if declared != "" {
			acting.Residency = declared
		}
	}

	m.acting = acting
	m.clearMemoLocked()
}

// Context 返回当前上下文的副本。
func (m *Matrix) Context() Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.acting.clone()
}

// InsightLocation 查询洞察位置定义。
func (m *Matrix) InsightLocation(id string) (InsightLocation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.insight[id]
	return loc, ok
}

// Resolve 按最具体优先的回退链查找位置描述：
//
//	id-env-residency-insightLocation
//	id-env-residency-<accessible>
//	id-env-residency
//	id-env-*
//	id-*-*
//
// override 为 nil 时使用当前上下文并缓存结果；override 中的空字段沿用当前上下文。
func (m *Matrix) Resolve(locTypeID string, override *Context) (Descriptor, bool) {
	if override == nil {
		m.mu.RLock()
		node, ok := m.memo[locTypeID]
		var d Descriptor
		if ok {
			// ResolveByURI 会在写锁下改写节点的 URI，必须在读锁内复制
			d = *node
		}
		m.mu.RUnlock()
		if ok {
			return d, true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx := m.acting
	if override != nil {
		if override.Environment != "" {
			ctx.Environment = override.Environment
		}
		if override.Residency != "" {
			ctx.Residency = override.Residency
		}
		if override.InsightLocationID != "" {
			ctx.InsightLocationID = override.InsightLocationID
		}
		if override.Accessible != nil {
			ctx.Accessible = override.Accessible
		}
	}

	node := m.lookupLocked(locTypeID, ctx)
	if node == nil {
		return Descriptor{}, false
	}
	if override == nil {
		m.memo[locTypeID] = node
	}
	return *node, true
}

// BaseURL 返回解析出的位置 URI，找不到时返回空字符串。
func (m *Matrix) BaseURL(locTypeID string, override *Context) string {
	d, ok := m.Resolve(locTypeID, override)
	if !ok {
		return ""
	}
	return d.URI
}

func (m *Matrix) lookupLocked(locTypeID string, ctx Context) *Descriptor {
	env := orWildcard(ctx.Environment)
	res := orWildcard(ctx.Residency)

	if ctx.InsightLocationID != "" {
		if node, ok := m.index[nodeKey(locTypeID, env, res, ctx.InsightLocationID)]; ok {
			return node
		}
		for _, accessible := range ctx.Accessible {
			if accessible == ctx.InsightLocationID {
				continue
			}
			if node, ok := m.index[nodeKey(locTypeID, env, res, accessible)]; ok {
				return node
			}
		}
	}
	if node, ok := m.index[nodeKey(locTypeID, env, res)]; ok {
		return node
	}
	if node, ok := m.index[nodeKey(locTypeID, env, Wildcard)]; ok {
		return node
	}
	if node, ok := m.index[nodeKey(locTypeID, Wildcard, Wildcard)]; ok {
		return node
	}
	return nil
}

// ResolveByURI 根据任意 URL 反查其所属位置。
// 候选按关键字长度降序、同关键字按 Weight 升序排列，无关键字的节点排在最后；
// 每个候选依次尝试字面前缀和别名模式。命中后该节点的 URI 被改写为实际观察到的基础 URL。
func (m *Matrix) ResolveByURI(uri string) (Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if node, ok := m.uriMemo[uri]; ok {
		return *node, true
	}

	type candidate struct {
		node  *Descriptor
		order int
	}
	var keyed, plain []candidate
	for i, node := range m.nodes {
		switch {
		case node.Keyword == "":
			plain = append(plain, candidate{node, i})
		case strings.Contains(uri, node.Keyword):
			keyed = append(keyed, candidate{node, i})
		}
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		a, b := keyed[i].node, keyed[j].node
		if len(a.Keyword) != len(b.Keyword) {
			return len(a.Keyword) > len(b.Keyword)
		}
		if a.Keyword != b.Keyword {
			return a.Keyword < b.Keyword
		}
		if a.Weight != b.Weight {
			return a.Weight < b.Weight
		}
		return keyed[i].order < keyed[j].order
	})
	sort.SliceStable(plain, func(i, j int) bool {
		return plain[i].node.Weight < plain[j].node.Weight
	})

	for _, c := range append(keyed, plain...) {
		for _, expr := range c.node.matchExpressions() {
			observed, ok := m.matchLocked(expr, uri)
			if !ok {
				continue
			}
			c.node.URI = observed
			// 记录本次观察到的快照，后续其他 URI 的改写不影响它
			snap := *c.node
			m.uriMemo[uri] = &snap
			return snap, true
		}
	}
	return Descriptor{}, false
}

// matchLocked 判断 uri 是否匹配 expr，返回实际观察到的基础 URL。
func (m *Matrix) matchLocked(expr, uri string) (string, bool) {
	if !strings.Contains(expr, "*") {
		if strings.HasPrefix(uri, expr) {
			return expr, true
		}
		return "", false
	}
	re, ok := m.patterns[expr]
	if !ok {
		re = compileAlias(expr)
		m.patterns[expr] = re
	}
	observed := re.FindString(uri)
	if observed == "" {
		return "", false
	}
	return observed, true
}

// compileAlias 把别名模式转换为正则：* 展开为一段字母数字，锚定开头，不锚定结尾。
func compileAlias(expr string) *regexp.Regexp {
	parts := strings.Split(expr, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, `([a-zA-Z0-9_\-]+)`))
}

func (m *Matrix) reindexLocked() {
	m.index = make(map[string]*Descriptor, len(m.nodes)*3)
	for _, node := range m.nodes {
		env := node.environment()
		res := node.residency()

		keys := make([]string, 0, 4)
		if node.InsightLocationID != "" {
			keys = append(keys, nodeKey(node.LocTypeID, env, res, node.InsightLocationID))
		}
		if res != Wildcard {
			keys = append(keys, nodeKey(node.LocTypeID, env, res))
		}
		if env != Wildcard {
			keys = append(keys, nodeKey(node.LocTypeID, env, Wildcard))
		} else {
			keys = append(keys, nodeKey(node.LocTypeID, Wildcard, Wildcard))
		}

		// 第一个键是自然键，总是覆盖；其余回退槽位只在空缺时填充
		m.index[keys[0]] = node
		for _, key := range keys[1:] {
			if _, ok := m.index[key]; !ok {
				m.index[key] = node
			}
		}
	}
	m.clearMemoLocked()
}

func (m *Matrix) clearMemoLocked() {
	m.memo = make(map[string]*Descriptor)
	m.uriMemo = make(map[string]*Descriptor)
}

func nodeKey(parts ...string) string {
	return strings.Join(parts, "-")
}

func orWildcard(v string) string {
	if v == "" {
		return Wildcard
	}
	return v
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
