// Package endpoints 实现按账号解析服务基础 URL 的端点解析缓存。
//
// 解析结果来自全局端点服务，按 (环境, 账号, 服务, 驻留区域, 数据中心) 扁平化缓存，
// 进程生命周期内只增不减，只有 Reset 会清空。同一账号同一时刻最多只有一个远程解析调用，
// 并发请求在账号闸门上排队，闸门打开后重新检查缓存。
// 远程调用失败时所有请求的服务回退到 Insight API 默认地址，解析永远不会向调用方返回错误。
package endpoints

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mcnielsen/nepal-core/internal/location"
	"github.com/mcnielsen/nepal-core/internal/metrics"
	"github.com/mcnielsen/nepal-core/internal/telemetry"
)

// DefaultSlot 默认驻留区域服务使用的驻留区域和数据中心槽位
const DefaultSlot = "default"

// anyDatacenter 驻留区域内数据中心 ID 最小的条目
const anyDatacenter = "*"

// 解析策略，用于日志和指标标签
const (
	StrategyDefault   = "default"
	StrategyResidency = "residency"
)

// DefaultResidencyServices 通过默认驻留区域接口解析的服务
var DefaultResidencyServices = []string{
	"aims", "assets_query", "cargo", "dashboards", "herald", "iris", "kalm",
	"notify", "search", "sources", "subscriptions", "suggestions", "tacoma", "themis",
}

// ResidencyAwareServices 按驻留区域和数据中心分别部署的服务
var ResidencyAwareServices = []string{"aetuner", "ingest", "responder"}

// Poster 执行一次 JSON POST 调用并把响应解码到 out。
// 由 API 客户端实现，调用必须使用显式 URL，不能再次触发端点解析。
type Poster interface {
	PostJSON(ctx context.Context, url string, body, out any) error
}

// Query 描述一次解析请求。Residency 为空时使用位置矩阵的当前驻留区域。
type Query struct {
	AccountID  string
	Service    string
	Residency  string
	Datacenter string
}

type cacheKey struct {
	environment string
	account     string
	service     string
	residency   string
	datacenter  string
}

// Resolver 端点解析器，并发安全。
type Resolver struct {
	matrix  *location.Matrix
	poster  Poster
	logger  *logrus.Logger
	metrics *metrics.Metrics

	entries *xsync.MapOf[cacheKey, string]
	gates   *xsync.MapOf[string, *sync.Mutex]

	// mu 保护两个服务列表；默认列表在首次遇到未分类服务时追加
	mu             sync.Mutex
	defaults       []string
	residencyAware map[string]struct{}
}

// Option 配置 Resolver。
type Option func(*Resolver)

// WithLogger 设置日志记录器。
func WithLogger(logger *logrus.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithMetrics 设置指标收集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithServices 替换内置的服务分类列表。
func WithServices(defaults, residencyAware []string) Option {
	return func(r *Resolver) {
		r.defaults = append([]string(nil), defaults...)
		r.residencyAware = make(map[string]struct{}, len(residencyAware))
		for _, s := range residencyAware {
			r.residencyAware[s] = struct{}{}
		}
	}
}

// NewResolver 创建端点解析器。
func NewResolver(matrix *location.Matrix, poster Poster, opts ...Option) *Resolver {
	r := &Resolver{
		matrix:  matrix,
		poster:  poster,
		logger:  logrus.StandardLogger(),
		entries: xsync.NewMapOf[cacheKey, string](),
		gates:   xsync.NewMapOf[string, *sync.Mutex](),
	}
	WithServices(DefaultResidencyServices, ResidencyAwareServices)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve 返回账号下某个服务的基础 URL。
func (r *Resolver) Resolve(ctx context.Context, q Query) string {
	acting := r.matrix.Context()
	env := acting.Environment
	residency := q.Residency
	if residency == "" {
		residency = acting.Residency
	}

	if q.AccountID == "" {
		return r.defaultHost(residency)
	}
	if v, ok := r.find(env, q.AccountID, q.Service, residency, q.Datacenter); ok {
		return v
	}

	gate, _ := r.gates.LoadOrStore(env+"/"+q.AccountID, &sync.Mutex{})
	gate.Lock()
	defer gate.Unlock()

	// 排队期间前一个调用可能已经填充了缓存
	if v, ok := r.find(env, q.AccountID, q.Service, residency, q.Datacenter); ok {
		return v
	}

	ctx, span := telemetry.StartSpan(ctx, "endpoints.resolve",
		attribute.String("account_id", q.AccountID),
		attribute.String("service", q.Service),
	)
	defer span.End()

	if r.isResidencyAware(q.Service) {
		r.resolveResidencyAware(ctx, env, q.AccountID, residency)
	} else {
		r.resolveDefault(ctx, env, q.AccountID, q.Service, residency)
	}

	if v, ok := r.find(env, q.AccountID, q.Service, residency, q.Datacenter); ok {
		return v
	}

	// 端点服务没有返回该服务
	fallback := r.defaultHost(residency)
	r.entries.Store(cacheKey{env, q.AccountID, q.Service, DefaultSlot, DefaultSlot}, fallback)
	return fallback
}

// Lookup 只读查询缓存，不触发远程调用。
func (r *Resolver) Lookup(environment, accountID, service, residency, datacenter string) (string, bool) {
	return r.find(environment, accountID, service, residency, datacenter)
}

// Reset 清空所有缓存条目。服务分类列表保持不变。
func (r *Resolver) Reset() {
	r.entries.Clear()
}

// Len 返回缓存条目数。
func (r *Resolver) Len() int {
	return r.entries.Size()
}

// find 查找顺序：精确的驻留区域和数据中心，驻留区域内 ID 最小的数据中心，默认槽位。
func (r *Resolver) find(env, account, service, residency, datacenter string) (string, bool) {
	if datacenter != "" {
		if v, ok := r.entries.Load(cacheKey{env, account, service, residency, datacenter}); ok {
			return v, true
		}
	}
	if v, ok := r.entries.Load(cacheKey{env, account, service, residency, anyDatacenter}); ok {
		return v, true
	}
	return r.entries.Load(cacheKey{env, account, service, DefaultSlot, DefaultSlot})
}

func (r *Resolver) resolveDefault(ctx context.Context, env, account, service, residency string) {
	services := r.classifyDefault(service)
	url := r.matrix.BaseURL(location.GlobalAPI, nil) + "/endpoints/v1/" + account + "/residency/default/endpoints"

	var result map[string]string
	if err := r.poster.PostJSON(ctx, url, services, &result); err != nil {
		r.fallback(ctx, StrategyDefault, env, account, residency, services, err)
		return
	}

	for svc, host := range result {
		r.entries.Store(cacheKey{env, account, svc, DefaultSlot, DefaultSlot}, NormalizeHost(host))
	}
	r.metrics.RecordEndpointResolution(StrategyDefault, false)
	r.logger.WithFields(logrus.Fields{
		"account_id": account,
		"services":   len(result),
	}).Debug("Resolved default residency endpoints")
}

func (r *Resolver) resolveResidencyAware(ctx context.Context, env, account, residency string) {
	services := r.residencyAwareList()
	url := r.matrix.BaseURL(location.GlobalAPI, nil) + "/endpoints/v1/" + account + "/endpoints"

	var result map[string]map[string]map[string]string
	if err := r.poster.PostJSON(ctx, url, services, &result); err != nil {
		r.fallback(ctx, StrategyResidency, env, account, residency, services, err)
		return
	}

	for svc, byResidency := range result {
		for res, byDatacenter := range byResidency {
			ids := make([]string, 0, len(byDatacenter))
			for dc, host := range byDatacenter {
				r.entries.Store(cacheKey{env, account, svc, res, dc}, NormalizeHost(host))
				ids = append(ids, dc)
			}
			if len(ids) == 0 {
				continue
			}
			sort.Strings(ids)
			r.entries.Store(cacheKey{env, account, svc, res, anyDatacenter}, NormalizeHost(byDatacenter[ids[0]]))
		}
	}
	r.metrics.RecordEndpointResolution(StrategyResidency, false)
}

// fallback 把本批次请求的全部服务映射到 Insight API 默认地址并缓存。
func (r *Resolver) fallback(ctx context.Context, strategy, env, account, residency string, services []string, cause error) {
	host := r.defaultHost(residency)
	for _, svc := range services {
		r.entries.Store(cacheKey{env, account, svc, DefaultSlot, DefaultSlot}, host)
	}
	telemetry.RecordError(ctx, cause)
	r.metrics.RecordEndpointResolution(strategy, true)
	r.logger.WithContext(ctx).WithFields(logrus.Fields{
		"account_id": account,
		"strategy":   strategy,
		"services":   strings.Join(services, ","),
		"fallback":   host,
	}).WithError(cause).Warn("Endpoint resolution failed, using default routing")
}

func (r *Resolver) defaultHost(residency string) string {
	return r.matrix.BaseURL(location.InsightAPI, &location.Context{Residency: residency})
}

func (r *Resolver) isResidencyAware(service string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.residencyAware[service]
	return ok
}

// classifyDefault 未分类的服务追加到默认列表，返回列表副本。
func (r *Resolver) classifyDefault(service string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for _, s := range r.defaults {
		if s == service {
			found = true
			break
		}
	}
	if !found && service != "" {
		r.defaults = append(r.defaults, service)
	}
	return append([]string(nil), r.defaults...)
}

func (r *Resolver) residencyAwareList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.residencyAware))
	for s := range r.residencyAware {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// NormalizeHost 把端点服务返回的主机名转换为基础 URL：
// async. 开头的主机使用 wss://，已带协议的保持不变，其余补全 https://。
func NormalizeHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	switch {
	case strings.HasPrefix(host, "async."):
		return "wss://" + host
	case strings.Contains(host, "://"):
		return host
	default:
		return "https://" + host
	}
}
