package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mcnielsen/nepal-core/internal/cache"
	"github.com/mcnielsen/nepal-core/internal/config"
	"github.com/mcnielsen/nepal-core/internal/endpoints"
	"github.com/mcnielsen/nepal-core/internal/location"
	"github.com/mcnielsen/nepal-core/internal/metrics"
	"github.com/mcnielsen/nepal-core/internal/telemetry"
)

// Defaults 全局默认请求参数，在规范化时合并进每个按服务寻址的请求，调用方字段优先。
type Defaults struct {
	Headers       http.Header
	Params        url.Values
	TTL           time.Duration
	RetryCount    int
	RetryInterval time.Duration
	Residency     string
}

// BeforeRequestHook 在每次网络发送前调用，可以修改出站请求的头部。
// 会话层通过它注入认证信息。返回错误会终止本次调用。
type BeforeRequestHook func(ctx context.Context, hr *http.Request, req *Request) error

// Client 是 SDK 的 API 客户端，持有位置矩阵、端点解析缓存和响应缓存。
// 每个 Client 都是独立的上下文，不依赖任何包级单例。并发安全。
type Client struct {
	matrix   *location.Matrix
	resolver *endpoints.Resolver
	store    cache.Store
	runtime  *config.Runtime

	httpClient *http.Client
	timeout    time.Duration
	logger     *logrus.Logger
	metrics    *metrics.Metrics

	inflight singleflight.Group
	// writes 在每次写操作失效缓存时递增
	writes atomic.Uint64

	mu           sync.RWMutex
	defaults     Defaults
	contextAcct  string
	hooks        []BeforeRequestHook
	logEnabled   bool
	executionLog []ExecutionLogItem
	sink         ExecutionSink
	resolverOpts []endpoints.Option
	ownsStore    bool
}

// Option 配置 Client。
type Option func(*Client)

// WithStore 设置响应缓存存储，默认使用内存存储。
func WithStore(s cache.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithRuntime 设置运行时开关。
func WithRuntime(r *config.Runtime) Option {
	return func(c *Client) { c.runtime = r }
}

// WithHTTPClient 替换底层 http.Client。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout 设置客户端级别的单次尝试超时。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger 设置日志记录器，同时传递给端点解析器。
func WithLogger(l *logrus.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics 设置指标收集器，同时传递给端点解析器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDefaults 设置全局默认请求参数。
func WithDefaults(d Defaults) Option {
	return func(c *Client) { c.defaults = d }
}

// WithContextAccount 设置初始的当前账号。
func WithContextAccount(accountID string) Option {
	return func(c *Client) { c.contextAcct = accountID }
}

// WithExecutionLog 启用执行日志，sink 不为 nil 时每条记录同时推送给 sink。
func WithExecutionLog(sink ExecutionSink) Option {
	return func(c *Client) {
		c.logEnabled = true
		c.sink = sink
	}
}

// WithResolverOptions 传递额外的端点解析器选项。
func WithResolverOptions(opts ...endpoints.Option) Option {
	return func(c *Client) { c.resolverOpts = append(c.resolverOpts, opts...) }
}

// New 创建客户端。matrix 为 nil 时使用生产环境的内置位置矩阵。
func New(matrix *location.Matrix, opts ...Option) (*Client, error) {
	if matrix == nil {
		matrix = location.NewMatrix(location.Context{Environment: location.Production, Residency: location.ResidencyUS})
	}
	c := &Client{
		matrix:  matrix,
		timeout: 60 * time.Second,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		s, err := cache.NewMemoryStore("apiclient.cache", 0)
		if err != nil {
			return nil, err
		}
		c.store = s
		c.ownsStore = true
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: telemetry.HTTPClientTransport(nil)}
	}

	resolverOpts := append([]endpoints.Option{
		endpoints.WithLogger(c.logger),
		endpoints.WithMetrics(c.metrics),
	}, c.resolverOpts...)
	c.resolver = endpoints.NewResolver(matrix, c, resolverOpts...)
	return c, nil
}

// Close 释放客户端自行创建的资源。外部传入的存储由调用方关闭。
func (c *Client) Close() error {
	if !c.ownsStore {
		return nil
	}
	return c.store.Close()
}

// Matrix 返回客户端使用的位置矩阵。
func (c *Client) Matrix() *location.Matrix {
	return c.matrix
}

// Resolver 返回客户端的端点解析缓存。
func (c *Client) Resolver() *endpoints.Resolver {
	return c.resolver
}

// Runtime 返回运行时开关，可能为 nil。
func (c *Client) Runtime() *config.Runtime {
	return c.runtime
}

// Logger 返回客户端的日志记录器。
func (c *Client) Logger() *logrus.Logger {
	return c.logger
}

// OnBeforeRequest 注册发送前钩子，按注册顺序执行。
func (c *Client) OnBeforeRequest(hook BeforeRequestHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// SetContextAccount 设置当前账号，ContextAccount 请求和端点解析使用该账号。
func (c *Client) SetContextAccount(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contextAcct = accountID
}

// ContextAccount 返回当前账号。
func (c *Client) ContextAccount() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contextAcct
}

// SetDefaults 替换全局默认请求参数。
func (c *Client) SetDefaults(d Defaults) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults = d
}

func (c *Client) snapshotDefaults() Defaults {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaults
}

func (c *Client) snapshotHooks() []BeforeRequestHook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]BeforeRequestHook(nil), c.hooks...)
}

// FlushCache 清空响应缓存。
func (c *Client) FlushCache(ctx context.Context) error {
	return c.store.Flush(ctx)
}

// Get 以 GET 方法执行请求。
func (c *Client) Get(ctx context.Context, req *Request) (*Response, error) {
	req.Method = http.MethodGet
	return c.Do(ctx, req)
}

// Post 以 POST 方法执行请求。
func (c *Client) Post(ctx context.Context, req *Request) (*Response, error) {
	req.Method = http.MethodPost
	return c.Do(ctx, req)
}

// Put 以 PUT 方法执行请求。
func (c *Client) Put(ctx context.Context, req *Request) (*Response, error) {
	req.Method = http.MethodPut
	return c.Do(ctx, req)
}

// Delete 以 DELETE 方法执行请求。
func (c *Client) Delete(ctx context.Context, req *Request) (*Response, error) {
	req.Method = http.MethodDelete
	return c.Do(ctx, req)
}

// Form 以 multipart 表单方式提交，Body 应为 *Form。
func (c *Client) Form(ctx context.Context, req *Request) (*Response, error) {
	req.Method = MethodForm
	return c.Do(ctx, req)
}

// Fetch 执行请求并把 JSON 响应体解码到 out（out 为 nil 时忽略响应体）。
func (c *Client) Fetch(ctx context.Context, req *Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// PostJSON 向显式 URL 发送 JSON POST，供端点解析器调用。
func (c *Client) PostJSON(ctx context.Context, u string, body, out any) error {
	return c.Fetch(ctx, &Request{Method: http.MethodPost, URL: u, Body: body}, out)
}
