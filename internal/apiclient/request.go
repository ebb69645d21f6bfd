// Package apiclient 实现 SDK 的请求规范化与分发核心。
//
// 一次调用的流程：调用方构造 Request → Normalize 解析最终 URL（必要时查询端点解析缓存，
// 再回退到位置矩阵）→ 分发器执行请求（GET 缓存、并发去重、失败重试）→ 可选的响应校验 →
// 返回 Response 或错误。
package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mcnielsen/nepal-core/internal/domain"
	"github.com/mcnielsen/nepal-core/internal/validation"
)

// MethodForm 表示 multipart 表单提交，实际以 POST 发送。
const MethodForm = "FORM"

const (
	// DefaultTTL 作为 Request.TTL 的取值时，表示使用 DefaultCacheTTL 缓存
	DefaultTTL time.Duration = -1
	// DefaultCacheTTL DefaultTTL 对应的缓存时长
	DefaultCacheTTL = 60 * time.Second
	// DefaultRetryInterval 未指定重试间隔时使用的基础间隔
	DefaultRetryInterval = time.Second
	// NoCache 作为 Request.TTL 的取值时，表示本次请求既不读也不写缓存，且不采用默认 TTL
	NoCache time.Duration = -2
)

// NoRetry 作为 Request.RetryCount 的取值时，表示本次请求不重试，且不采用默认重试次数。
const NoRetry = -1

// AuthMode 决定会话层注入哪种认证头。
type AuthMode int

const (
	// AuthDefault 使用 X-AIMS-Auth-Token
	AuthDefault AuthMode = iota
	// AuthBearer 使用 Authorization: Bearer
	AuthBearer
	// AuthNone 不携带认证信息
	AuthNone
)

// Version 服务版本。零值表示不带版本段。
type Version struct {
	number  int
	literal string
}

// VersionNumber 数字版本，n 为 0 时不带版本段。
func VersionNumber(n int) Version {
	return Version{number: n}
}

// VersionLiteral 字符串版本，原样作为路径段，空字符串时不带版本段。
func VersionLiteral(s string) Version {
	return Version{literal: s}
}

// Segment 返回版本路径段（不含斜杠），无版本时返回空字符串。
func (v Version) Segment() string {
	if v.literal != "" {
		return v.literal
	}
	if v.number > 0 {
		return "v" + strconv.Itoa(v.number)
	}
	return ""
}

func (v Version) String() string {
	return v.Segment()
}

// ServiceTarget 描述一个按服务寻址的请求目标。
type ServiceTarget struct {
	// Stack 位置类型，如 location.InsightAPI
	Stack string
	// Name 服务名，如 cargo
	Name string
	// TargetEndpoint 用于端点解析的服务名，为空时使用 Name
	TargetEndpoint string
	// Prefix 服务名之前的可选路径段
	Prefix  string
	Version Version
	// AccountID 直接指定的账号
	AccountID string
	// ContextAccount 为 true 且未指定 AccountID 时使用客户端的当前账号
	ContextAccount bool
	Path           string
	// Residency 首选驻留区域，为空时使用位置矩阵的当前区域
	Residency  string
	Datacenter string
	// NoEndpointsResolution 跳过端点解析，直接使用位置矩阵的默认地址
	NoEndpointsResolution bool
}

// identified 报告目标是否带有可用于解析的标识。
func (t *ServiceTarget) identified() bool {
	return t != nil && (t.TargetEndpoint != "" || t.Name != "" || t.Stack != "")
}

// Request 一次逻辑调用的描述。
// URL 与 Service 二选一：设置了 URL 的请求不会做任何解析。
type Request struct {
	Method  string
	URL     string
	Service *ServiceTarget

	Params  url.Values
	Body    any
	Headers http.Header

	// TTL GET 响应的缓存时长；DefaultTTL 表示 60 秒，NoCache 表示不缓存，
	// 0 表示采用客户端默认值（未配置默认值时不缓存）
	TTL time.Duration
	// DisableCache 跳过缓存读取（响应仍会写入缓存）
	DisableCache bool
	// CacheKey 显式缓存键，为空时使用完整 URL
	CacheKey string

	// RetryCount 最大重试次数，N 次重试意味着最多 N+1 次尝试；0 采用客户端默认值，NoRetry 表示不重试
	RetryCount    int
	RetryInterval time.Duration

	Validation *validation.Directive
	Auth       AuthMode
	// Format 期望的响应格式（json、text、blob），只作为提示传给调用方
	Format string

	// Deprecated: 使用 Headers["Accept"]
	AcceptHeader string
	// Deprecated: 使用 Format
	ResponseType string
}

func (r *Request) serviceName() string {
	if r.Service == nil {
		return ""
	}
	if r.Service.TargetEndpoint != "" {
		return r.Service.TargetEndpoint
	}
	return r.Service.Name
}

// FormFile 表单中的一个文件字段。
type FormFile struct {
	Field    string
	Filename string
	Content  []byte
}

// Form 是 MethodForm 请求的 Body。
type Form struct {
	Fields url.Values
	Files  []FormFile
}

// Response 一次调用的结果。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	URL    string
	// Cached 为 true 时响应来自缓存，没有发生网络调用
	Cached bool
	// Attempts 实际尝试次数
	Attempts int
}

// Decode 将 JSON 响应体解码到 out。
func (r *Response) Decode(out any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("decode %s: empty response body", r.URL)
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode %s: %w", r.URL, err)
	}
	return nil
}

// HTTPError 表示非 2xx 响应，或可重试错误耗尽了重试次数。
// Status 为 0 表示网络层失败，此时 Err 保存底层错误。
type HTTPError struct {
	Method   string
	URL      string
	Status   int
	Response *Response
	Err      error
}

func (e *HTTPError) Error() string {
	if e.Status == 0 && e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: http %d", e.Method, e.URL, e.Status)
}

func (e *HTTPError) Is(target error) bool {
	return target == domain.ErrHTTPStatus
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// GatewayTimeoutError 表示超过客户端级别超时，属于致命错误，不会被重试。
type GatewayTimeoutError struct {
	Service string
	URL     string
	Timeout time.Duration
}

func (e *GatewayTimeoutError) Error() string {
	service := e.Service
	if service == "" {
		service = e.URL
	}
	return fmt.Sprintf("gateway timeout after %s calling %s", e.Timeout, service)
}

func (e *GatewayTimeoutError) Is(target error) bool {
	return target == domain.ErrGatewayTimeout
}
