// Package metrics 提供 Prometheus 指标采集与上报的统一封装。
// 该包集中定义 SDK 客户端的关键指标（请求、缓存、重试、端点解析），便于各模块复用并保持标签一致。
// 所有记录方法对 nil 接收者安全，未启用指标时组件可以直接传入 nil。
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 封装客户端运行时指标集合。
//
// 指标分类:
//   - 请求指标: 跟踪网络请求的数量和耗时
//   - 缓存指标: 响应缓存命中、未命中以及去重共享
//   - 重试指标: 按方法统计重试次数
//   - 端点解析指标: 按解析策略统计成功和回退
type Metrics struct {
	// ========== 请求相关指标 ==========

	// RequestsTotal 网络请求总次数计数器
	// 标签: method, status
	RequestsTotal *prometheus.CounterVec

	// RequestDuration 网络请求耗时直方图（单位：毫秒）
	// 标签: method
	// 桶边界: 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000 ms
	RequestDuration *prometheus.HistogramVec

	// ========== 缓存相关指标 ==========

	// CacheLookupsTotal 响应缓存查询计数器
	// 标签: result (hit/miss/bypass)
	CacheLookupsTotal *prometheus.CounterVec

	// DedupSharedTotal 因并发去重而共享结果的 GET 次数
	DedupSharedTotal prometheus.Counter

	// ========== 重试相关指标 ==========

	// RetriesTotal 重试次数计数器
	// 标签: method
	RetriesTotal *prometheus.CounterVec

	// ========== 端点解析相关指标 ==========

	// EndpointResolutionsTotal 端点解析远程调用计数器
	// 标签: strategy (default/residency), result (ok/fallback)
	EndpointResolutionsTotal *prometheus.CounterVec
}

// NewMetrics 创建并注册一组 Prometheus 指标。
// namespace 作为所有指标名前缀；reg 为 nil 时注册到默认注册表。
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of dispatched network requests",
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_ms",
				Help:      "Network request duration in milliseconds",
				Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"method"},
		),
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of response cache lookups",
			},
			[]string{"result"},
		),
		DedupSharedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_shared_total",
				Help:      "Total number of GET requests served by an in-flight duplicate",
			},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of request retries",
			},
			[]string{"method"},
		),
		EndpointResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "endpoint_resolutions_total",
				Help:      "Total number of remote endpoint resolution calls",
			},
			[]string{"strategy", "result"},
		),
	}
}

// RecordRequest 记录一次网络请求。status 为 0 表示网络层失败。
func (m *Metrics) RecordRequest(method string, status int, durationMs float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(durationMs)
}

// RecordCacheLookup 记录缓存查询结果。
// result: "hit" (命中), "miss" (未命中), "bypass" (调用方禁用读缓存)
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordDedupShared 记录一次去重共享。
func (m *Metrics) RecordDedupShared() {
	if m == nil {
		return
	}
	m.DedupSharedTotal.Inc()
}

// RecordRetry 记录一次重试。
func (m *Metrics) RecordRetry(method string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(method).Inc()
}

// RecordEndpointResolution 记录一次端点解析远程调用。
func (m *Metrics) RecordEndpointResolution(strategy string, fallback bool) {
	if m == nil {
		return
	}
	result := "ok"
	if fallback {
		result = "fallback"
	}
	m.EndpointResolutionsTotal.WithLabelValues(strategy, result).Inc()
}
