// Package config 提供了 SDK 客户端的配置管理功能。
// 该包负责从 YAML 配置文件加载配置，并支持通过环境变量覆盖敏感配置项（如令牌和密码）。
// 配置包含了客户端上下文、运行时开关、响应缓存、存储、事件、日志、指标和遥测等多个方面的设置。
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是应用程序的主配置结构体，包含所有子系统的配置。
// 该结构体通过 YAML 标签与配置文件进行映射。
type Config struct {
	// Client 客户端上下文配置，包括环境、数据驻留区域、默认账号等
	Client ClientConfig `yaml:"client"`
	// Runtime 运行时开关，由外部配置方提供，在每次调用时读取
	Runtime RuntimeOptions `yaml:"runtime"`
	// Cache 响应缓存配置，支持内存和 Redis 两种后端
	Cache CacheConfig `yaml:"cache"`
	// Storage 存储配置，目前只包含 Redis 连接信息
	Storage StorageConfig `yaml:"storage"`
	// Events 事件配置，用于将执行日志推送到 NATS
	Events EventsConfig `yaml:"events"`
	// Logging 日志配置，包括日志级别和格式
	Logging LoggingConfig `yaml:"logging"`
	// Metrics 指标配置，用于 Prometheus 监控
	Metrics MetricsConfig `yaml:"metrics"`
	// Telemetry 遥测配置，用于分布式追踪
	Telemetry TelemetryConfig `yaml:"telemetry"`
	// Locations 位置重映射列表，用于运维场景下覆盖位置矩阵中的 URI
	Locations []LocationRemap `yaml:"locations"`
}

// ClientConfig 客户端上下文配置结构体。
// 决定位置矩阵的初始上下文以及请求分发器的默认行为。
type ClientConfig struct {
	// Environment 目标环境，可选值：production、integration、development
	// 默认值：production
	Environment string `yaml:"environment"`
	// Residency 数据驻留区域，可选值：US、EMEA
	// 默认值：US
	Residency string `yaml:"residency"`
	// InsightLocation 洞察位置 ID（如 defender-us-denver）
	InsightLocation string `yaml:"insight_location"`
	// AccessibleLocations 当前账号可访问的位置 ID 列表
	AccessibleLocations []string `yaml:"accessible_locations"`
	// AccountID 默认（当前上下文）账号 ID
	AccountID string `yaml:"account_id"`
	// Token 认证令牌，可通过环境变量 NEPAL_TOKEN 或 NEPAL_TOKEN_FILE 覆盖
	Token string `yaml:"token"`
	// Timeout 客户端级别请求超时，超时会被转换为致命的 gateway timeout 错误
	// 默认值：60 秒
	Timeout time.Duration `yaml:"timeout"`
	// RetryCount 默认最大重试次数（0 表示不重试）
	RetryCount int `yaml:"retry_count"`
	// RetryInterval 重试基础间隔，第 N 次重试等待 N × RetryInterval
	// 默认值：1 秒
	RetryInterval time.Duration `yaml:"retry_interval"`
	// DefaultTTL 未显式指定 TTL 的 GET 请求使用的缓存时间，0 表示默认不缓存
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// ExecutionLog 是否记录每一次网络请求的执行日志
	ExecutionLog bool `yaml:"execution_log"`
}

// RuntimeOptions 运行时布尔开关的静态配置值。
// 进程运行期间通过 Runtime 读取，支持热更新。
type RuntimeOptions struct {
	// DisableEndpointsResolution 全局禁用端点解析，所有请求回退到位置矩阵默认地址
	DisableEndpointsResolution bool `yaml:"disable_endpoints_resolution"`
	// ResolveAccountMetadata 切换账号时是否拉取账号元数据以确定默认位置
	ResolveAccountMetadata bool `yaml:"resolve_account_metadata"`
}

// CacheConfig 响应缓存配置结构体。
type CacheConfig struct {
	// Backend 缓存后端，可选值：memory、redis
	// 默认值：memory
	Backend string `yaml:"backend"`
	// Namespace 缓存键命名空间
	// 默认值：apiclient.cache
	Namespace string `yaml:"namespace"`
	// Capacity 内存缓存最大条目数
	// 默认值：10000
	Capacity int `yaml:"capacity"`
}

// StorageConfig 存储配置结构体。
type StorageConfig struct {
	// Redis Redis 连接配置
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig Redis 连接配置结构体。
type RedisConfig struct {
	// Address Redis 服务器地址，格式为 "host:port"
	Address string `yaml:"address"`
	// Password Redis 密码，可通过环境变量 NEPAL_REDIS_PASSWORD 或
	// NEPAL_REDIS_PASSWORD_FILE（文件路径）覆盖
	Password string `yaml:"password"`
	// DB Redis 数据库编号（0-15）
	DB int `yaml:"db"`
}

// EventsConfig 事件配置结构体。
type EventsConfig struct {
	// NatsURL NATS 消息服务器 URL，如 "nats://localhost:4222"，为空表示不推送
	NatsURL string `yaml:"nats_url"`
	// Subject 执行日志推送的主题前缀
	// 默认值：apiclient.execution
	Subject string `yaml:"subject"`
}

// LoggingConfig 日志配置结构体。
type LoggingConfig struct {
	// Level 日志级别，可选值：debug、info、warn、error
	Level string `yaml:"level"`
	// Format 日志格式，可选值：json、text
	Format string `yaml:"format"`
}

// MetricsConfig 指标配置结构体。
type MetricsConfig struct {
	// Enabled 是否启用指标收集
	Enabled bool `yaml:"enabled"`
	// Namespace 指标命名空间前缀
	Namespace string `yaml:"namespace"`
}

// TelemetryConfig 遥测配置结构体。
type TelemetryConfig struct {
	// Enabled 是否启用遥测
	Enabled bool `yaml:"enabled"`
	// Endpoint OTLP 端点地址（如 "tempo:4317"）
	Endpoint string `yaml:"endpoint"`
	// ServiceName 服务名称，用于追踪标识
	// 默认值：nepal-client
	ServiceName string `yaml:"service_name"`
	// SampleRate 采样率，范围 0.0 到 1.0
	SampleRate float64 `yaml:"sample_rate"`
	// Environment 环境标识
	Environment string `yaml:"environment"`
}

// LocationRemap 描述一次位置重映射：将某个位置类型的所有节点指向新的 URI。
type LocationRemap struct {
	LocTypeID   string `yaml:"loc_type_id"`
	URI         string `yaml:"uri"`
	Environment string `yaml:"environment,omitempty"`
	Residency   string `yaml:"residency,omitempty"`
}

// Load 从指定路径加载配置文件。
// 该函数会读取 YAML 配置文件，应用默认值，并处理环境变量覆盖。
//
// 参数：
//   - path: 配置文件的路径
//
// 返回值：
//   - *Config: 加载并处理后的配置对象
//   - error: 如果读取或解析失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析 YAML 格式的配置内容。
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Default 返回只包含默认值的配置（同样会应用环境变量覆盖）。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides 应用环境变量覆盖。
// 支持直接设置环境变量（如 NEPAL_TOKEN），也支持通过 _FILE 后缀指定包含密钥的文件路径，
// _FILE 方式优先级更高。
func (c *Config) applyEnvOverrides() {
	if v := readEnvOrFile("NEPAL_TOKEN", "NEPAL_TOKEN_FILE"); v != "" {
		c.Client.Token = v
	}
	if v := readEnvOrFile("NEPAL_REDIS_PASSWORD", "NEPAL_REDIS_PASSWORD_FILE"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("NEPAL_ENVIRONMENT")); v != "" {
		c.Client.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("NEPAL_RESIDENCY")); v != "" {
		c.Client.Residency = v
	}
}

// readEnvOrFile 从文件（fileKey 指向的路径）或环境变量 envKey 读取配置值。
func readEnvOrFile(envKey, fileKey string) string {
	if filePath := strings.TrimSpace(os.Getenv(fileKey)); filePath != "" {
		if b, err := os.ReadFile(filePath); err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return strings.TrimSpace(os.Getenv(envKey))
}

// applyDefaults 应用默认配置值。
func (c *Config) applyDefaults() {
	if c.Client.Environment == "" {
		c.Client.Environment = "production"
	}
	if c.Client.Residency == "" {
		c.Client.Residency = "US"
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = 60 * time.Second
	}
	if c.Client.RetryCount < 0 {
		c.Client.RetryCount = 0
	}
	if c.Client.RetryInterval == 0 {
		c.Client.RetryInterval = time.Second
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.Namespace == "" {
		c.Cache.Namespace = "apiclient.cache"
	}
	if c.Cache.Capacity <= 0 {
		c.Cache.Capacity = 10000
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "apiclient.execution"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "nepal"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "nepal-client"
	}
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = c.Client.Environment
	}
}
