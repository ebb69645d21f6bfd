// Package cmd 提供 nepal 命令行工具的所有子命令实现。
// 本文件负责按配置组装 SDK 客户端栈：日志、响应缓存、位置矩阵、运行时开关、
// API 客户端、执行日志推送和认证会话。
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/mcnielsen/nepal-core/internal/apiclient"
	"github.com/mcnielsen/nepal-core/internal/cache"
	"github.com/mcnielsen/nepal-core/internal/config"
	"github.com/mcnielsen/nepal-core/internal/events"
	"github.com/mcnielsen/nepal-core/internal/location"
	"github.com/mcnielsen/nepal-core/internal/metrics"
	"github.com/mcnielsen/nepal-core/internal/session"
	"github.com/mcnielsen/nepal-core/internal/telemetry"
)

// Stack 是一次命令执行所需的全部 SDK 组件。
type Stack struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Client    *apiclient.Client
	Session   *session.Session
	Registry  *prometheus.Registry
	telemetry *telemetry.Telemetry
	publisher *events.Publisher
	store     cache.Store
}

// loadConfig 读取配置文件，文件不存在时使用默认配置，然后应用命令行/环境变量覆盖。
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = config.Default()
	}

	if v := viper.GetString("environment"); v != "" {
		cfg.Client.Environment = v
	}
	if v := viper.GetString("residency"); v != "" {
		cfg.Client.Residency = v
	}
	if v := viper.GetString("token"); v != "" {
		cfg.Client.Token = v
	}
	return cfg, nil
}

// NewStack 按配置组装客户端栈。调用方负责 Close。
func NewStack(ctx context.Context, cfg *config.Config) (*Stack, error) {
	s := &Stack{
		Config: cfg,
		Logger: telemetry.NewLogger(cfg.Logging),
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	s.telemetry = tel

	store, err := cache.New(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.store = store

	matrix := location.NewMatrix(location.Context{
		Environment:       cfg.Client.Environment,
		Residency:         cfg.Client.Residency,
		InsightLocationID: cfg.Client.InsightLocation,
		Accessible:        cfg.Client.AccessibleLocations,
	})
	for _, remap := range cfg.Locations {
		n := matrix.Remap(remap.LocTypeID, remap.URI, remap.Environment, remap.Residency)
		s.Logger.WithFields(logrus.Fields{
			"loc_type_id": remap.LocTypeID,
			"uri":         remap.URI,
			"nodes":       n,
		}).Debug("Location remapped")
	}

	opts := []apiclient.Option{
		apiclient.WithStore(store),
		apiclient.WithRuntime(config.NewRuntime(cfg.Runtime)),
		apiclient.WithLogger(s.Logger),
		apiclient.WithTimeout(cfg.Client.Timeout),
		apiclient.WithContextAccount(cfg.Client.AccountID),
		apiclient.WithDefaults(apiclient.Defaults{
			TTL:           cfg.Client.DefaultTTL,
			RetryCount:    cfg.Client.RetryCount,
			RetryInterval: cfg.Client.RetryInterval,
		}),
	}
	if cfg.Metrics.Enabled {
		s.Registry = prometheus.NewRegistry()
		opts = append(opts, apiclient.WithMetrics(metrics.NewMetrics(cfg.Metrics.Namespace, s.Registry)))
	}
	if cfg.Client.ExecutionLog {
		var sink apiclient.ExecutionSink
		if cfg.Events.NatsURL != "" {
			pub, err := events.NewPublisher(cfg.Events.NatsURL, cfg.Events.Subject, s.Logger)
			if err != nil {
				s.Close()
				return nil, err
			}
			s.publisher = pub
			sink = pub
		}
		opts = append(opts, apiclient.WithExecutionLog(sink))
	}

	client, err := apiclient.New(matrix, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Client = client
	s.Session = session.New(client, cfg.Client.Token)
	return s, nil
}

// Close 按创建的逆序释放资源。
func (s *Stack) Close() {
	if s.Client != nil {
		s.Client.Close()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.Logger.WithError(err).Warn("Failed to drain NATS connection")
		}
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.telemetry != nil {
		s.telemetry.Shutdown(context.Background())
	}
}

// newStackFromFlags 加载配置并组装客户端栈，供各子命令使用。
func newStackFromFlags(ctx context.Context) (*Stack, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return NewStack(ctx, cfg)
}
