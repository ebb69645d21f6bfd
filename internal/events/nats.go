// Package events 把 API 客户端的执行日志推送到 NATS。
// 每次网络往返发布一条事件，主题为 <prefix>.<method>，订阅方可以用通配符观察整个进程的调用流。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/mcnielsen/nepal-core/internal/apiclient"
)

// DefaultSubject 默认主题前缀
const DefaultSubject = "apiclient.execution"

// Event 执行日志事件（JSON 格式）。
type Event struct {
	ID        string                     `json:"id"`
	Type      string                     `json:"type"`
	Source    string                     `json:"source"`
	Subject   string                     `json:"subject"`
	Data      apiclient.ExecutionLogItem `json:"data"`
	Timestamp time.Time                  `json:"timestamp"`
}

// EventHandler 定义事件处理回调。
type EventHandler func(event *Event) error

// Publisher 封装 NATS 连接，实现 apiclient.ExecutionSink。
type Publisher struct {
	conn    *nats.Conn
	subject string
	source  string
	logger  *logrus.Logger
	owned   bool
}

// NewPublisher 连接 NATS 并创建 Publisher。连接断开后自动重连。
func NewPublisher(natsURL, subject string, logger *logrus.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("nepal-client"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p := NewPublisherFromConn(nc, subject, logger)
	p.owned = true
	return p, nil
}

// NewPublisherFromConn 使用已有连接创建 Publisher，Close 不会关闭该连接。
func NewPublisherFromConn(nc *nats.Conn, subject string, logger *logrus.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Publisher{
		conn:    nc,
		subject: subject,
		source:  "apiclient",
		logger:  logger,
	}
}

// Close 关闭自行创建的连接，关闭前刷新待发送消息。
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

// SubjectFor 返回执行日志记录对应的主题。
func (p *Publisher) SubjectFor(item apiclient.ExecutionLogItem) string {
	return p.subject + "." + strings.ToLower(item.Method)
}

// NewEvent 把执行日志记录包装为事件。
func (p *Publisher) NewEvent(item apiclient.ExecutionLogItem) *Event {
	subject := p.SubjectFor(item)
	return &Event{
		ID:        item.ID,
		Type:      "request.executed",
		Source:    p.source,
		Subject:   subject,
		Data:      item,
		Timestamp: item.At,
	}
}

// PublishExecution 发布一条执行日志。
func (p *Publisher) PublishExecution(ctx context.Context, item apiclient.ExecutionLogItem) error {
	event := p.NewEvent(item)
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(event.Subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.WithContext(ctx).WithFields(logrus.Fields{
		"subject":  event.Subject,
		"event_id": event.ID,
		"status":   item.Status,
	}).Debug("Execution event published")
	return nil
}

// Subscribe 订阅执行日志事件，ctx 取消时自动取消订阅。
// 无法解码或处理失败的消息只记录日志。
func (p *Publisher) Subscribe(ctx context.Context, handler EventHandler) error {
	sub, err := p.conn.Subscribe(p.subject+".>", func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			p.logger.WithError(err).Error("Failed to unmarshal event")
			return
		}
		if err := handler(&event); err != nil {
			p.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to handle event")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	return nil
}
