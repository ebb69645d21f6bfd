package apiclient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExecutionLogItem 记录一次网络往返。缓存命中不产生记录。
type ExecutionLogItem struct {
	ID       string        `json:"id"`
	Method   string        `json:"method"`
	URL      string        `json:"url"`
	Status   int           `json:"status"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// ExecutionSink 接收执行日志记录，例如推送到事件总线。
type ExecutionSink interface {
	PublishExecution(ctx context.Context, item ExecutionLogItem) error
}

// record 记录指标，启用执行日志时追加一条记录并推送给 sink。
func (c *Client) record(ctx context.Context, method, target string, status, size int, elapsed time.Duration) {
	c.metrics.RecordRequest(method, status, float64(elapsed.Microseconds())/1000)

	c.mu.Lock()
	if !c.logEnabled {
		c.mu.Unlock()
		return
	}
	item := ExecutionLogItem{
		ID:       uuid.New().String(),
		Method:   method,
		URL:      target,
		Status:   status,
		Bytes:    size,
		Duration: elapsed,
		At:       time.Now(),
	}
	c.executionLog = append(c.executionLog, item)
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		if err := sink.PublishExecution(ctx, item); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("url", target).Warn("Failed to publish execution log item")
		}
	}
}

// EnableExecutionLog 开启或关闭执行日志。关闭不会清空已有记录。
func (c *Client) EnableExecutionLog(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logEnabled = enabled
}

// ExecutionLog 返回自上次重置以来的执行日志副本。
func (c *Client) ExecutionLog() []ExecutionLogItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ExecutionLogItem(nil), c.executionLog...)
}

// ResetExecutionLog 清空执行日志。
func (c *Client) ResetExecutionLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executionLog = nil
}
