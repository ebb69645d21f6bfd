package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/mcnielsen/nepal-core/internal/domain"
)

// DialAsync 规范化请求并建立 WebSocket 连接。
// 端点服务以 async. 开头的主机会被解析为 wss:// 基础 URL；http(s) 地址会被转换为 ws(s)。
// 发送前钩子同样作用于握手请求，认证头因此与普通请求一致。
func (c *Client) DialAsync(ctx context.Context, req *Request) (*websocket.Conn, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if _, err := c.Normalize(ctx, req); err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, fmt.Errorf("dial async: %w", domain.ErrNoURL)
	}

	target := websocketURL(fullURL(req.URL, req.Params))

	hr, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create handshake request: %w", err)
	}
	for k, vs := range req.Headers {
		hr.Header[k] = append([]string(nil), vs...)
	}
	for _, hook := range c.snapshotHooks() {
		if err := hook(ctx, hr, req); err != nil {
			return nil, fmt.Errorf("before request hook: %w", err)
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, resp, err := dialer.DialContext(ctx, target, hr.Header)
	if err != nil {
		if resp != nil {
			return nil, &HTTPError{Method: http.MethodGet, URL: req.URL, Status: resp.StatusCode, Err: err}
		}
		return nil, &HTTPError{Method: http.MethodGet, URL: req.URL, Err: err}
	}
	return conn, nil
}

func websocketURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}
