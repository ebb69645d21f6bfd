package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mcnielsen/nepal-core/internal/domain"
	"github.com/mcnielsen/nepal-core/internal/telemetry"
	"github.com/mcnielsen/nepal-core/internal/validation"
)

// bustParam 重试时附加的防缓存查询参数名，参数值不透明且每次不同
const bustParam = "_cb"

var bustWords = []string{"ping", "poke", "nudge", "prod", "jostle", "shake", "bump", "tap"}

// Do 规范化并执行请求。
//
// GET 请求按 TTL 读写响应缓存，同一缓存键的并发 GET 共享一次网络调用；
// POST、PUT、DELETE 和表单提交在发送前使目标 URL 的缓存失效。
// 状态码 0、3xx、5xx 在重试预算内重试，客户端超时直接返回 *GatewayTimeoutError。
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if _, err := c.Normalize(ctx, req); err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, domain.ErrNoURL
	}

	ctx, span := telemetry.StartSpan(ctx, "apiclient.dispatch",
		attribute.String("http.method", req.Method),
		attribute.String("service", req.serviceName()),
	)
	defer span.End()

	var (
		resp *Response
		err  error
	)
	if req.Method == http.MethodGet {
		resp, err = c.get(ctx, req)
	} else {
		c.invalidate(ctx, req)
		resp, err = c.send(ctx, req)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	if req.Validation != nil {
		if err := validation.CheckResponse(ctx, *req.Validation, resp.Body); err != nil {
			telemetry.RecordError(ctx, err)
			return resp, err
		}
	}
	return resp, nil
}

// EffectiveTTL 计算请求实际使用的缓存时长，0 表示不缓存。
func EffectiveTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == DefaultTTL:
		return DefaultCacheTTL
	case ttl > 0:
		return ttl
	default:
		return 0
	}
}

// CacheKey 返回请求的缓存键：显式 CacheKey，否则为带查询串的完整 URL。
func CacheKey(req *Request) string {
	if req.CacheKey != "" {
		return req.CacheKey
	}
	return fullURL(req.URL, req.Params)
}

func fullURL(u string, params url.Values) string {
	if len(params) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + params.Encode()
}

func (c *Client) get(ctx context.Context, req *Request) (*Response, error) {
	ttl := EffectiveTTL(req.TTL)
	key := CacheKey(req)

	if ttl > 0 {
		if req.DisableCache {
			c.metrics.RecordCacheLookup("bypass")
		} else if body, ok := c.cached(ctx, key); ok {
			c.metrics.RecordCacheLookup("hit")
			return &Response{
				Status: http.StatusOK,
				Header: http.Header{"Content-Type": []string{"application/json"}},
				Body:   body,
				URL:    req.URL,
				Cached: true,
			}, nil
		} else {
			c.metrics.RecordCacheLookup("miss")
		}
	}

	// 共享的网络调用不随单个调用方取消
	ch := c.inflight.DoChan(key, func() (any, error) {
		detached := context.WithoutCancel(ctx)
		gen := c.writes.Load()
		resp, err := c.send(detached, req)
		if err == nil && ttl > 0 {
			c.storeResponse(detached, key, resp.Body, ttl, gen)
		}
		return resp, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.metrics.RecordDedupShared()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		shared := *res.Val.(*Response)
		return &shared, nil
	}
}

// storeResponse 写入响应缓存。网络调用期间发生过写操作时响应可能已过期，不写入。
// 写入之后再检查一次，覆盖与 invalidate 交错的情况。
func (c *Client) storeResponse(ctx context.Context, key string, body []byte, ttl time.Duration, gen uint64) {
	if c.writes.Load() != gen {
		return
	}
	if err := c.store.Set(ctx, key, body, ttl); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("key", key).Warn("Failed to store cached response")
		return
	}
	if c.writes.Load() != gen {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("key", key).Warn("Failed to invalidate cached response")
		}
	}
}

func (c *Client) cached(ctx context.Context, key string) ([]byte, bool) {
	body, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("key", key).Warn("Response cache read failed")
		return nil, false
	}
	return body, ok
}

// invalidate 删除写操作目标 URL 上的缓存条目，包括同一路径下带任意查询串的条目。
func (c *Client) invalidate(ctx context.Context, req *Request) {
	c.writes.Add(1)

	base, _, _ := strings.Cut(req.URL, "?")
	keys := []string{base}
	if full := fullURL(req.URL, req.Params); full != base {
		keys = append(keys, full)
	}
	if req.CacheKey != "" {
		keys = append(keys, req.CacheKey)
	}
	for _, k := range keys {
		// 之后的 GET 不再并入写操作之前发起的网络调用
		c.inflight.Forget(k)
		if err := c.store.Delete(ctx, k); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("key", k).Warn("Failed to invalidate cached response")
		}
	}
	if err := c.store.DeletePrefix(ctx, base+"?"); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("prefix", base).Warn("Failed to invalidate cached responses")
	}
}

func retryable(status int) bool {
	return status == 0 || (status >= 300 && status < 400) || (status >= 500 && status < 600)
}

// send 执行网络调用并处理重试。第 N 次重试前等待 N × RetryInterval。
func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	interval := req.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.roundTrip(ctx, req, attempt)
		if resp == nil {
			// 超时、编码失败和钩子错误不重试
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp.Attempts = attempt + 1

		if err == nil && resp.Status >= 200 && resp.Status < 300 {
			return resp, nil
		}

		if retryable(resp.Status) && attempt < req.RetryCount {
			wait := time.Duration(attempt+1) * interval
			c.metrics.RecordRetry(req.Method)
			c.logger.WithContext(ctx).WithFields(logrus.Fields{
				"method":  req.Method,
				"url":     req.URL,
				"status":  resp.Status,
				"attempt": attempt + 1,
				"wait":    wait.String(),
			}).Debug("Retrying request")

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			continue
		}

		return nil, &HTTPError{
			Method:   req.Method,
			URL:      req.URL,
			Status:   resp.Status,
			Response: resp,
			Err:      err,
		}
	}
}

// roundTrip 执行一次网络尝试。网络层失败时返回 Status 为 0 的响应和底层错误。
func (c *Client) roundTrip(ctx context.Context, req *Request, attempt int) (*Response, error) {
	params := req.Params
	if attempt > 0 {
		params = withCacheBuster(params, req.URL, attempt)
	}
	target := fullURL(req.URL, params)

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	attemptCtx := ctx
	cancel := func() {}
	if c.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	method := req.Method
	if method == MethodForm {
		method = http.MethodPost
	}
	hr, err := http.NewRequestWithContext(attemptCtx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if contentType != "" && hr.Header.Get("Content-Type") == "" {
		hr.Header.Set("Content-Type", contentType)
	}
	if hr.Header.Get("Accept") == "" {
		hr.Header.Set("Accept", "application/json")
	}
	for _, hook := range c.snapshotHooks() {
		if err := hook(ctx, hr, req); err != nil {
			return nil, fmt.Errorf("before request hook: %w", err)
		}
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(hr)
	if err != nil {
		c.record(ctx, req.Method, target, 0, 0, time.Since(start))
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, &GatewayTimeoutError{Service: req.serviceName(), URL: req.URL, Timeout: c.timeout}
		}
		return &Response{Status: 0, URL: req.URL}, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	c.record(ctx, req.Method, target, httpResp.StatusCode, len(data), time.Since(start))
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, &GatewayTimeoutError{Service: req.serviceName(), URL: req.URL, Timeout: c.timeout}
		}
		return &Response{Status: 0, URL: req.URL}, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
		URL:    req.URL,
	}, nil
}

// withCacheBuster 返回附加了防缓存参数的查询参数副本。
func withCacheBuster(params url.Values, u string, attempt int) url.Values {
	out := make(url.Values, len(params)+1)
	for k, vs := range params {
		out[k] = vs
	}
	hash := xxh3.HashString(u + strconv.FormatInt(time.Now().UnixNano(), 10))
	word := bustWords[rand.Intn(len(bustWords))]
	out.Set(bustParam, fmt.Sprintf("%s-%x-%d", word, hash, attempt))
	return out
}

// encodeBody 编码请求体：*Form 编码为 multipart，[]byte、string 和 io.Reader 原样发送，其余编码为 JSON。
func encodeBody(req *Request) (io.Reader, string, error) {
	if req.Method == MethodForm {
		form, ok := req.Body.(*Form)
		if !ok && req.Body != nil {
			return nil, "", fmt.Errorf("form request body must be *Form, got %T", req.Body)
		}
		return encodeForm(form)
	}

	switch b := req.Body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return strings.NewReader(b), "", nil
	case io.Reader:
		// 读出后替换为 []byte，重试时可以再次发送
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("read request body: %w", err)
		}
		req.Body = data
		return bytes.NewReader(data), "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("marshal request: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func encodeForm(form *Form) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if form != nil {
		for k, vs := range form.Fields {
			for _, v := range vs {
				if err := w.WriteField(k, v); err != nil {
					return nil, "", fmt.Errorf("write form field %s: %w", k, err)
				}
			}
		}
		for _, f := range form.Files {
			part, err := w.CreateFormFile(f.Field, f.Filename)
			if err != nil {
				return nil, "", fmt.Errorf("create form file %s: %w", f.Field, err)
			}
			if _, err := part.Write(f.Content); err != nil {
				return nil, "", fmt.Errorf("write form file %s: %w", f.Field, err)
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
