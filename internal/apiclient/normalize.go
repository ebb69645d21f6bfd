package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mcnielsen/nepal-core/internal/domain"
	"github.com/mcnielsen/nepal-core/internal/endpoints"
	"github.com/mcnielsen/nepal-core/internal/location"
)

// servicePlaceholder 出现在基础 URL 中时，服务名替换该占位符而不是追加路径段
const servicePlaceholder = "{service}"

// Normalize 补全请求描述并计算最终 URL，返回同一个 req。
//
// 已有 URL，或 Service 没有任何标识（Stack、Name、TargetEndpoint）的请求不做解析，
// 因此对已规范化的请求重复调用不会改变 URL。
// 否则合并全局默认参数并按以下顺序拼接 URL：
//
//	基础 URL（端点解析，失败或不适用时回退到位置矩阵）
//	/prefix  /service（或替换 {service} 占位符）  /version  /account  /path
func (c *Client) Normalize(ctx context.Context, req *Request) (*Request, error) {
	translateDeprecated(req)

	if req.URL != "" {
		return req, nil
	}
	if !req.Service.identified() {
		c.logger.WithContext(ctx).WithField("method", req.Method).
			Warn("Request has neither a URL nor a service identifier")
		return req, nil
	}

	c.mergeDefaults(req)
	svc := req.Service

	account := svc.AccountID
	if account == "" && svc.ContextAccount {
		account = c.ContextAccount()
	}

	base := ""
	if c.shouldResolve(svc) {
		resolveAccount := account
		if resolveAccount == "" || resolveAccount == "0" {
			resolveAccount = c.ContextAccount()
		}
		if resolveAccount != "" {
			base = c.resolver.Resolve(ctx, endpoints.Query{
				AccountID:  resolveAccount,
				Service:    req.serviceName(),
				Residency:  svc.Residency,
				Datacenter: svc.Datacenter,
			})
		}
	}
	if base == "" {
		stack := svc.Stack
		if stack == "" {
			stack = location.InsightAPI
		}
		var override *location.Context
		if svc.Residency != "" {
			override = &location.Context{Residency: svc.Residency}
		}
		base = c.matrix.BaseURL(stack, override)
		if base == "" {
			return req, fmt.Errorf("%w: no location registered for %s", domain.ErrNoURL, stack)
		}
	}

	req.URL = assembleURL(base, svc, account)

	c.logger.WithContext(ctx).WithFields(logrus.Fields{
		"service": svc.Name,
		"url":     req.URL,
	}).Debug("Request normalized")
	return req, nil
}

// shouldResolve 报告是否应通过端点解析缓存确定基础 URL。
func (c *Client) shouldResolve(svc *ServiceTarget) bool {
	if svc.NoEndpointsResolution || c.runtime.DisableEndpointsResolution() {
		return false
	}
	return svc.Stack == location.InsightAPI || svc.TargetEndpoint != ""
}

// mergeDefaults 把全局默认参数合并进请求，请求自身已设置的字段优先。
func (c *Client) mergeDefaults(req *Request) {
	d := c.snapshotDefaults()

	if len(d.Headers) > 0 {
		if req.Headers == nil {
			req.Headers = make(http.Header)
		}
		for k, vs := range d.Headers {
			if _, ok := req.Headers[k]; !ok {
				req.Headers[k] = append([]string(nil), vs...)
			}
		}
	}
	if len(d.Params) > 0 {
		if req.Params == nil {
			req.Params = make(url.Values)
		}
		for k, vs := range d.Params {
			if _, ok := req.Params[k]; !ok {
				req.Params[k] = append([]string(nil), vs...)
			}
		}
	}
	if req.TTL == 0 {
		req.TTL = d.TTL
	}
	if req.RetryCount == 0 {
		req.RetryCount = d.RetryCount
	}
	if req.RetryInterval == 0 {
		req.RetryInterval = d.RetryInterval
	}
	if req.Service.Residency == "" {
		req.Service.Residency = d.Residency
	}
}

// translateDeprecated 把旧字段转换为新字段并清空旧字段。
func translateDeprecated(req *Request) {
	if req.AcceptHeader != "" {
		if req.Headers == nil {
			req.Headers = make(http.Header)
		}
		req.Headers.Set("Accept", req.AcceptHeader)
		req.AcceptHeader = ""
	}
	if req.ResponseType != "" {
		if req.Format == "" {
			req.Format = req.ResponseType
		}
		req.ResponseType = ""
	}
}

func assembleURL(base string, svc *ServiceTarget, account string) string {
	u := strings.TrimRight(base, "/")
	if p := strings.Trim(svc.Prefix, "/"); p != "" {
		u += "/" + p
	}
	if svc.Name != "" {
		if strings.Contains(u, servicePlaceholder) {
			u = strings.ReplaceAll(u, servicePlaceholder, svc.Name)
		} else {
			u += "/" + svc.Name
		}
	}
	if seg := strings.Trim(svc.Version.Segment(), "/"); seg != "" {
		u += "/" + seg
	}
	if account != "" && account != "0" {
		u += "/" + account
	}
	if p := strings.TrimLeft(svc.Path, "/"); p != "" {
		u += "/" + p
	}
	return u
}
