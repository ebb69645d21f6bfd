// Package domain 定义了 SDK 核心在各层之间共享的领域错误。
package domain

import "errors"

// 领域错误定义
// 调用方通过 errors.Is 对这些哨兵错误进行分支判断，具体的错误类型（携带响应、
// 服务名等诊断信息）分别定义在 apiclient 与 validation 包中。

var (
	// ========== 请求分发相关错误 ==========

	// ErrGatewayTimeout 表示请求超过了客户端级别的超时时间，属于致命错误，不会被重试
	ErrGatewayTimeout = errors.New("gateway timeout")
	// ErrHTTPStatus 表示服务端返回了非 2xx 状态码（或可重试错误耗尽了重试次数）
	ErrHTTPStatus = errors.New("unexpected http status")
	// ErrNoURL 表示请求描述既没有显式 URL，也无法从服务标识推导出 URL
	ErrNoURL = errors.New("request has no url")

	// ========== 校验相关错误 ==========

	// ErrValidation 表示响应数据未通过 JSON Schema 校验，或校验子路径不存在
	ErrValidation = errors.New("response validation failed")
	// ErrSchemaNotFound 表示没有任何 schema provider 声明拥有指定的 schema
	ErrSchemaNotFound = errors.New("schema not found")

	// ========== 位置解析相关错误 ==========

	// ErrLocationNotFound 表示位置矩阵中不存在匹配的位置描述
	ErrLocationNotFound = errors.New("location not found")
)
