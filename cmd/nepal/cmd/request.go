// Package cmd 提供 nepal 命令行工具的所有子命令实现。
// 本文件实现 request 命令：通过 API 客户端发送一次请求，享有端点解析、缓存、去重和重试。
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcnielsen/nepal-core/internal/apiclient"
	"github.com/mcnielsen/nepal-core/internal/validation"
)

var (
	requestURL     string
	requestParams  []string
	requestHeaders []string
	requestData    string
	requestTTL     time.Duration
	requestRetries int
	requestBearer  bool
	requestShowLog bool

	requestSchema     string
	requestSchemaDir  string
	requestSchemaPath string
)

var requestCmd = &cobra.Command{
	Use:   "request <method> [service] [path]",
	Short: "Send an API request",
	Long: `通过 SDK 客户端发送一次 API 请求。

method 可选 get、post、put、delete、form。可以用 --url 指定完整地址，
也可以用服务名加 --account/--version 让客户端解析地址。

Examples:
  nepal request get cargo schedules --account 67108880 --version 2
  nepal request post aims users --version 1 --data '{"name":"ops"}'
  nepal request get --url https://api.product.dev.alertlogic.com/aims/v1/2/account`,
	Args: cobra.RangeArgs(1, 3),
	RunE: runRequest,
}

func init() {
	rootCmd.AddCommand(requestCmd)
	addTargetFlags(requestCmd)

	requestCmd.Flags().StringVar(&requestURL, "url", "", "完整请求地址，指定后忽略服务寻址参数")
	requestCmd.Flags().StringArrayVarP(&requestParams, "param", "p", nil, "查询参数 key=value，可重复")
	requestCmd.Flags().StringArrayVarP(&requestHeaders, "header", "H", nil, "请求头 key=value，可重复")
	requestCmd.Flags().StringVarP(&requestData, "data", "d", "", "请求体（JSON）；form 方法下为 key=value&... 形式的字段")
	requestCmd.Flags().DurationVar(&requestTTL, "ttl", 0, "GET 响应缓存时间")
	requestCmd.Flags().IntVar(&requestRetries, "retries", 0, "最大重试次数")
	requestCmd.Flags().BoolVar(&requestBearer, "bearer", false, "使用 Authorization: Bearer 认证头")
	requestCmd.Flags().BoolVar(&requestShowLog, "log", false, "输出本次调用的执行日志")
	requestCmd.Flags().StringVar(&requestSchema, "schema", "", "用该 Schema ID 校验响应")
	requestCmd.Flags().StringVar(&requestSchemaDir, "schema-dir", ".", "Schema 目录，文件名（不含 .json）即 Schema ID")
	requestCmd.Flags().StringVar(&requestSchemaPath, "schema-path", "", "只校验响应中的子路径（点号分隔）")
}

// splitPairs 把 key=value 列表解析为多值映射。
func splitPairs(pairs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid pair %q, expected key=value", pair)
		}
		out[k] = append(out[k], v)
	}
	return out, nil
}

// buildRequest 根据命令行参数构造请求描述。
func buildRequest(args []string) (*apiclient.Request, error) {
	req := &apiclient.Request{
		Method:     strings.ToUpper(args[0]),
		URL:        requestURL,
		TTL:        requestTTL,
		RetryCount: requestRetries,
	}
	switch req.Method {
	case "GET", "POST", "PUT", "DELETE", apiclient.MethodForm:
	default:
		return nil, fmt.Errorf("unsupported method %q", args[0])
	}

	if req.URL == "" {
		if len(args) < 2 {
			return nil, fmt.Errorf("either a service or --url is required")
		}
		path := ""
		if len(args) > 2 {
			path = args[2]
		}
		req.Service = buildTarget(args[1], path)
	}

	params, err := splitPairs(requestParams)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		req.Params = url.Values(params)
	}
	headers, err := splitPairs(requestHeaders)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		if req.Headers == nil {
			req.Headers = make(http.Header)
		}
		for _, v := range vs {
			req.Headers.Add(k, v)
		}
	}
	if requestBearer {
		req.Auth = apiclient.AuthBearer
	}

	if requestSchema != "" {
		provider, err := validation.LoadDir(requestSchemaDir)
		if err != nil {
			return nil, err
		}
		req.Validation = &validation.Directive{
			SchemaID:  requestSchema,
			Providers: []validation.Provider{provider},
			Path:      requestSchemaPath,
		}
	}

	if requestData != "" {
		if req.Method == apiclient.MethodForm {
			fields, err := url.ParseQuery(requestData)
			if err != nil {
				return nil, fmt.Errorf("invalid form data: %w", err)
			}
			req.Body = &apiclient.Form{Fields: fields}
		} else {
			req.Body = json.RawMessage(requestData)
		}
	}
	return req, nil
}

// runRequest 执行 request 命令。
func runRequest(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	stack, err := newStackFromFlags(ctx)
	if err != nil {
		return err
	}
	defer stack.Close()
	if requestShowLog {
		stack.Client.EnableExecutionLog(true)
	}

	printer := NewPrinter(cmd.OutOrStdout())
	resp, err := stack.Client.Do(ctx, req)
	if requestShowLog {
		if perr := printer.PrintExecutionLog(stack.Client.ExecutionLog()); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	return printer.PrintResponse(resp)
}
