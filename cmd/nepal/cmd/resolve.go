// Package cmd 提供 nepal 命令行工具的所有子命令实现。
// 本文件实现 resolve 命令：把服务标识规范化为完整的请求 URL，不发送请求。
package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mcnielsen/nepal-core/internal/apiclient"
	"github.com/mcnielsen/nepal-core/internal/domain"
)

// 服务寻址相关的命令行标志，resolve 与 request 共用
var (
	targetAccount    string
	targetVersion    string
	targetStack      string
	targetResidency  string
	targetNoResolve  bool
	targetDatacenter string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <service> [path]",
	Short: "Resolve the full URL of a service request",
	Long: `把服务名、版本、账号和路径规范化为完整的请求 URL。

需要端点解析时会调用全局端点服务，并把结果缓存到本次进程内。

Examples:
  nepal resolve cargo --account 67108880 --version 2
  nepal resolve aims account --stack global:api --version 1 --account 2`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	addTargetFlags(resolveCmd)
}

// addTargetFlags 注册服务寻址标志。
func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&targetAccount, "account", "", "目标账号 ID（为空时使用配置中的上下文账号）")
	cmd.Flags().StringVar(&targetVersion, "version", "", "服务版本，数字（如 2）或字符串（如 v1beta）")
	cmd.Flags().StringVar(&targetStack, "stack", "", "位置类型，如 insight:api、global:api")
	cmd.Flags().StringVar(&targetResidency, "target-residency", "", "端点解析使用的驻留区域")
	cmd.Flags().StringVar(&targetDatacenter, "datacenter", "", "端点解析使用的数据中心")
	cmd.Flags().BoolVar(&targetNoResolve, "no-resolve", false, "跳过端点解析，直接使用位置矩阵的默认地址")
}

// parseVersion 数字形式解析为数字版本，其他形式原样保留。
func parseVersion(s string) apiclient.Version {
	if n, err := strconv.Atoi(s); err == nil {
		return apiclient.VersionNumber(n)
	}
	return apiclient.VersionLiteral(s)
}

// buildTarget 根据命令行参数构造服务目标。
func buildTarget(service, path string) *apiclient.ServiceTarget {
	return &apiclient.ServiceTarget{
		Stack:                 targetStack,
		Name:                  service,
		Version:               parseVersion(targetVersion),
		AccountID:             targetAccount,
		ContextAccount:        targetAccount == "",
		Path:                  path,
		Residency:             targetResidency,
		Datacenter:            targetDatacenter,
		NoEndpointsResolution: targetNoResolve,
	}
}

// runResolve 执行 resolve 命令。
func runResolve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	stack, err := newStackFromFlags(ctx)
	if err != nil {
		return err
	}
	defer stack.Close()

	path := ""
	if len(args) > 1 {
		path = args[1]
	}
	target := buildTarget(args[0], path)
	req, err := stack.Client.Normalize(ctx, &apiclient.Request{Service: target})
	if err != nil {
		return err
	}
	if req.URL == "" {
		return fmt.Errorf("resolve %s: %w", args[0], domain.ErrNoURL)
	}

	account := target.AccountID
	if account == "" {
		account = stack.Client.ContextAccount()
	}
	return NewPrinter(cmd.OutOrStdout()).PrintResolution(Resolution{
		Service:   args[0],
		AccountID: account,
		URL:       req.URL,
	})
}
