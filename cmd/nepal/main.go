// Package main 是 nepal 命令行工具的入口点
// nepal 用于在终端中解析服务地址、查询位置矩阵并发送经过规范化的 API 请求
package main

import (
	"os"

	"github.com/mcnielsen/nepal-core/cmd/nepal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
