// Package cmd 包含 nepal CLI 工具的所有命令实现
// 使用 cobra 框架构建命令行接口
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 全局命令行标志变量
var (
	cfgFile   string // SDK 配置文件路径
	outputFmt string // 输出格式（table/json/yaml）
)

// rootCmd 是 CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "nepal",
	Short: "nepal - API client toolkit",
	Long: `nepal 是 SDK 客户端核心的命令行前端，用于解析服务地址并发送 API 请求。

使用示例:
  # 解析账号下某个服务的基础 URL
  nepal resolve cargo --account 67108880

  # 发送 GET 请求（自动解析端点、带缓存和重试）
  nepal request get cargo schedules --account 67108880 --version 2

  # 根据 URL 反查位置
  nepal locate https://console.magma.product.dev.alertlogic.com`,
	SilenceUsage: true,
}

// Execute 执行根命令，由 main 包调用
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "SDK 配置文件路径（默认为 $HOME/.nepal.yaml）")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "输出格式（table、json、yaml）")
	rootCmd.PersistentFlags().String("environment", "", "目标环境（production、integration、development）")
	rootCmd.PersistentFlags().String("residency", "", "数据驻留区域（US、EMEA）")
	rootCmd.PersistentFlags().String("token", "", "认证令牌")

	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("environment", rootCmd.PersistentFlags().Lookup("environment"))
	viper.BindPFlag("residency", rootCmd.PersistentFlags().Lookup("residency"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

// initConfig 初始化 viper
// 环境变量格式：NEPAL_<KEY>，如 NEPAL_ENVIRONMENT
func initConfig() {
	viper.SetEnvPrefix("NEPAL")
	viper.AutomaticEnv()
}

// getConfigPath 获取 SDK 配置文件路径
// 未指定 --config 时使用 $HOME/.nepal.yaml
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nepal.yaml")
}
