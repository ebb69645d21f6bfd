// Package cmd 提供 nepal 命令行工具的所有子命令实现。
// 本文件实现 config 命令及其子命令：
//   - config view: 查看合并了默认值、环境变量和命令行标志之后的生效配置
//   - config init: 生成带默认值的配置文件
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mcnielsen/nepal-core/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage SDK configuration",
	Long: `Manage the nepal SDK configuration.

The configuration file is stored at ~/.nepal.yaml by default.`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View effective configuration",
	RunE:  runConfigView,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long: `Create a new configuration file with default values.

Examples:
  nepal config init
  nepal config init --environment integration --residency EMEA`,
	RunE: runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configInitCmd)
}

// redacted 返回隐去敏感字段的配置副本。
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Client.Token != "" {
		out.Client.Token = "********"
	}
	if out.Storage.Redis.Password != "" {
		out.Storage.Redis.Password = "********"
	}
	return &out
}

// runConfigView 以 YAML 输出生效配置，令牌和密码会被隐去。
func runConfigView(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(redacted(cfg))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# Configuration file: %s\n", getConfigPath())
	fmt.Fprint(out, string(data))
	return nil
}

// runConfigInit 写入默认配置。已有文件时返回错误，不覆盖。
func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	cfg := config.Default()
	// 生成的文件不写入来自环境变量的令牌和密码
	cfg.Client.Token = ""
	cfg.Storage.Redis.Password = ""
	if v := viper.GetString("environment"); v != "" {
		cfg.Client.Environment = v
	}
	if v := viper.GetString("residency"); v != "" {
		cfg.Client.Residency = v
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at %s\n", configPath)
	return nil
}
