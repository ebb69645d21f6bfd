// Package cmd 提供 nepal 命令行工具的所有子命令实现。
// 本文件实现 locate 命令：查询位置矩阵，既可以按 URL 反查位置，也可以按位置类型解析基础 URL。
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcnielsen/nepal-core/internal/domain"
	"github.com/mcnielsen/nepal-core/internal/location"
)

var (
	locateID       string
	locateLocation string
)

var locateCmd = &cobra.Command{
	Use:   "locate [uri]",
	Short: "Query the location matrix",
	Long: `查询位置矩阵。

传入 URL 时反查它所属的位置描述；使用 --id 时按当前上下文解析该位置类型的基础 URL。

Examples:
  nepal locate https://console.magma.product.dev.alertlogic.com
  nepal locate --id insight:api --residency EMEA
  nepal locate --id cd14:ui --insight-location defender-uk-newport`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLocate,
}

func init() {
	rootCmd.AddCommand(locateCmd)
	locateCmd.Flags().StringVar(&locateID, "id", "", "位置类型标识，如 insight:api")
	locateCmd.Flags().StringVar(&locateLocation, "insight-location", "", "覆盖当前洞察位置")
}

// runLocate 执行 locate 命令。
func runLocate(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (locateID == "") {
		return fmt.Errorf("exactly one of <uri> or --id is required")
	}

	stack, err := newStackFromFlags(context.Background())
	if err != nil {
		return err
	}
	defer stack.Close()
	matrix := stack.Client.Matrix()

	var (
		desc location.Descriptor
		ok   bool
	)
	if len(args) == 1 {
		desc, ok = matrix.ResolveByURI(args[0])
		if !ok {
			return fmt.Errorf("%w: no location matches %s", domain.ErrLocationNotFound, args[0])
		}
	} else {
		var override *location.Context
		if locateLocation != "" {
			override = &location.Context{InsightLocationID: locateLocation}
		}
		desc, ok = matrix.Resolve(locateID, override)
		if !ok {
			return fmt.Errorf("%w: %s is not defined for the current context", domain.ErrLocationNotFound, locateID)
		}
	}
	return NewPrinter(cmd.OutOrStdout()).PrintDescriptor(desc)
}
