// Package cmd 提供 nepal 命令行工具的所有子命令实现。
// 本文件实现输出格式化打印功能，支持 table、json、yaml 三种格式。
package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mcnielsen/nepal-core/internal/apiclient"
	"github.com/mcnielsen/nepal-core/internal/location"
)

// Printer 是格式化输出的处理器。
type Printer struct {
	format string    // 输出格式：table、json 或 yaml
	writer io.Writer // 输出目标
}

// NewPrinter 创建输出到 w 的 Printer，格式取自 viper 的 output 配置，默认 table。
func NewPrinter(w io.Writer) *Printer {
	format := viper.GetString("output")
	if format == "" {
		format = "table"
	}
	return &Printer{format: format, writer: w}
}

// Resolution 一次服务地址解析的结果。
type Resolution struct {
	Service   string `json:"service" yaml:"service"`
	AccountID string `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	URL       string `json:"url" yaml:"url"`
}

// PrintResolution 打印服务地址解析结果。
func (p *Printer) PrintResolution(r Resolution) error {
	switch p.format {
	case "json":
		return p.printJSON(r)
	case "yaml":
		return p.printYAML(r)
	default:
		w := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tACCOUNT\tURL")
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Service, orDash(r.AccountID), r.URL)
		return w.Flush()
	}
}

// PrintDescriptor 打印位置描述。
func (p *Printer) PrintDescriptor(d location.Descriptor) error {
	switch p.format {
	case "json":
		return p.printJSON(d)
	case "yaml":
		return p.printYAML(d)
	default:
		w := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Location:\t%s\n", d.LocTypeID)
		fmt.Fprintf(w, "URI:\t%s\n", d.URI)
		fmt.Fprintf(w, "Environment:\t%s\n", orDash(d.Environment))
		fmt.Fprintf(w, "Residency:\t%s\n", orDash(d.Residency))
		fmt.Fprintf(w, "Insight Location:\t%s\n", orDash(d.InsightLocationID))
		if len(d.Aliases) > 0 {
			fmt.Fprintf(w, "Aliases:\t%s\n", strings.Join(d.Aliases, ", "))
		}
		return w.Flush()
	}
}

// PrintResponse 打印响应。table 格式下 JSON 响应体会被缩进输出。
func (p *Printer) PrintResponse(resp *apiclient.Response) error {
	var body any
	if len(resp.Body) > 0 && json.Valid(resp.Body) {
		body = json.RawMessage(resp.Body)
	} else {
		body = string(resp.Body)
	}
	switch p.format {
	case "json":
		return p.printJSON(body)
	case "yaml":
		var v any
		if raw, ok := body.(json.RawMessage); ok {
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
		} else {
			v = body
		}
		return p.printYAML(v)
	default:
		fmt.Fprintf(p.writer, "%d %s (attempts: %d, cached: %t)\n", resp.Status, resp.URL, resp.Attempts, resp.Cached)
		if raw, ok := body.(json.RawMessage); ok {
			var buf bytes.Buffer
			if err := json.Indent(&buf, raw, "", "  "); err != nil {
				return err
			}
			buf.WriteByte('\n')
			_, err := buf.WriteTo(p.writer)
			return err
		}
		if s := body.(string); s != "" {
			fmt.Fprintln(p.writer, s)
		}
		return nil
	}
}

// PrintExecutionLog 打印执行日志。
func (p *Printer) PrintExecutionLog(items []apiclient.ExecutionLogItem) error {
	switch p.format {
	case "json":
		return p.printJSON(items)
	case "yaml":
		return p.printYAML(items)
	default:
		if len(items) == 0 {
			return nil
		}
		w := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "METHOD\tSTATUS\tBYTES\tDURATION\tURL")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", item.Method, item.Status, item.Bytes, item.Duration, item.URL)
		}
		return w.Flush()
	}
}

// printJSON 以 JSON 格式输出数据，使用 2 空格缩进。
func (p *Printer) printJSON(v interface{}) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printYAML 以 YAML 格式输出数据。
func (p *Printer) printYAML(v interface{}) error {
	enc := yaml.NewEncoder(p.writer)
	enc.SetIndent(2)
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
