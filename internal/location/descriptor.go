// Package location 实现位置矩阵（Location Matrix）。
// 位置矩阵把符号化的服务栈标识（如 insight:api）结合运行时上下文（环境、数据驻留区域、
// 洞察位置）解析为具体的基础 URL，并支持根据任意 URL 反查其所属的位置描述。
package location

// 常用的位置类型标识
const (
	// InsightAPI 主 API 栈，大多数服务通过端点解析后落在这里
	InsightAPI = "insight:api"
	// GlobalAPI 全局服务栈（端点解析服务、账号服务等）
	GlobalAPI = "global:api"
	// IntegrationsAPI 按服务划分域名的通用栈，基础 URL 中带有 {service} 占位符
	IntegrationsAPI = "integrations:api"
	// MagmaUI 新版控制台
	MagmaUI = "cd17:magma"
	// AccountsUI 账号管理控制台
	AccountsUI = "cd17:accounts"
	// LegacyUI 旧版控制台，按洞察位置区分部署
	LegacyUI = "cd14:ui"
)

// 环境
const (
	Production  = "production"
	Integration = "integration"
	Development = "development"
)

// 数据驻留区域
const (
	ResidencyUS   = "US"
	ResidencyEMEA = "EMEA"
)

// Wildcard 表示描述对环境或驻留区域不作限定
const Wildcard = "*"

// Descriptor 描述一个可部署面（UI 或 API 栈）在某个环境/驻留区域组合下的位置。
type Descriptor struct {
	// LocTypeID 位置类型标识，如 insight:api
	LocTypeID string `json:"loc_type_id" yaml:"loc_type_id"`
	// InsightLocationID 洞察位置（数据中心）ID，为空表示不区分数据中心
	InsightLocationID string `json:"insight_location_id,omitempty" yaml:"insight_location_id,omitempty"`
	// URI 规范基础 URL；按 URI 反查命中后会被改写为实际观察到的基础 URL
	URI string `json:"uri" yaml:"uri"`
	// OriginalURI 加载时登记的 URI，匹配表达式始终基于它
	OriginalURI string `json:"original_uri,omitempty" yaml:"original_uri,omitempty"`
	// Aliases 别名模式，* 匹配一段字母数字
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	// Keyword 反查时用于预筛选的关键字
	Keyword string `json:"keyword,omitempty" yaml:"keyword,omitempty"`
	// Weight 同关键字候选之间的优先级，越小越优先
	Weight int `json:"weight,omitempty" yaml:"weight,omitempty"`
	// Environment 环境标签，空或 * 表示任意环境
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
	// Residency 驻留区域标签，空或 * 表示任意区域
	Residency string `json:"residency,omitempty" yaml:"residency,omitempty"`
}

// Context 位置解析上下文。
type Context struct {
	Environment       string   `json:"environment,omitempty" yaml:"environment,omitempty"`
	Residency         string   `json:"residency,omitempty" yaml:"residency,omitempty"`
	InsightLocationID string   `json:"insight_location_id,omitempty" yaml:"insight_location_id,omitempty"`
	Accessible        []string `json:"accessible,omitempty" yaml:"accessible,omitempty"`
}

// InsightLocation 描述一个洞察位置（数据中心）。
// Alternatives 非空时，该位置本身只是一个逻辑别名，实际解析到某个备选位置。
type InsightLocation struct {
	ID            string
	Residency     string
	LogicalRegion string
	Alternatives  []string
}

func (d Descriptor) environment() string {
	if d.Environment == "" {
		return Wildcard
	}
	return d.Environment
}

func (d Descriptor) residency() string {
	if d.Residency == "" {
		return Wildcard
	}
	return d.Residency
}

// matchExpressions 返回用于按 URI 反查的表达式：登记的字面 URI 加上所有别名。
func (d Descriptor) matchExpressions() []string {
	base := d.OriginalURI
	if base == "" {
		base = d.URI
	}
	exprs := make([]string, 0, 1+len(d.Aliases))
	if base != "" {
		exprs = append(exprs, base)
	}
	return append(exprs, d.Aliases...)
}

func (c Context) clone() Context {
	out := c
	if c.Accessible != nil {
		out.Accessible = append([]string(nil), c.Accessible...)
	}
	return out
}
