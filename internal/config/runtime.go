package config

import "sync/atomic"

// Runtime 持有可热更新的运行时开关。
// 请求分发器和会话层在每次调用时读取，而不是在构造时复制一份。
type Runtime struct {
	disableEndpointsResolution atomic.Bool
	resolveAccountMetadata     atomic.Bool
}

// NewRuntime 根据静态配置创建 Runtime。
func NewRuntime(opts RuntimeOptions) *Runtime {
	r := &Runtime{}
	r.Apply(opts)
	return r
}

// Apply 用新的配置值覆盖当前开关。
func (r *Runtime) Apply(opts RuntimeOptions) {
	r.disableEndpointsResolution.Store(opts.DisableEndpointsResolution)
	r.resolveAccountMetadata.Store(opts.ResolveAccountMetadata)
}

// DisableEndpointsResolution 报告是否全局禁用端点解析。nil 接收者视为未禁用。
func (r *Runtime) DisableEndpointsResolution() bool {
	return r != nil && r.disableEndpointsResolution.Load()
}

// ResolveAccountMetadata 报告切换账号时是否拉取账号元数据。
func (r *Runtime) ResolveAccountMetadata() bool {
	return r != nil && r.resolveAccountMetadata.Load()
}

// SetDisableEndpointsResolution 单独修改端点解析开关。
func (r *Runtime) SetDisableEndpointsResolution(v bool) {
	r.disableEndpointsResolution.Store(v)
}

// SetResolveAccountMetadata 单独修改账号元数据开关。
func (r *Runtime) SetResolveAccountMetadata(v bool) {
	r.resolveAccountMetadata.Store(v)
}
