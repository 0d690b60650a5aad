package registry

// ServiceKey 唯一标识一个逻辑服务
type ServiceKey struct {
	Namespace string // 服务所属命名空间
	Name      string // 服务名称
}

// RegistrationInfo 调用方提供的服务实例描述
//
// Meta 中的部分 key 有特殊含义，见 MetaKey* 常量。
type RegistrationInfo struct {
	Name     string            `json:"name"`     // 服务名称
	Host     string            `json:"host"`     // 实例地址
	Port     int               `json:"port"`     // 实例端口
	Protocol string            `json:"protocol"` // 协议 (如 grpc, http)
	Weight   int               `json:"weight"`   // 负载均衡权重
	Priority int               `json:"priority"` // 实例优先级
	Version  string            `json:"version"`  // 版本号
	Meta     map[string]string `json:"meta"`     // 元数据及覆盖项
}

// Meta 中具有特殊含义的 key
const (
	// MetaKeyInstanceID 后端分配的实例 ID；Register 成功后写回
	MetaKeyInstanceID = "instance_id"

	// MetaKeyNamespace 命名空间覆盖项；仅在全局命名空间为空时生效
	MetaKeyNamespace = "namespace"

	// MetaKeyEnableHealthCheck 健康检查覆盖项 ("true"/"false")；
	// 未设置时以全局心跳开关为准
	MetaKeyEnableHealthCheck = "enable_health_check"
)

// metaOverrides 从 Meta 中解析出的显式覆盖项
//
// 避免在各个操作中临时扫描字符串 map，解析一次后按类型化字段使用。
type metaOverrides struct {
	namespace         string
	instanceID        string
	enableHealthCheck *bool
}

// parseOverrides 解析 Meta 中的覆盖项，meta 为 nil 时返回零值
func parseOverrides(meta map[string]string) metaOverrides {
	var o metaOverrides
	if meta == nil {
		return o
	}
	o.namespace = meta[MetaKeyNamespace]
	o.instanceID = meta[MetaKeyInstanceID]
	if v, ok := meta[MetaKeyEnableHealthCheck]; ok {
		enabled := v == "true" || v == "1"
		o.enableHealthCheck = &enabled
	}
	return o
}
