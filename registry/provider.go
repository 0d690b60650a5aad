package registry

import (
	"context"
	"fmt"
	"time"
)

// Code 后端返回码
//
// 适配器只对 CodeOK 和 CodeExists 做特殊处理，
// 其余返回码一律视为失败并透传给调用方。
type Code int32

const (
	CodeOK       Code = iota // 操作成功
	CodeExists               // 实例已存在（注册场景下视为成功）
	CodeNotFound             // 实例或租约不存在
	CodeTimeout              // 后端调用超时
	CodeError                // 其他后端错误
)

// String 返回 Code 的字符串表示
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeExists:
		return "exists"
	case CodeNotFound:
		return "not_found"
	case CodeTimeout:
		return "timeout"
	case CodeError:
		return "error"
	default:
		return fmt.Sprintf("code(%d)", int32(c))
	}
}

// RegisterRequest 规范化的注册请求载荷
//
// 由适配器根据调用方入参、注册配置和全局默认值拼装，每次调用重新构建。
type RegisterRequest struct {
	Namespace         string            // 服务命名空间
	Service           string            // 服务名称
	Token             string            // 服务令牌，注册/注销前必须非空
	Host              string            // 实例地址
	Port              int               // 实例端口
	Protocol          string            // 协议
	Weight            int               // 权重
	Priority          int               // 优先级
	Version           string            // 版本号
	Metadata          map[string]string // 合并后的元数据
	EnableHealthCheck bool              // 是否开启健康检查
	HealthCheckType   int               // 健康检查类型
	TTL               int               // 心跳 TTL（秒）
	InstanceID        string            // 预分配的实例 ID，可为空
	Timeout           time.Duration     // 后端调用超时
}

// DeregisterRequest 规范化的注销请求载荷
//
// InstanceID 非空时按 (Token, InstanceID) 注销，
// 否则按 (Namespace, Service, Token, Host, Port) 注销。
type DeregisterRequest struct {
	Namespace  string
	Service    string
	Token      string
	Host       string
	Port       int
	InstanceID string
	Timeout    time.Duration
}

// HeartbeatRequest 规范化的心跳请求载荷
//
// 寻址规则与 DeregisterRequest 相同。
type HeartbeatRequest struct {
	Namespace  string
	Service    string
	Token      string
	Host       string
	Port       int
	InstanceID string
	Timeout    time.Duration
}

// HeartbeatCallback 异步心跳完成回调
//
// 由后端客户端在心跳被确认或失败时调用，执行上下文由后端客户端决定。
type HeartbeatCallback func(code Code)

// Provider 后端注册能力接口
//
// 由具体的 mesh 后端客户端实现（如 registry/etcd）。
// 连接管理、重试和线上协议都属于实现的职责，适配器只关心返回码。
type Provider interface {
	// Register 注册实例，返回后端分配（或已存在）的实例 ID 和返回码
	Register(ctx context.Context, req *RegisterRequest) (instanceID string, code Code)

	// Deregister 注销实例
	Deregister(ctx context.Context, req *DeregisterRequest) Code

	// Heartbeat 发送阻塞心跳，等待后端确认
	Heartbeat(ctx context.Context, req *HeartbeatRequest) Code

	// AsyncHeartbeat 发送非阻塞心跳
	//
	// 返回码表示提交是否成功；心跳本身的结果通过 cb 异步送达。
	AsyncHeartbeat(ctx context.Context, req *HeartbeatRequest, cb HeartbeatCallback) Code
}

// ProviderConnector 管理共享的后端客户端上下文并产出操作句柄
//
// Connect/Close 对应后端上下文的一次性建立与释放，
// Provider 在 Connect 成功后返回可用的操作句柄。
type ProviderConnector interface {
	// Connect 建立共享后端上下文（幂等）
	Connect(ctx context.Context) error

	// Close 释放共享后端上下文（幂等）
	Close() error

	// Provider 返回后端操作句柄；未 Connect 时返回错误
	Provider() (Provider, error)
}
