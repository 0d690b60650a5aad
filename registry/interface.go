package registry

import "context"

// Registry 服务注册适配器接口
//
// 把本地服务实例绑定到外部 mesh 注册后端：注册、心跳保活、关闭时注销。
// 除 Init/Destroy 外的操作都要求适配器已初始化。
type Registry interface {
	// --- 生命周期 ---

	// Init 初始化适配器（幂等）
	//
	// 建立共享后端上下文、创建操作句柄并构建服务配置表。
	// 已初始化时直接返回 nil，不会重新读取配置。
	Init(ctx context.Context) error

	// Destroy 释放适配器资源（幂等）
	//
	// 清空配置表、释放操作句柄并关闭后端上下文。
	// 未初始化时是空操作。调用方需保证 Destroy 不与其他操作并发。
	Destroy() error

	// --- 注册操作 ---

	// Register 注册服务实例
	//
	// 成功后把后端分配的实例 ID 写回 info.Meta["instance_id"]。
	// 后端返回"已存在"同样视为成功（幂等注册）。
	Register(ctx context.Context, info *RegistrationInfo) error

	// Unregister 注销服务实例
	//
	// 已知实例 ID 时按 (token, instance_id) 注销，
	// 否则按 (namespace, name, token, host, port) 注销。
	Unregister(ctx context.Context, info *RegistrationInfo) error

	// --- 心跳 ---

	// Heartbeat 发送阻塞心跳，等待后端确认
	//
	// 服务必须先出现在注册配置中，否则直接失败且不触发后端调用。
	Heartbeat(ctx context.Context, info *RegistrationInfo) error

	// AsyncHeartbeat 发送非阻塞心跳
	//
	// 返回的通道在后端接受提交后立即收到 nil（而不是等待心跳被确认），
	// 提交失败时收到对应错误。心跳本身的结果只通过日志记录。
	// 通道容量为 1，发送后关闭，调用方可以只读一次。
	AsyncHeartbeat(ctx context.Context, info *RegistrationInfo) <-chan error
}
