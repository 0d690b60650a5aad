package registry

import "github.com/ceyewan/meshreg/xerrors"

var (
	// ErrNotInitialized 适配器未初始化（未 Init 或已 Destroy）
	ErrNotInitialized = xerrors.New("registry not initialized")

	// ErrEmptyInput 必填入参为空（如 nil 的实例描述）
	ErrEmptyInput = xerrors.New("Input parameter is empty")

	// ErrServiceNotConfigured 在注册配置中找不到对应的 (namespace, name) 条目
	ErrServiceNotConfigured = xerrors.New("service not found in registry config")

	// ErrBackendFailure 后端返回了成功/已存在之外的返回码
	ErrBackendFailure = xerrors.New("backend operation failed")

	// ErrInitFailed 后端上下文或操作句柄初始化失败
	ErrInitFailed = xerrors.New("registry init failed")
)
