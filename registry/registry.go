// Package registry 提供服务注册适配器。
//
// 组件把本地服务实例绑定到外部 mesh 注册后端：进程启动时注册实例、
// 运行期间周期性心跳保活、进程退出时注销并释放后端上下文。
// 后端能力通过 Provider 接口注入，内置的 etcd 实现见 registry/etcd。
//
// 基本使用：
//
//	conn := etcdreg.NewProviderConnector(cfg)
//	reg, err := registry.New(conn, regCfg, registry.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := reg.Init(ctx); err != nil {
//	    return err
//	}
//	defer reg.Destroy()
//
//	err = reg.Register(ctx, &registry.RegistrationInfo{
//	    Name: "order-service",
//	    Host: "10.0.0.3",
//	    Port: 8080,
//	})
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ceyewan/meshreg/clog"
	"github.com/ceyewan/meshreg/metrics"
	"github.com/ceyewan/meshreg/xerrors"
)

// meshRegistry Registry 接口的默认实现
type meshRegistry struct {
	conn   ProviderConnector
	logger clog.Logger

	opsTotal metrics.Counter

	// mu 串行化 Init/Destroy；普通操作只读 initialized
	mu          sync.Mutex
	initialized atomic.Bool

	cfg              *Config
	provider         Provider
	services         map[ServiceKey]*ServiceConfig
	heartbeatTimeout time.Duration
}

// New 创建 Registry 组件
//
// conn 为必填的后端连接器；cfg 可为 nil，Init 时退回默认配置。
// 注意：New 只做参数装配，不触发任何后端调用。
func New(conn ProviderConnector, cfg *Config, opts ...Option) (Registry, error) {
	if conn == nil {
		return nil, xerrors.Wrap(ErrEmptyInput, "provider connector is required")
	}

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	r := &meshRegistry{
		conn:   conn,
		cfg:    cfg,
		logger: o.logger,
	}

	if o.meter != nil {
		counter, err := o.meter.Counter("registry_operations_total", "注册操作总数")
		if err != nil {
			return nil, xerrors.Wrap(err, "create registry metrics")
		}
		r.opsTotal = counter
	}

	return r, nil
}

// Init 实现 Registry 接口
func (r *meshRegistry) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized.Load() {
		return nil
	}

	cfg := r.cfg
	if cfg == nil {
		r.logger.Warn("registry config missing, falling back to defaults")
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return xerrors.Wrap(err, "invalid registry config")
	}

	if err := r.conn.Connect(ctx); err != nil {
		return xerrors.Wrapf(ErrInitFailed, "connect backend: %v", err)
	}

	provider, err := r.conn.Provider()
	if err != nil {
		_ = r.conn.Close()
		return xerrors.Wrapf(ErrInitFailed, "acquire provider: %v", err)
	}

	services := make(map[ServiceKey]*ServiceConfig, len(cfg.Services))
	for i := range cfg.Services {
		sc := &cfg.Services[i]
		services[sc.Key()] = sc
	}

	r.cfg = cfg
	r.provider = provider
	r.services = services
	// 兼容旧客户端：实际生效的后端超时在配置值上额外加 1s
	r.heartbeatTimeout = cfg.HeartbeatTimeout + time.Second
	r.initialized.Store(true)

	r.logger.Info("registry initialized",
		clog.String("namespace", cfg.Namespace),
		clog.Int("services", len(services)),
		clog.Duration("heartbeat_interval", cfg.HeartbeatInterval),
		clog.Duration("heartbeat_timeout", r.heartbeatTimeout))
	return nil
}

// Destroy 实现 Registry 接口
func (r *meshRegistry) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized.Load() {
		return nil
	}

	r.initialized.Store(false)
	r.provider = nil
	r.services = nil

	if err := r.conn.Close(); err != nil {
		r.logger.Error("close backend context failed", clog.Error(err))
		return xerrors.Wrap(err, "close backend context")
	}

	r.logger.Info("registry destroyed")
	return nil
}

// Register 实现 Registry 接口
func (r *meshRegistry) Register(ctx context.Context, info *RegistrationInfo) error {
	if !r.initialized.Load() {
		return ErrNotInitialized
	}
	if info == nil {
		r.logger.Error("Input parameter is empty")
		return ErrEmptyInput
	}

	req, err := r.buildRegisterRequest(info)
	if err != nil {
		r.record(ctx, "register", "invalid")
		return err
	}

	instanceID, code := r.provider.Register(ctx, req)
	if code != CodeOK && code != CodeExists {
		r.logger.Error("register instance failed",
			clog.String("namespace", req.Namespace),
			clog.String("service", req.Service),
			clog.String("host", req.Host),
			clog.Int("port", req.Port),
			clog.String("code", code.String()))
		r.record(ctx, "register", "failure")
		return xerrors.Wrapf(ErrBackendFailure, "register %s/%s: %s", req.Namespace, req.Service, code)
	}

	if instanceID != "" {
		if info.Meta == nil {
			info.Meta = make(map[string]string)
		}
		info.Meta[MetaKeyInstanceID] = instanceID
	}

	r.logger.Info("instance registered",
		clog.String("namespace", req.Namespace),
		clog.String("service", req.Service),
		clog.String("host", req.Host),
		clog.Int("port", req.Port),
		clog.String("instance_id", instanceID))
	r.record(ctx, "register", "success")
	return nil
}

// Unregister 实现 Registry 接口
func (r *meshRegistry) Unregister(ctx context.Context, info *RegistrationInfo) error {
	if !r.initialized.Load() {
		return ErrNotInitialized
	}
	if info == nil {
		r.logger.Error("Input parameter is empty")
		return ErrEmptyInput
	}

	req, err := r.buildDeregisterRequest(info)
	if err != nil {
		r.record(ctx, "unregister", "invalid")
		return err
	}

	if code := r.provider.Deregister(ctx, req); code != CodeOK {
		r.logger.Error("unregister instance failed",
			clog.String("namespace", req.Namespace),
			clog.String("service", req.Service),
			clog.String("instance_id", req.InstanceID),
			clog.String("code", code.String()))
		r.record(ctx, "unregister", "failure")
		return xerrors.Wrapf(ErrBackendFailure, "unregister %s/%s: %s", req.Namespace, req.Service, code)
	}

	r.logger.Info("instance unregistered",
		clog.String("namespace", req.Namespace),
		clog.String("service", req.Service),
		clog.String("instance_id", req.InstanceID))
	r.record(ctx, "unregister", "success")
	return nil
}

// Heartbeat 实现 Registry 接口
func (r *meshRegistry) Heartbeat(ctx context.Context, info *RegistrationInfo) error {
	if !r.initialized.Load() {
		return ErrNotInitialized
	}
	if info == nil {
		r.logger.Error("Input parameter is empty")
		return ErrEmptyInput
	}

	req, err := r.buildHeartbeatRequest(info)
	if err != nil {
		r.record(ctx, "heartbeat", "invalid")
		return err
	}

	if code := r.provider.Heartbeat(ctx, req); code != CodeOK {
		r.logger.Error("heartbeat failed",
			clog.String("namespace", req.Namespace),
			clog.String("service", req.Service),
			clog.String("instance_id", req.InstanceID),
			clog.String("code", code.String()))
		r.record(ctx, "heartbeat", "failure")
		return xerrors.Wrapf(ErrBackendFailure, "heartbeat %s/%s: %s", req.Namespace, req.Service, code)
	}

	r.record(ctx, "heartbeat", "success")
	return nil
}

// AsyncHeartbeat 实现 Registry 接口
//
// 返回的通道在提交完成时收到结果并关闭；心跳本身的确认结果
// 只在回调中记录日志，不影响通道上的值。
func (r *meshRegistry) AsyncHeartbeat(ctx context.Context, info *RegistrationInfo) <-chan error {
	ch := make(chan error, 1)

	if !r.initialized.Load() {
		ch <- ErrNotInitialized
		close(ch)
		return ch
	}
	if info == nil {
		r.logger.Error("Input parameter is empty")
		ch <- ErrEmptyInput
		close(ch)
		return ch
	}

	req, err := r.buildHeartbeatRequest(info)
	if err != nil {
		r.record(ctx, "async_heartbeat", "invalid")
		ch <- err
		close(ch)
		return ch
	}

	key := ServiceKey{Namespace: req.Namespace, Name: req.Service}
	instanceID := req.InstanceID
	cb := func(code Code) {
		if code == CodeOK {
			r.logger.Debug("async heartbeat acknowledged",
				clog.String("namespace", key.Namespace),
				clog.String("service", key.Name),
				clog.String("instance_id", instanceID))
			return
		}
		r.logger.Error("async heartbeat failed",
			clog.String("namespace", key.Namespace),
			clog.String("service", key.Name),
			clog.String("instance_id", instanceID),
			clog.String("code", code.String()))
	}

	if code := r.provider.AsyncHeartbeat(ctx, req, cb); code != CodeOK {
		r.record(ctx, "async_heartbeat", "failure")
		ch <- xerrors.Wrapf(ErrBackendFailure, "submit heartbeat %s/%s: %s", req.Namespace, req.Service, code)
		close(ch)
		return ch
	}

	r.record(ctx, "async_heartbeat", "success")
	ch <- nil
	close(ch)
	return ch
}

// record 上报操作计数，未注入 meter 时是空操作
func (r *meshRegistry) record(ctx context.Context, op, outcome string) {
	if r.opsTotal == nil {
		return
	}
	r.opsTotal.Inc(ctx, metrics.L("operation", op), metrics.L("outcome", outcome))
}
