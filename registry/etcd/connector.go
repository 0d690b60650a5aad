// Package etcd 提供基于 etcd 的注册后端实现。
//
// 实例以带租约的键值写入 etcd，键格式为
// <prefix>/<namespace>/<service>/<host>:<port>，心跳通过租约续期实现。
// 包入口是 NewProviderConnector，产出的连接器交给 registry.New 使用。
package etcd

import (
	"context"
	"sync"

	"github.com/ceyewan/meshreg/clog"
	"github.com/ceyewan/meshreg/connector"
	"github.com/ceyewan/meshreg/metrics"
	"github.com/ceyewan/meshreg/registry"
	"github.com/ceyewan/meshreg/xerrors"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 注入日志记录器
// 组件内部会自动追加 "registry.etcd" namespace
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("registry", "etcd")
		}
	}
}

// WithMeter 注入指标收集器
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// providerConnector registry.ProviderConnector 的 etcd 实现
//
// 每次 Connect 都会重建底层连接器，保证 Close 之后可以再次 Connect。
type providerConnector struct {
	cfg    *Config
	logger clog.Logger
	meter  metrics.Meter

	mu       sync.Mutex
	conn     connector.EtcdConnector
	provider *etcdProvider
}

// NewProviderConnector 创建 etcd 注册后端连接器
//
// 只做配置校验，不触发任何网络调用；连接在 Connect 时建立。
func NewProviderConnector(cfg *Config, opts ...Option) (registry.ProviderConnector, error) {
	if cfg == nil {
		return nil, xerrors.New("etcd registry config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Wrap(err, "invalid etcd registry config")
	}

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	return &providerConnector{
		cfg:    cfg,
		logger: o.logger,
		meter:  o.meter,
	}, nil
}

// Connect 实现 registry.ProviderConnector 接口
func (pc *providerConnector) Connect(ctx context.Context) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.conn != nil {
		return nil
	}

	connOpts := []connector.Option{connector.WithLogger(pc.logger)}
	if pc.meter != nil {
		connOpts = append(connOpts, connector.WithMeter(pc.meter))
	}

	conn, err := connector.NewEtcd(pc.cfg.Etcd, connOpts...)
	if err != nil {
		return xerrors.Wrap(err, "create etcd connector")
	}
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		return xerrors.Wrap(err, "connect etcd")
	}

	pc.conn = conn
	pc.provider = newProvider(conn, pc.cfg.Prefix, pc.logger)
	return nil
}

// Close 实现 registry.ProviderConnector 接口
func (pc *providerConnector) Close() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.conn == nil {
		return nil
	}

	err := pc.conn.Close()
	pc.conn = nil
	pc.provider = nil
	return err
}

// Provider 实现 registry.ProviderConnector 接口
func (pc *providerConnector) Provider() (registry.Provider, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.provider == nil {
		return nil, connector.ErrNotConnected
	}
	return pc.provider, nil
}
