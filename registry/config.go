package registry

import (
	"time"

	"github.com/ceyewan/meshreg/config"
	"github.com/ceyewan/meshreg/xerrors"
)

// ServiceConfig 单个服务的注册配置
type ServiceConfig struct {
	// Namespace 服务所属命名空间
	Namespace string `mapstructure:"namespace" yaml:"namespace"`

	// Name 服务名称
	Name string `mapstructure:"name" yaml:"name"`

	// Token 服务令牌，注册/注销/心跳时携带
	Token string `mapstructure:"token" yaml:"token"`

	// InstanceID 预分配的实例 ID，可为空；
	// 非空时心跳和注销按实例 ID 寻址
	InstanceID string `mapstructure:"instance_id" yaml:"instance_id"`

	// Metadata 注册时附加的元数据
	Metadata map[string]string `mapstructure:"metadata" yaml:"metadata"`
}

// Key 返回该配置对应的 ServiceKey
func (sc *ServiceConfig) Key() ServiceKey {
	return ServiceKey{Namespace: sc.Namespace, Name: sc.Name}
}

// Config Registry 组件配置
type Config struct {
	// Namespace 全局环境命名空间
	// 非空时优先于调用方元数据中的 "namespace" 覆盖项
	Namespace string `mapstructure:"namespace" yaml:"namespace"`

	// EnableHeartbeat 全局健康检查开关，默认 true；
	// 调用方未通过元数据显式指定时以此为准
	EnableHeartbeat bool `mapstructure:"enable_heartbeat" yaml:"enable_heartbeat"`

	// HeartbeatInterval 心跳发送间隔，默认 3s
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`

	// HeartbeatTimeout 配置的心跳超时，默认 2s。
	// 实际生效的超时会在此基础上加 1s，见 Init
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`

	// HealthCheckType 健康检查类型，默认 1（心跳检查）
	HealthCheckType int `mapstructure:"health_check_type" yaml:"health_check_type"`

	// TTL 实例心跳 TTL（秒），默认 5
	TTL int `mapstructure:"ttl" yaml:"ttl"`

	// Services 各服务的注册配置
	Services []ServiceConfig `mapstructure:"services" yaml:"services"`
}

// DefaultConfig 返回默认配置
//
// 配置文件缺失时 Init 会退回到该配置。
func DefaultConfig() *Config {
	cfg := &Config{EnableHeartbeat: true}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults 设置默认值
func (c *Config) SetDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 2 * time.Second
	}
	if c.HealthCheckType == 0 {
		c.HealthCheckType = 1
	}
	if c.TTL == 0 {
		c.TTL = 5
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	c.SetDefaults()
	if c.HeartbeatTimeout < 0 {
		return xerrors.New("heartbeat_timeout cannot be negative")
	}
	for _, sc := range c.Services {
		if sc.Name == "" {
			return xerrors.New("service config requires a name")
		}
	}
	return nil
}

// LoadConfig 从配置加载器读取 "registry" 段
//
// 配置段不存在时返回 nil Config 和 nil error，由 Init 负责退回默认值。
func LoadConfig(loader config.Loader) (*Config, error) {
	if loader == nil {
		return nil, ErrEmptyInput
	}
	if loader.Get("registry") == nil {
		return nil, nil
	}

	cfg := &Config{EnableHeartbeat: true}
	if err := loader.UnmarshalKey("registry", cfg); err != nil {
		return nil, xerrors.Wrap(err, "unmarshal registry config")
	}
	return cfg, nil
}
