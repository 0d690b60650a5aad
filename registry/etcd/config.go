package etcd

import (
	"github.com/ceyewan/meshreg/connector"
	"github.com/ceyewan/meshreg/xerrors"
)

// Config etcd 注册后端配置
type Config struct {
	// Etcd 底层 etcd 连接配置
	Etcd *connector.EtcdConfig `mapstructure:"etcd" yaml:"etcd"`

	// Prefix 实例键前缀，默认 "/meshreg/instances"
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// SetDefaults 设置默认值
func (c *Config) SetDefaults() {
	if c.Prefix == "" {
		c.Prefix = "/meshreg/instances"
	}
	if c.Etcd != nil {
		c.Etcd.SetDefaults()
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	c.SetDefaults()
	if c.Etcd == nil {
		return xerrors.New("etcd config is required")
	}
	return c.Etcd.Validate()
}
