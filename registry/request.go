package registry

import (
	"github.com/ceyewan/meshreg/clog"
	"github.com/ceyewan/meshreg/xerrors"
)

// resolveNamespace 确定本次操作使用的命名空间
//
// 全局配置的命名空间优先，为空时才采用调用方元数据中的覆盖项。
func (r *meshRegistry) resolveNamespace(o metaOverrides) string {
	if r.cfg.Namespace != "" {
		return r.cfg.Namespace
	}
	return o.namespace
}

// lookupService 按 (namespace, name) 查找服务注册配置
func (r *meshRegistry) lookupService(key ServiceKey) *ServiceConfig {
	return r.services[key]
}

// buildRegisterRequest 把调用方入参和注册配置拼装成规范化注册请求
//
// 服务必须在注册配置中有对应条目，否则拒绝发起后端调用。
func (r *meshRegistry) buildRegisterRequest(info *RegistrationInfo) (*RegisterRequest, error) {
	o := parseOverrides(info.Meta)
	ns := r.resolveNamespace(o)
	key := ServiceKey{Namespace: ns, Name: info.Name}

	sc := r.lookupService(key)
	if sc == nil {
		r.logger.Error("token is empty, can not register",
			clog.String("namespace", ns),
			clog.String("service", info.Name))
		return nil, xerrors.Wrapf(ErrServiceNotConfigured, "register %s/%s", ns, info.Name)
	}

	instanceID := o.instanceID
	if instanceID == "" {
		instanceID = sc.InstanceID
	}

	enableHealthCheck := r.cfg.EnableHeartbeat
	if o.enableHealthCheck != nil {
		enableHealthCheck = *o.enableHealthCheck
	}

	// 调用方元数据与配置元数据取并集，冲突时以配置为准；
	// 覆盖项 key 只作为控制字段，不随请求上报
	md := make(map[string]string, len(info.Meta)+len(sc.Metadata))
	for k, v := range info.Meta {
		switch k {
		case MetaKeyInstanceID, MetaKeyNamespace, MetaKeyEnableHealthCheck:
			continue
		}
		md[k] = v
	}
	for k, v := range sc.Metadata {
		md[k] = v
	}

	return &RegisterRequest{
		Namespace:         ns,
		Service:           info.Name,
		Token:             sc.Token,
		Host:              info.Host,
		Port:              info.Port,
		Protocol:          info.Protocol,
		Weight:            info.Weight,
		Priority:          info.Priority,
		Version:           info.Version,
		Metadata:          md,
		EnableHealthCheck: enableHealthCheck,
		HealthCheckType:   r.cfg.HealthCheckType,
		TTL:               r.cfg.TTL,
		InstanceID:        instanceID,
		Timeout:           r.heartbeatTimeout,
	}, nil
}

// buildDeregisterRequest 拼装规范化注销请求
func (r *meshRegistry) buildDeregisterRequest(info *RegistrationInfo) (*DeregisterRequest, error) {
	o := parseOverrides(info.Meta)
	ns := r.resolveNamespace(o)
	key := ServiceKey{Namespace: ns, Name: info.Name}

	sc := r.lookupService(key)
	if sc == nil {
		r.logger.Error("token is empty, can not unregister",
			clog.String("namespace", ns),
			clog.String("service", info.Name))
		return nil, xerrors.Wrapf(ErrServiceNotConfigured, "unregister %s/%s", ns, info.Name)
	}

	instanceID := o.instanceID
	if instanceID == "" {
		instanceID = sc.InstanceID
	}

	return &DeregisterRequest{
		Namespace:  ns,
		Service:    info.Name,
		Token:      sc.Token,
		Host:       info.Host,
		Port:       info.Port,
		InstanceID: instanceID,
		Timeout:    r.heartbeatTimeout,
	}, nil
}

// buildHeartbeatRequest 拼装规范化心跳请求
func (r *meshRegistry) buildHeartbeatRequest(info *RegistrationInfo) (*HeartbeatRequest, error) {
	o := parseOverrides(info.Meta)
	ns := r.resolveNamespace(o)
	key := ServiceKey{Namespace: ns, Name: info.Name}

	sc := r.lookupService(key)
	if sc == nil {
		r.logger.Error("service not configured, can not heartbeat",
			clog.String("namespace", ns),
			clog.String("service", info.Name))
		return nil, xerrors.Wrapf(ErrServiceNotConfigured, "heartbeat %s/%s", ns, info.Name)
	}

	instanceID := o.instanceID
	if instanceID == "" {
		instanceID = sc.InstanceID
	}

	return &HeartbeatRequest{
		Namespace:  ns,
		Service:    info.Name,
		Token:      sc.Token,
		Host:       info.Host,
		Port:       info.Port,
		InstanceID: instanceID,
		Timeout:    r.heartbeatTimeout,
	}, nil
}
