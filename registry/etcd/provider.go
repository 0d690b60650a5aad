package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/meshreg/clog"
	"github.com/ceyewan/meshreg/connector"
	"github.com/ceyewan/meshreg/registry"
)

// instanceRecord 写入 etcd 的实例描述
type instanceRecord struct {
	InstanceID string            `json:"instance_id"`
	Namespace  string            `json:"namespace"`
	Service    string            `json:"service"`
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	Protocol   string            `json:"protocol,omitempty"`
	Weight     int               `json:"weight,omitempty"`
	Priority   int               `json:"priority,omitempty"`
	Version    string            `json:"version,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// leaseEntry 已注册实例的租约信息
type leaseEntry struct {
	key        string
	instanceID string
	leaseID    clientv3.LeaseID
}

// etcdProvider registry.Provider 的 etcd 实现
//
// 开启健康检查的实例绑定租约，心跳即租约续期；租约过期后
// 实例键被 etcd 自动清除。未开启健康检查的实例不带租约。
type etcdProvider struct {
	conn   connector.EtcdConnector
	prefix string
	logger clog.Logger

	mu     sync.Mutex
	byKey  map[string]*leaseEntry // 实例键 -> 租约
	byID   map[string]*leaseEntry // 实例 ID -> 租约
}

func newProvider(conn connector.EtcdConnector, prefix string, logger clog.Logger) *etcdProvider {
	return &etcdProvider{
		conn:   conn,
		prefix: prefix,
		logger: logger,
		byKey:  make(map[string]*leaseEntry),
		byID:   make(map[string]*leaseEntry),
	}
}

// instanceKey 实例键：<prefix>/<namespace>/<service>/<host>:<port>
func (p *etcdProvider) instanceKey(namespace, service, host string, port int) string {
	return fmt.Sprintf("%s/%s/%s/%s:%d", p.prefix, namespace, service, host, port)
}

// codeFromError 把 etcd 客户端错误映射为返回码
func codeFromError(err error) registry.Code {
	switch {
	case err == nil:
		return registry.CodeOK
	case errors.Is(err, rpctypes.ErrLeaseNotFound):
		return registry.CodeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return registry.CodeTimeout
	default:
		return registry.CodeError
	}
}

// Register 实现 registry.Provider 接口
func (p *etcdProvider) Register(ctx context.Context, req *registry.RegisterRequest) (string, registry.Code) {
	client := p.conn.GetClient()
	if client == nil {
		return "", registry.CodeError
	}

	opCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	key := p.instanceKey(req.Namespace, req.Service, req.Host, req.Port)

	// 同一地址重复注册视为已存在，返回先前分配的实例 ID
	resp, err := client.Get(opCtx, key)
	if err != nil {
		p.logger.Error("lookup instance key failed", clog.String("key", key), clog.Error(err))
		return "", codeFromError(err)
	}
	if resp.Count > 0 {
		var existing instanceRecord
		if err := json.Unmarshal(resp.Kvs[0].Value, &existing); err == nil && existing.InstanceID != "" {
			return existing.InstanceID, registry.CodeExists
		}
		return "", registry.CodeExists
	}

	instanceID := req.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	record := instanceRecord{
		InstanceID: instanceID,
		Namespace:  req.Namespace,
		Service:    req.Service,
		Host:       req.Host,
		Port:       req.Port,
		Protocol:   req.Protocol,
		Weight:     req.Weight,
		Priority:   req.Priority,
		Version:    req.Version,
		Metadata:   req.Metadata,
	}
	value, err := json.Marshal(record)
	if err != nil {
		return "", registry.CodeError
	}

	var putOpts []clientv3.OpOption
	var entry *leaseEntry
	if req.EnableHealthCheck {
		lease, err := client.Grant(opCtx, int64(req.TTL))
		if err != nil {
			p.logger.Error("grant lease failed", clog.String("key", key), clog.Error(err))
			return "", codeFromError(err)
		}
		putOpts = append(putOpts, clientv3.WithLease(lease.ID))
		entry = &leaseEntry{key: key, instanceID: instanceID, leaseID: lease.ID}
	}

	if _, err := client.Put(opCtx, key, string(value), putOpts...); err != nil {
		p.logger.Error("put instance key failed", clog.String("key", key), clog.Error(err))
		return "", codeFromError(err)
	}

	if entry != nil {
		p.mu.Lock()
		p.byKey[key] = entry
		p.byID[instanceID] = entry
		p.mu.Unlock()
	}

	return instanceID, registry.CodeOK
}

// Deregister 实现 registry.Provider 接口
func (p *etcdProvider) Deregister(ctx context.Context, req *registry.DeregisterRequest) registry.Code {
	client := p.conn.GetClient()
	if client == nil {
		return registry.CodeError
	}

	opCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	key, entry := p.lookup(req.InstanceID, req.Namespace, req.Service, req.Host, req.Port)

	resp, err := client.Delete(opCtx, key)
	if err != nil {
		p.logger.Error("delete instance key failed", clog.String("key", key), clog.Error(err))
		return codeFromError(err)
	}

	if entry != nil {
		// 租约不存在说明已过期，不算失败
		if _, err := client.Revoke(opCtx, entry.leaseID); err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
			p.logger.Warn("revoke lease failed", clog.String("key", key), clog.Error(err))
		}
		p.mu.Lock()
		delete(p.byKey, entry.key)
		delete(p.byID, entry.instanceID)
		p.mu.Unlock()
	}

	if resp.Deleted == 0 {
		return registry.CodeNotFound
	}
	return registry.CodeOK
}

// Heartbeat 实现 registry.Provider 接口
func (p *etcdProvider) Heartbeat(ctx context.Context, req *registry.HeartbeatRequest) registry.Code {
	client := p.conn.GetClient()
	if client == nil {
		return registry.CodeError
	}

	_, entry := p.lookup(req.InstanceID, req.Namespace, req.Service, req.Host, req.Port)
	if entry == nil {
		return registry.CodeNotFound
	}

	opCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	if _, err := client.KeepAliveOnce(opCtx, entry.leaseID); err != nil {
		p.logger.Warn("keepalive failed",
			clog.String("key", entry.key),
			clog.String("instance_id", entry.instanceID),
			clog.Error(err))
		return codeFromError(err)
	}
	return registry.CodeOK
}

// AsyncHeartbeat 实现 registry.Provider 接口
//
// 返回码表示提交结果；续期在后台执行，结果通过 cb 送达。
func (p *etcdProvider) AsyncHeartbeat(ctx context.Context, req *registry.HeartbeatRequest, cb registry.HeartbeatCallback) registry.Code {
	if p.conn.GetClient() == nil {
		return registry.CodeError
	}

	_, entry := p.lookup(req.InstanceID, req.Namespace, req.Service, req.Host, req.Port)
	if entry == nil {
		return registry.CodeNotFound
	}

	// 续期结果不影响提交返回码，带独立超时脱离调用方 ctx
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	go func() {
		opCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		client := p.conn.GetClient()
		if client == nil {
			if cb != nil {
				cb(registry.CodeError)
			}
			return
		}

		_, err := client.KeepAliveOnce(opCtx, entry.leaseID)
		if cb != nil {
			cb(codeFromError(err))
		}
	}()

	return registry.CodeOK
}

// lookup 按实例 ID 或地址定位实例键及其租约
func (p *etcdProvider) lookup(instanceID, namespace, service, host string, port int) (string, *leaseEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if instanceID != "" {
		if entry, ok := p.byID[instanceID]; ok {
			return entry.key, entry
		}
	}

	key := p.instanceKey(namespace, service, host, port)
	if entry, ok := p.byKey[key]; ok {
		return entry.key, entry
	}
	return key, nil
}
