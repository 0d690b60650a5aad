package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider 记录收到的请求并返回预设的返回码
type fakeProvider struct {
	mu sync.Mutex

	registerReqs   []*RegisterRequest
	deregisterReqs []*DeregisterRequest
	heartbeatReqs  []*HeartbeatRequest
	asyncReqs      []*HeartbeatRequest

	registerID     string
	registerCode   Code
	deregisterCode Code
	heartbeatCode  Code
	asyncCode      Code

	// asyncAck 非 nil 时在提交后用该返回码触发回调
	asyncAck *Code
}

func (p *fakeProvider) Register(_ context.Context, req *RegisterRequest) (string, Code) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registerReqs = append(p.registerReqs, req)
	return p.registerID, p.registerCode
}

func (p *fakeProvider) Deregister(_ context.Context, req *DeregisterRequest) Code {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deregisterReqs = append(p.deregisterReqs, req)
	return p.deregisterCode
}

func (p *fakeProvider) Heartbeat(_ context.Context, req *HeartbeatRequest) Code {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heartbeatReqs = append(p.heartbeatReqs, req)
	return p.heartbeatCode
}

func (p *fakeProvider) AsyncHeartbeat(_ context.Context, req *HeartbeatRequest, cb HeartbeatCallback) Code {
	p.mu.Lock()
	p.asyncReqs = append(p.asyncReqs, req)
	ack := p.asyncAck
	code := p.asyncCode
	p.mu.Unlock()
	if code == CodeOK && ack != nil {
		go cb(*ack)
	}
	return code
}

func (p *fakeProvider) calls() (register, deregister, heartbeat, async int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.registerReqs), len(p.deregisterReqs), len(p.heartbeatReqs), len(p.asyncReqs)
}

// fakeConnector 统计 Connect/Close 次数
type fakeConnector struct {
	provider   Provider
	connectErr error

	mu        sync.Mutex
	connects  int
	closes    int
	connected bool
}

func (c *fakeConnector) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connects++
	c.connected = true
	return nil
}

func (c *fakeConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.connected = false
	return nil
}

func (c *fakeConnector) Provider() (Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, ErrNotInitialized
	}
	return c.provider, nil
}

func testConfig() *Config {
	return &Config{
		Namespace:        "prod",
		EnableHeartbeat:  true,
		HeartbeatTimeout: 2 * time.Second,
		Services: []ServiceConfig{
			{
				Namespace: "prod",
				Name:      "order-service",
				Token:     "tok-order",
				Metadata:  map[string]string{"region": "sh"},
			},
			{
				Namespace:  "prod",
				Name:       "user-service",
				Token:      "tok-user",
				InstanceID: "ins-preset",
			},
		},
	}
}

func newTestRegistry(t *testing.T, cfg *Config) (Registry, *fakeProvider, *fakeConnector) {
	t.Helper()
	provider := &fakeProvider{}
	conn := &fakeConnector{provider: provider}
	reg, err := New(conn, cfg)
	require.NoError(t, err)
	return reg, provider, conn
}

func orderInfo() *RegistrationInfo {
	return &RegistrationInfo{
		Name:     "order-service",
		Host:     "10.0.0.3",
		Port:     8080,
		Protocol: "grpc",
		Weight:   100,
		Priority: 1,
		Version:  "v1.2.0",
	}
}

func TestNewRequiresConnector(t *testing.T) {
	_, err := New(nil, testConfig())
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestOperationsBeforeInit(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	ctx := context.Background()
	info := orderInfo()

	assert.ErrorIs(t, reg.Register(ctx, info), ErrNotInitialized)
	assert.ErrorIs(t, reg.Unregister(ctx, info), ErrNotInitialized)
	assert.ErrorIs(t, reg.Heartbeat(ctx, info), ErrNotInitialized)
	assert.ErrorIs(t, <-reg.AsyncHeartbeat(ctx, info), ErrNotInitialized)

	r, d, h, a := provider.calls()
	assert.Zero(t, r+d+h+a)
}

func TestNilInfoRejected(t *testing.T) {
	reg, _, _ := newTestRegistry(t, testConfig())
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	err := reg.Register(ctx, nil)
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.EqualError(t, err, "Input parameter is empty")

	assert.ErrorIs(t, reg.Unregister(ctx, nil), ErrEmptyInput)
	assert.ErrorIs(t, reg.Heartbeat(ctx, nil), ErrEmptyInput)
	assert.ErrorIs(t, <-reg.AsyncHeartbeat(ctx, nil), ErrEmptyInput)
}

func TestRegisterBuildsCanonicalRequest(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	provider.registerID = "ins-42"
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	info := orderInfo()
	info.Meta = map[string]string{"zone": "a"}
	require.NoError(t, reg.Register(ctx, info))

	require.Len(t, provider.registerReqs, 1)
	req := provider.registerReqs[0]
	assert.Equal(t, "prod", req.Namespace)
	assert.Equal(t, "order-service", req.Service)
	assert.Equal(t, "tok-order", req.Token)
	assert.Equal(t, "10.0.0.3", req.Host)
	assert.Equal(t, 8080, req.Port)
	assert.Equal(t, "grpc", req.Protocol)
	assert.Equal(t, 100, req.Weight)
	assert.Equal(t, 1, req.Priority)
	assert.Equal(t, "v1.2.0", req.Version)
	assert.True(t, req.EnableHealthCheck)
	assert.Equal(t, 1, req.HealthCheckType)
	assert.Equal(t, 5, req.TTL)
	// 实际超时 = 配置超时 + 1s
	assert.Equal(t, 3*time.Second, req.Timeout)
	// 调用方元数据与配置元数据取并集
	assert.Equal(t, map[string]string{"zone": "a", "region": "sh"}, req.Metadata)

	// 后端分配的实例 ID 写回调用方元数据
	assert.Equal(t, "ins-42", info.Meta[MetaKeyInstanceID])
}

func TestRegisterIdempotentOnExists(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	provider.registerID = "ins-42"
	provider.registerCode = CodeExists
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	info := orderInfo()
	require.NoError(t, reg.Register(ctx, info))
	assert.Equal(t, "ins-42", info.Meta[MetaKeyInstanceID])
}

func TestRegisterBackendFailure(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	provider.registerCode = CodeTimeout
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	info := orderInfo()
	err := reg.Register(ctx, info)
	require.ErrorIs(t, err, ErrBackendFailure)
	assert.NotContains(t, info.Meta, MetaKeyInstanceID)
}

func TestRegisterUnknownService(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	info := orderInfo()
	info.Name = "unknown-service"
	assert.ErrorIs(t, reg.Register(ctx, info), ErrServiceNotConfigured)

	r, _, _, _ := provider.calls()
	assert.Zero(t, r)
}

func TestNamespaceResolution(t *testing.T) {
	t.Run("global namespace wins over meta override", func(t *testing.T) {
		cfg := testConfig()
		reg, provider, _ := newTestRegistry(t, cfg)
		ctx := context.Background()
		require.NoError(t, reg.Init(ctx))

		info := orderInfo()
		info.Meta = map[string]string{MetaKeyNamespace: "dev"}
		require.NoError(t, reg.Register(ctx, info))
		assert.Equal(t, "prod", provider.registerReqs[0].Namespace)
	})

	t.Run("meta override applies when global empty", func(t *testing.T) {
		cfg := testConfig()
		cfg.Namespace = ""
		reg, provider, _ := newTestRegistry(t, cfg)
		ctx := context.Background()
		require.NoError(t, reg.Init(ctx))

		info := orderInfo()
		info.Meta = map[string]string{MetaKeyNamespace: "prod"}
		require.NoError(t, reg.Register(ctx, info))
		assert.Equal(t, "prod", provider.registerReqs[0].Namespace)
	})
}

func TestHealthCheckOverride(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	info := orderInfo()
	info.Meta = map[string]string{MetaKeyEnableHealthCheck: "false"}
	require.NoError(t, reg.Register(ctx, info))
	assert.False(t, provider.registerReqs[0].EnableHealthCheck)
	// 覆盖项不随请求元数据上报
	assert.NotContains(t, provider.registerReqs[0].Metadata, MetaKeyEnableHealthCheck)
}

func TestUnregisterByInstanceID(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	info := orderInfo()
	info.Meta = map[string]string{MetaKeyInstanceID: "ins-42"}
	require.NoError(t, reg.Unregister(ctx, info))

	require.Len(t, provider.deregisterReqs, 1)
	req := provider.deregisterReqs[0]
	assert.Equal(t, "ins-42", req.InstanceID)
	assert.Equal(t, "tok-order", req.Token)
}

func TestUnregisterByAddress(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	require.NoError(t, reg.Unregister(ctx, orderInfo()))

	require.Len(t, provider.deregisterReqs, 1)
	req := provider.deregisterReqs[0]
	assert.Empty(t, req.InstanceID)
	assert.Equal(t, "prod", req.Namespace)
	assert.Equal(t, "order-service", req.Service)
	assert.Equal(t, "10.0.0.3", req.Host)
	assert.Equal(t, 8080, req.Port)
}

func TestHeartbeatUsesPresetInstanceID(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	info := orderInfo()
	info.Name = "user-service"
	require.NoError(t, reg.Heartbeat(ctx, info))

	require.Len(t, provider.heartbeatReqs, 1)
	req := provider.heartbeatReqs[0]
	assert.Equal(t, "ins-preset", req.InstanceID)
	assert.Equal(t, "tok-user", req.Token)
	assert.Equal(t, 3*time.Second, req.Timeout)
}

func TestHeartbeatUnknownServiceSkipsBackend(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	info := orderInfo()
	info.Name = "unknown-service"
	assert.ErrorIs(t, reg.Heartbeat(ctx, info), ErrServiceNotConfigured)

	_, _, h, _ := provider.calls()
	assert.Zero(t, h)
}

func TestHeartbeatBackendFailure(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	provider.heartbeatCode = CodeNotFound
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	assert.ErrorIs(t, reg.Heartbeat(ctx, orderInfo()), ErrBackendFailure)
}

func TestAsyncHeartbeatResolvesAtSubmission(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	// 后端确认会延迟到来，但通道应在提交后立刻可读
	ack := CodeOK
	provider.asyncAck = &ack
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	ch := reg.AsyncHeartbeat(ctx, orderInfo())
	select {
	case err := <-ch:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("async heartbeat did not resolve at submission")
	}

	// 通道已关闭，再次读取得到零值
	_, ok := <-ch
	assert.False(t, ok)
}

func TestAsyncHeartbeatSubmissionFailure(t *testing.T) {
	reg, provider, _ := newTestRegistry(t, testConfig())
	provider.asyncCode = CodeError
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	assert.ErrorIs(t, <-reg.AsyncHeartbeat(ctx, orderInfo()), ErrBackendFailure)
}

func TestInitIdempotent(t *testing.T) {
	reg, _, conn := newTestRegistry(t, testConfig())
	ctx := context.Background()

	require.NoError(t, reg.Init(ctx))
	require.NoError(t, reg.Init(ctx))
	assert.Equal(t, 1, conn.connects)
}

func TestInitConnectFailure(t *testing.T) {
	provider := &fakeProvider{}
	conn := &fakeConnector{provider: provider, connectErr: assert.AnError}
	reg, err := New(conn, testConfig())
	require.NoError(t, err)

	err = reg.Init(context.Background())
	require.ErrorIs(t, err, ErrInitFailed)

	// 初始化失败后仍处于未初始化状态
	assert.ErrorIs(t, reg.Register(context.Background(), orderInfo()), ErrNotInitialized)
}

func TestDestroyIdempotentAndGates(t *testing.T) {
	reg, _, conn := newTestRegistry(t, testConfig())
	ctx := context.Background()

	require.NoError(t, reg.Destroy()) // 未初始化时是空操作
	assert.Zero(t, conn.closes)

	require.NoError(t, reg.Init(ctx))
	require.NoError(t, reg.Destroy())
	require.NoError(t, reg.Destroy())
	assert.Equal(t, 1, conn.closes)

	assert.ErrorIs(t, reg.Heartbeat(ctx, orderInfo()), ErrNotInitialized)
}

func TestDestroyInitCycle(t *testing.T) {
	reg, provider, conn := newTestRegistry(t, testConfig())
	ctx := context.Background()

	require.NoError(t, reg.Init(ctx))
	require.NoError(t, reg.Destroy())
	require.NoError(t, reg.Init(ctx))
	assert.Equal(t, 2, conn.connects)

	require.NoError(t, reg.Register(ctx, orderInfo()))
	r, _, _, _ := provider.calls()
	assert.Equal(t, 1, r)
}

func TestNilConfigFallsBackToDefaults(t *testing.T) {
	provider := &fakeProvider{}
	conn := &fakeConnector{provider: provider}
	reg, err := New(conn, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Init(context.Background()))

	// 默认配置没有任何服务条目
	assert.ErrorIs(t, reg.Register(context.Background(), orderInfo()), ErrServiceNotConfigured)
}
