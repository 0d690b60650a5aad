package etcd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/meshreg/registry"
	"github.com/ceyewan/meshreg/testkit"
)

func newTestConnector(t *testing.T) registry.ProviderConnector {
	t.Helper()

	cfg := &Config{
		Etcd:   testkit.GetEtcdConfig(),
		Prefix: "/meshreg-test/" + testkit.NewID(),
	}
	conn, err := NewProviderConnector(cfg, WithLogger(testkit.NewLogger()))
	require.NoError(t, err)

	if err := conn.Connect(context.Background()); err != nil {
		t.Skipf("etcd not available: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func testRegistryConfig() *registry.Config {
	return &registry.Config{
		Namespace:        "test",
		EnableHeartbeat:  true,
		HeartbeatTimeout: 2 * time.Second,
		TTL:              5,
		Services: []registry.ServiceConfig{
			{Namespace: "test", Name: "demo-service", Token: "tok-demo"},
		},
	}
}

func TestProviderLifecycle(t *testing.T) {
	conn := newTestConnector(t)
	ctx := context.Background()

	reg, err := registry.New(conn, testRegistryConfig(), registry.WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	require.NoError(t, reg.Init(ctx))
	defer reg.Destroy()

	info := &registry.RegistrationInfo{
		Name:     "demo-service",
		Host:     "127.0.0.1",
		Port:     18080,
		Protocol: "grpc",
		Weight:   100,
	}

	require.NoError(t, reg.Register(ctx, info))
	instanceID := info.Meta[registry.MetaKeyInstanceID]
	assert.NotEmpty(t, instanceID)

	// 重复注册返回同一实例 ID
	again := &registry.RegistrationInfo{Name: "demo-service", Host: "127.0.0.1", Port: 18080}
	require.NoError(t, reg.Register(ctx, again))
	assert.Equal(t, instanceID, again.Meta[registry.MetaKeyInstanceID])

	require.NoError(t, reg.Heartbeat(ctx, info))

	select {
	case err := <-reg.AsyncHeartbeat(ctx, info):
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("async heartbeat did not resolve")
	}

	require.NoError(t, reg.Unregister(ctx, info))

	// 注销后心跳找不到实例
	assert.Error(t, reg.Heartbeat(ctx, info))
}

func TestHeartbeatKeepsLeaseAlive(t *testing.T) {
	conn := newTestConnector(t)
	ctx := context.Background()

	cfg := testRegistryConfig()
	cfg.TTL = 2
	reg, err := registry.New(conn, cfg, registry.WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	require.NoError(t, reg.Init(ctx))
	defer reg.Destroy()

	info := &registry.RegistrationInfo{Name: "demo-service", Host: "127.0.0.1", Port: 18081}
	require.NoError(t, reg.Register(ctx, info))

	// 超过一个 TTL 周期持续心跳，实例应保持存活
	for i := 0; i < 3; i++ {
		time.Sleep(time.Second)
		require.NoError(t, reg.Heartbeat(ctx, info))
	}

	require.NoError(t, reg.Unregister(ctx, info))
}

func TestUnregisterWithoutRegister(t *testing.T) {
	conn := newTestConnector(t)
	ctx := context.Background()

	reg, err := registry.New(conn, testRegistryConfig(), registry.WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	require.NoError(t, reg.Init(ctx))
	defer reg.Destroy()

	info := &registry.RegistrationInfo{Name: "demo-service", Host: "127.0.0.1", Port: 18099}
	assert.ErrorIs(t, reg.Unregister(ctx, info), registry.ErrBackendFailure)
}
