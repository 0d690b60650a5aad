package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewDefaults(t *testing.T) {
	loader, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, loader)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "config.yaml", `
registry:
  namespace: prod
  heartbeat_interval: 3s
  services:
    - namespace: prod
      name: orderSvc
      token: T1
`)

	loader, err := New(&Config{
		Name:      "config",
		Paths:     []string{dir},
		EnvPrefix: "MESHREG_TEST",
	})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, "prod", loader.Get("registry.namespace"))

	var section struct {
		Namespace string `mapstructure:"namespace"`
		Services  []struct {
			Name  string `mapstructure:"name"`
			Token string `mapstructure:"token"`
		} `mapstructure:"services"`
	}
	require.NoError(t, loader.UnmarshalKey("registry", &section))
	assert.Equal(t, "prod", section.Namespace)
	require.Len(t, section.Services, 1)
	assert.Equal(t, "T1", section.Services[0].Token)
}

func TestLoadMissingFile(t *testing.T) {
	loader, err := New(&Config{
		Name:      "does-not-exist",
		Paths:     []string{t.TempDir()},
		EnvPrefix: "MESHREG_TEST",
	})
	require.NoError(t, err)

	// 文件缺失不是错误，调用方可以完全依赖环境变量
	assert.NoError(t, loader.Load(context.Background()))
	assert.Error(t, loader.Validate())
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "config.yaml", "registry:\n  namespace: dev\n")

	t.Setenv("MESHREG_TEST_REGISTRY_NAMESPACE", "prod")

	loader, err := New(&Config{
		Name:      "config",
		Paths:     []string{dir},
		EnvPrefix: "meshreg_test", // 会被标准化为大写
	})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, "prod", loader.Get("registry.namespace"))
}

func TestEnvironmentSpecificConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "config.yaml", "registry:\n  namespace: base\n  heartbeat_interval: 3s\n")
	writeConfigFile(t, dir, "config.staging.yaml", "registry:\n  namespace: staging\n")

	t.Setenv("MESHREG_TEST_ENV", "staging")

	loader, err := New(&Config{
		Name:      "config",
		Paths:     []string{dir},
		EnvPrefix: "MESHREG_TEST",
	})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	// 环境特定配置覆盖基础配置，未覆盖的 key 保留
	assert.Equal(t, "staging", loader.Get("registry.namespace"))
	assert.Equal(t, "3s", loader.Get("registry.heartbeat_interval"))
}
