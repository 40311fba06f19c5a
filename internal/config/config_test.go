package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults 缺省环境下应填充全部默认值
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("PORT", "")

	cfg := Load()

	assert.Equal(t, EnvTest, cfg.Env)
	assert.Equal(t, 200*time.Millisecond, cfg.Limiter.MinInterval)
	assert.Equal(t, 5, cfg.Limiter.MaxConcurrent)
	assert.Equal(t, 100*time.Millisecond, cfg.Stream.IdleWait)
	assert.Equal(t, 20*time.Second, cfg.Stream.KeepAliveAfter)
	assert.Equal(t, 60*time.Second, cfg.External.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.ShutdownGrace)
}

// TestLoad_ExternalConfig 外部端点配置从环境变量读取并规范化
func TestLoad_ExternalConfig(t *testing.T) {
	t.Setenv("API_USERNAME", "operator")
	t.Setenv("API_KEY", "sekrit")
	t.Setenv("API_BASE_URL", "https://api.example.com/")
	t.Setenv("API_LOGIN_ACTION_PATH", "/login/action/")
	t.Setenv("API_EXECUTE_PATH", "execute")

	cfg := Load()

	assert.True(t, cfg.External.Ready())
	assert.Equal(t, "https://api.example.com", cfg.External.BaseURL)
	assert.Equal(t, "login/action", cfg.External.LoginPath)
	assert.Equal(t, "execute", cfg.External.ExecutePath)
}

// TestLoad_ExternalNotReady 任意一项缺失即视为未配置
func TestLoad_ExternalNotReady(t *testing.T) {
	t.Setenv("API_USERNAME", "operator")
	t.Setenv("API_KEY", "sekrit")
	t.Setenv("API_BASE_URL", "https://api.example.com")
	t.Setenv("API_LOGIN_ACTION_PATH", "login")
	t.Setenv("API_EXECUTE_PATH", "")

	cfg := Load()

	assert.False(t, cfg.External.Ready())
}

// TestParseEnv 环境名解析
func TestParseEnv(t *testing.T) {
	assert.Equal(t, EnvProduction, parseEnv("prod"))
	assert.Equal(t, EnvProduction, parseEnv("Production"))
	assert.Equal(t, EnvTest, parseEnv("test"))
	assert.Equal(t, EnvDevelopment, parseEnv("dev"))
	assert.Equal(t, EnvDevelopment, parseEnv("anything"))
}

// TestConfig_String 配置摘要不包含凭据
func TestConfig_String(t *testing.T) {
	t.Setenv("API_KEY", "super-secret-key")
	cfg := Load()
	assert.NotContains(t, cfg.String(), "super-secret-key")
}
