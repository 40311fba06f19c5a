// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（外部端点凭据、JWT 密钥）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Limiter  LimiterConfig  `yaml:"limiter"`
	Stream   StreamConfig   `yaml:"stream"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Auth     AuthConfig     `yaml:"auth"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// LimiterConfig 全局限流器配置
type LimiterConfig struct {
	MinInterval   time.Duration `yaml:"min_interval"`   // 相邻两次放行的最小间隔
	MaxConcurrent int           `yaml:"max_concurrent"` // 同时等待放行的最大数量
}

// StreamConfig 事件流端点配置
type StreamConfig struct {
	IdleWait       time.Duration `yaml:"idle_wait"`        // 队列为空时的轮询等待
	KeepAliveAfter time.Duration `yaml:"keep_alive_after"` // 无事件多久后发送 keep-alive
}

// DispatchConfig 任务执行配置
type DispatchConfig struct {
	ItemDelay     time.Duration `yaml:"item_delay"`     // 批量任务相邻条目之间的让步延迟
	ShutdownGrace time.Duration `yaml:"shutdown_grace"` // 进程退出时等待在途任务的宽限期
}

// AuthConfig 认证配置
type AuthConfig struct {
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

type RedisConfig struct {
	URL string `yaml:"url"` // 非空时事件总线切换到 Redis Streams 后端
}

// ExternalConfig 外部端点配置（全部来自环境变量）
//
// 五项缺一不可：任何一项缺失即禁用所有任务执行
// （任务仍会被接受，但立即以终止失败事件结束）。
type ExternalConfig struct {
	Username    string        // API_USERNAME
	Key         string        // API_KEY
	BaseURL     string        // API_BASE_URL
	LoginPath   string        // API_LOGIN_ACTION_PATH
	ExecutePath string        // API_EXECUTE_PATH
	Timeout     time.Duration // 整个两步调用的墙钟超时
}

// Ready 外部端点配置是否完整
func (e ExternalConfig) Ready() bool {
	return e.Username != "" && e.Key != "" && e.BaseURL != "" &&
		e.LoginPath != "" && e.ExecutePath != ""
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env           Environment
	APIPort       string
	JWTSecret     string
	AdminUsername string
	AdminPassword string // bcrypt 哈希或明文，见 auth 包
	RedisURL      string
	External      ExternalConfig
	Limiter       LimiterConfig
	Stream        StreamConfig
	Dispatch      DispatchConfig
	Auth          AuthConfig
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	// 加载 .env
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// 解析环境
	env := parseEnv(getEnv("APP_ENV", "dev"))

	// 加载 YAML 配置
	yamlCfg := loadYAMLConfig(env)

	cfg := &Config{
		Env:           env,
		APIPort:       getEnv("PORT", yamlCfg.Server.Port),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		AdminUsername: os.Getenv("ADMIN_USERNAME"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		RedisURL:      getEnv("REDIS_URL", yamlCfg.Redis.URL),
		External: ExternalConfig{
			Username:    os.Getenv("API_USERNAME"),
			Key:         os.Getenv("API_KEY"),
			BaseURL:     strings.TrimSuffix(os.Getenv("API_BASE_URL"), "/"),
			LoginPath:   strings.Trim(os.Getenv("API_LOGIN_ACTION_PATH"), "/"),
			ExecutePath: strings.Trim(os.Getenv("API_EXECUTE_PATH"), "/"),
			Timeout:     60 * time.Second,
		},
		Limiter:  yamlCfg.Limiter,
		Stream:   yamlCfg.Stream,
		Dispatch: yamlCfg.Dispatch,
		Auth:     yamlCfg.Auth,
	}

	// 验证并填充默认值
	cfg.validate()

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := &YAMLConfig{
		Server: ServerConfig{Port: "8080"},
	}

	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏凭据）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Port: %s, External: %s, ExternalReady: %v}",
		c.Env, c.APIPort, c.External.BaseURL, c.External.Ready())
}

// validate 验证并填充默认值
func (c *Config) validate() {
	if c.APIPort == "" {
		c.APIPort = "8080"
	}
	if c.Limiter.MinInterval <= 0 {
		c.Limiter.MinInterval = 200 * time.Millisecond
	}
	if c.Limiter.MaxConcurrent <= 0 {
		c.Limiter.MaxConcurrent = 5
	}
	if c.Stream.IdleWait <= 0 {
		c.Stream.IdleWait = 100 * time.Millisecond
	}
	if c.Stream.KeepAliveAfter <= 0 {
		c.Stream.KeepAliveAfter = 20 * time.Second
	}
	if c.Dispatch.ItemDelay <= 0 {
		c.Dispatch.ItemDelay = 100 * time.Millisecond
	}
	if c.Dispatch.ShutdownGrace <= 0 {
		c.Dispatch.ShutdownGrace = 30 * time.Second
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 12 * time.Hour
	}
	if c.External.Timeout <= 0 {
		c.External.Timeout = 60 * time.Second
	}
}
