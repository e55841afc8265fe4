// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/multi-agent/chat-stream/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 流式连接
	StreamBaseURL      string `env:"STREAM_BASE_URL" default:"http://127.0.0.1:8780"`
	StreamTransport    string `env:"STREAM_TRANSPORT" default:"sse"` // sse | websocket
	StreamMaxRetries   int    `env:"STREAM_MAX_RETRIES" default:"3" min:"0"`
	StreamRetryBaseMS  int    `env:"STREAM_RETRY_BASE_MS" default:"1000" min:"1"`
	StreamReadBufBytes int    `env:"STREAM_READ_BUF_BYTES" default:"4096" min:"256"`

	// 认证
	AuthToken    string `env:"STREAM_AUTH_TOKEN"`
	AuthTokenEnv string `env:"STREAM_AUTH_TOKEN_ENV"`

	// 诊断
	EventRingSize int `env:"STREAM_EVENT_RING_SIZE" default:"100" min:"1"`

	// PostgreSQL (可选日志落库)
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`

	// Mock 服务端 (本地联调)
	MockServerPort   int `env:"MOCK_SERVER_PORT" default:"8780" min:"1"`
	MockTurnDelayMS  int `env:"MOCK_TURN_DELAY_MS" default:"40" min:"0"`
	MockKeepaliveSec int `env:"MOCK_KEEPALIVE_SEC" default:"30" min:"1"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
