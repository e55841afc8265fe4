// cmd/mock-agent-server — 脚本化流服务端, 供 stream-terminal 本地联调。
package main

import (
	"fmt"
	"time"

	"github.com/multi-agent/chat-stream/internal/config"
	"github.com/multi-agent/chat-stream/internal/mockserver"
	"github.com/multi-agent/chat-stream/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	srv := mockserver.NewServer(mockserver.Options{
		Token:     cfg.AuthToken,
		TurnDelay: time.Duration(cfg.MockTurnDelayMS) * time.Millisecond,
		Keepalive: time.Duration(cfg.MockKeepaliveSec) * time.Second,
	})

	addr := fmt.Sprintf(":%d", cfg.MockServerPort)
	if err := srv.Run(addr); err != nil {
		logger.Fatal("mock server failed", logger.Any(logger.FieldError, err))
	}
}
