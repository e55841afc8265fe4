// cmd/stream-terminal — 终端流式会话客户端: 连接事件流并实时渲染会话状态。
//
// 用法: stream-terminal [conversation-id]
// 不带参数时生成随机会话 ID。服务端地址等参数走环境变量 (见 internal/config)。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/multi-agent/chat-stream/internal/bus"
	"github.com/multi-agent/chat-stream/internal/config"
	"github.com/multi-agent/chat-stream/internal/database"
	"github.com/multi-agent/chat-stream/internal/session"
	"github.com/multi-agent/chat-stream/internal/stream"
	"github.com/multi-agent/chat-stream/pkg/logger"
	"github.com/multi-agent/chat-stream/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Warn("file logging disabled", logger.FieldError, err)
		}
	}

	// 可选 Postgres: 日志落库 + 总线降级存储
	var fallback bus.FallbackStore = bus.NopStore{}
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database init failed", logger.Any(logger.FieldError, err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, "./migrations"); err != nil {
			logger.Fatal("migration failed", logger.Any(logger.FieldError, err))
		}
		logger.AttachDBHandler(pool)
		defer logger.ShutdownDBHandler()
		fallback = bus.NewPGFallbackStore(pool)
	}

	b := bus.NewMessageBus()
	pub := bus.NewResilientPublisher(b, fallback)
	pub.Start(ctx)
	defer pub.Stop()

	conversationID := uuid.NewString()
	if len(os.Args) > 1 {
		conversationID = os.Args[1]
	}

	mgr := session.NewManager(conversationID, pub)
	disp := stream.NewDispatcher(mgr, stream.NewEventRing(cfg.EventRingSize))

	var token stream.TokenProvider = stream.NoToken{}
	switch {
	case cfg.AuthTokenEnv != "":
		token = stream.EnvTokenProvider(cfg.AuthTokenEnv)
	case cfg.AuthToken != "":
		token = stream.StaticTokenProvider(cfg.AuthToken)
	}

	client := stream.NewClient(stream.Options{
		BaseURL:        cfg.StreamBaseURL,
		ConversationID: conversationID,
		Transport:      cfg.StreamTransport,
		MaxRetries:     cfg.StreamMaxRetries,
		RetryBase:      time.Duration(cfg.StreamRetryBaseMS) * time.Millisecond,
		ReadBufBytes:   cfg.StreamReadBufBytes,
		Token:          token,
		Publisher:      pub,
	}, stream.Callbacks{
		OnEvent: disp.Dispatch,
		OnClose: func(err error) {
			if err != nil {
				logger.Error("stream terminated", logger.FieldError, err)
			}
			finishTurn(mgr)
			cancel()
		},
	})

	// 订阅本会话的所有变更通知, 增量渲染
	sub := b.Subscribe("terminal", bus.TopicSessionPrefix+conversationID)
	util.SafeGo(func() { render(mgr, sub) })

	logger.Info("stream terminal starting",
		logger.FieldConversationID, conversationID,
		logger.FieldURL, cfg.StreamBaseURL)
	if err := client.Start(ctx); err != nil {
		logger.Fatal("start failed", logger.Any(logger.FieldError, err))
	}

	<-ctx.Done()
	client.Close()
	b.Unsubscribe("terminal")
	logger.Info("shutting down")
}

// finishTurn 流关闭时把未完结的流式轮次固化为 assistant 消息并打印。
// 空轮次 (无增量也无工具调用) 不产消息。
func finishTurn(mgr *session.Manager) {
	msg := mgr.FinalizeStreaming()
	if msg == nil {
		return
	}
	fmt.Printf("\n[%s] %s\n", msg.Role, msg.Content)
}

// render 消费变更通知, 按 kind 增量刷新终端视图。
// 通知只携带变更类别, 内容统一从快照拉取。
func render(mgr *session.Manager, sub *bus.Subscriber) {
	for msg := range sub.Ch {
		snap := mgr.Snapshot()
		kind := msg.Topic[strings.LastIndex(msg.Topic, ".")+1:]
		switch kind {
		case bus.KindStreaming:
			fmt.Printf("\r\033[K%s", snap.PartialContent)
		case bus.KindPhase:
			fmt.Printf("\n-- phase: %s --\n", snap.CurrentPhase)
		case bus.KindAgents:
			for _, a := range snap.ActiveAgents {
				fmt.Printf("\n[agent %s] %s %.0f%%\n", a.Name, a.Status, a.Progress)
			}
		case bus.KindTools:
			if n := len(snap.ToolInvocations); n > 0 {
				inv := snap.ToolInvocations[n-1]
				fmt.Printf("\n[tool %s] %s\n", inv.ToolName, inv.State)
			}
		case bus.KindScreenshots:
			if n := len(snap.Screenshots); n > 0 {
				fmt.Printf("\n[screenshot] step %d: %s\n", snap.Screenshots[n-1].Step, snap.Screenshots[n-1].URL)
			}
		case bus.KindError:
			if snap.LastError != "" {
				fmt.Printf("\n[error] %s\n", snap.LastError)
			}
		}
	}
}
