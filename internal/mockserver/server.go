// Package mockserver 提供脚本化的流式事件服务端, 供客户端链路本地联调:
// 同一份回合脚本走 SSE 或 WebSocket 发射, 与真实后端共享线协议。
package mockserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/multi-agent/chat-stream/pkg/logger"
	"github.com/multi-agent/chat-stream/pkg/util"
)

// Options 服务端参数。
type Options struct {
	// Token 非空时要求认证: SSE 走 Authorization: Bearer, WS 走 ?token=。
	Token string
	// TurnDelay 相邻事件间隔 (模拟打字节奏)。
	TurnDelay time.Duration
	// Keepalive 脚本播完后的注释心跳间隔。
	Keepalive time.Duration
}

// Server mock 流服务端。
type Server struct {
	router *gin.Engine
	opts   Options
}

// NewServer 创建 mock 服务端。
func NewServer(opts Options) *Server {
	if opts.Keepalive <= 0 {
		opts.Keepalive = 30 * time.Second
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{router: r, opts: opts}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := r.Group("/api", s.authRequired)
	api.GET("/sessions/:id/stream", s.streamHandler)
	api.GET("/sessions/:id/ws", s.wsHandler)

	return s
}

// Engine 返回 Gin 引擎 (测试用 httptest 直接挂载)。
func (s *Server) Engine() *gin.Engine { return s.router }

// Run 监听并服务。
func (s *Server) Run(addr string) error {
	logger.Info("mockserver: listening", logger.FieldListen, addr)
	return s.router.Run(addr)
}

// authRequired 认证中间件。Token 为空时放行所有请求。
func (s *Server) authRequired(c *gin.Context) {
	if s.opts.Token == "" {
		return
	}
	got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if got == "" {
		got = c.Query("token")
	}
	if got != s.opts.Token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   gin.H{"code": "unauthorized", "message": "invalid token"},
		})
	}
}

// ========================================
// SSE
// ========================================

func (s *Server) streamHandler(c *gin.Context) {
	conversationID := c.Param("id")
	logger.Info("mockserver: SSE client connected",
		logger.FieldConversationID, conversationID)
	defer logger.Info("mockserver: SSE client disconnected",
		logger.FieldConversationID, conversationID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	done := c.Request.Context().Done()
	for _, item := range turnScript() {
		if !waitOrDone(done, s.opts.TurnDelay) {
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", item.Event, item.Data)
		c.Writer.Flush()
	}

	// 回合播完, 注释心跳维持连接直到客户端断开
	ticker := time.NewTicker(s.opts.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}

// ========================================
// WebSocket
// ========================================

var upgrader = websocket.Upgrader{
	// mock 仅本地联调, 不校验 Origin
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) wsHandler(c *gin.Context) {
	conversationID := c.Param("id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("mockserver: ws upgrade failed",
			logger.FieldConversationID, conversationID, logger.FieldError, err)
		return
	}
	defer conn.Close()
	logger.Info("mockserver: WS client connected",
		logger.FieldConversationID, conversationID)

	// 劫持后的连接拿不到可靠的请求 ctx 取消信号,
	// 用读协程感知客户端断开 (本端不消费入站消息)
	closed := make(chan struct{})
	util.SafeGo(func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	for _, item := range turnScript() {
		if !waitOrDone(closed, s.opts.TurnDelay) {
			return
		}
		frame := fmt.Sprintf("event: %s\ndata: %s\n\n", item.Event, item.Data)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}

	ticker := time.NewTicker(s.opts.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(": keepalive\n\n")); err != nil {
				return
			}
		}
	}
}

// waitOrDone 等待 d, 期间 done 关闭则返回 false。
func waitOrDone(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-done:
		return false
	}
}
