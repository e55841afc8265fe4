// Package stream 实现流式连接管理: 建连、读帧、归一化分发、线性退避重连。
//
// 传输二选一:
//   - sse: GET + text/event-stream, token 走 Authorization: Bearer 头
//   - websocket: 同样的 SSE 帧文本走 WS text message, token 走 ?token= 查询参数
//     (浏览器 WebSocket 握手无法带自定义头)
//
// 两种传输共用同一个 sse.Decoder / event.Normalizer, 帧语义完全一致。
package stream

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/multi-agent/chat-stream/internal/bus"
	"github.com/multi-agent/chat-stream/internal/event"
	"github.com/multi-agent/chat-stream/internal/sse"
	apperrors "github.com/multi-agent/chat-stream/pkg/errors"
	"github.com/multi-agent/chat-stream/pkg/logger"
	"github.com/multi-agent/chat-stream/pkg/util"
)

// 默认重连参数。
const (
	DefaultMaxRetries   = 3
	DefaultRetryBase    = time.Second
	DefaultReadBufBytes = 4096

	// 非 2xx 响应 body 最多捕获这么多字节进错误消息
	maxErrorBodyBytes = 2048
)

// State 连接状态机: idle → connecting → open → (closed | error)。
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// Callbacks 连接生命周期回调。所有字段可为 nil。
//
// 回调在读协程上同步调用, 不得长时间阻塞。
type Callbacks struct {
	// OnEvent 每条归一化事件。
	OnEvent func(evt event.ParsedStreamEvent)
	// OnError 每次连接失败 (可能随后重连)。
	OnError func(err error)
	// OnReconnect 每次重连前, 携带第几次尝试与退避时长。
	OnReconnect func(attempt int, delay time.Duration)
	// OnClose 连接终结, 恰好一次。主动中止时 err 为 nil,
	// 重试耗尽时 err 链含 ErrRetriesExhausted。
	OnClose func(err error)
}

// Publisher 流生命周期通知出口。bus.ResilientPublisher 直接满足此接口。
type Publisher interface {
	PublishStream(conversationID, phase, msgType string, payload any)
}

// Options 连接参数。
type Options struct {
	BaseURL        string // http://host:port
	ConversationID string
	Transport      string // "sse" (默认) | "websocket"

	// MaxRetries 重连次数上限。0 取默认值 3, 负数禁用重连。
	MaxRetries int
	// RetryBase 线性退避基数: 第 n 次重连等待 n*RetryBase。0 取默认 1s。
	RetryBase time.Duration
	// ReadBufBytes SSE 读缓冲大小。0 取默认 4096。
	ReadBufBytes int

	Token      TokenProvider // nil 等价 NoToken
	HTTPClient *http.Client  // nil 时使用无超时的默认客户端 (流式连接不能设整体超时)
	Publisher  Publisher     // 可为 nil
}

// Client 流连接管理器。一个 Client 对应一次 Start→Close 生命周期。
type Client struct {
	opts Options
	cb   Callbacks

	dec  *sse.Decoder
	norm *event.Normalizer

	state     atomic.Value // State
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	started   atomic.Bool
}

// NewClient 创建连接管理器 (不建连)。
func NewClient(opts Options, cb Callbacks) *Client {
	if opts.Token == nil {
		opts.Token = NoToken{}
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.ReadBufBytes <= 0 {
		opts.ReadBufBytes = DefaultReadBufBytes
	}
	if opts.Transport == "" {
		opts.Transport = "sse"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	c := &Client{
		opts: opts,
		cb:   cb,
		dec:  sse.NewDecoder(),
		norm: event.NewNormalizer(),
	}
	c.state.Store(StateIdle)
	return c
}

// State 返回当前连接状态。
func (c *Client) State() State {
	return c.state.Load().(State)
}

func (c *Client) setState(s State) {
	c.state.Store(s)
}

// Start 启动读循环 (非阻塞)。取消 ctx 即主动中止: 不重连, OnClose(nil) 恰好一次。
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return apperrors.Wrap(apperrors.ErrClosed, "Client.Start", "already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	util.SafeGo(func() { c.run(runCtx) })
	return nil
}

// Close 主动中止连接并等待读协程退出。
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// ========================================
// 重连循环
// ========================================

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	retry := 0
	for {
		c.setState(StateConnecting)

		opened := false
		err := c.connectOnce(ctx, &opened)
		if opened {
			// 成功建立过连接, 重试计数归零 (长连接中途断开从头计)
			retry = 0
		}

		// 主动中止按类型识别 (errors.Is), 永不依赖错误文本
		if apperrors.IsAbort(err) || ctx.Err() != nil {
			c.finish(nil)
			return
		}

		c.emitError(err)

		if retry >= c.opts.MaxRetries {
			terminal := apperrors.Wrapf(apperrors.ErrRetriesExhausted,
				"Client.run", "giving up after %d retries: %v", c.opts.MaxRetries, err)
			c.finishError(terminal)
			return
		}

		retry++
		delay := time.Duration(retry) * c.opts.RetryBase
		logger.Warn("stream: reconnecting",
			logger.FieldConversationID, c.opts.ConversationID,
			logger.FieldAttempt, retry,
			logger.FieldMax, c.opts.MaxRetries,
			logger.FieldDelayMS, delay.Milliseconds(),
			logger.FieldError, err)
		if c.cb.OnReconnect != nil {
			c.cb.OnReconnect(retry, delay)
		}
		c.publish("reconnect", bus.MsgStreamReconnect, map[string]any{
			"attempt": retry, "max": c.opts.MaxRetries, "delayMs": delay.Milliseconds(),
		})

		if !sleepWithContext(ctx, delay) {
			c.finish(nil)
			return
		}
		// 跨连接不保留半帧
		c.dec.Reset()
	}
}

// connectOnce 建立一次连接并读到终止。返回的错误永不为 nil:
// 服务端正常关闭也按网络中断处理 (EventSource 语义, 由重试预算兜底)。
func (c *Client) connectOnce(ctx context.Context, opened *bool) error {
	if c.opts.Transport == "websocket" {
		return c.connectWS(ctx, opened)
	}
	return c.connectSSE(ctx, opened)
}

func (c *Client) markOpen(opened *bool) {
	*opened = true
	c.setState(StateOpen)
	logger.Info("stream: connected",
		logger.FieldConversationID, c.opts.ConversationID,
		logger.FieldURL, c.opts.BaseURL)
	c.publish("open", bus.MsgStreamOpen, nil)
}

// handleChunk 喂解码器并分发产出的帧。
func (c *Client) handleChunk(chunk string) {
	for _, frame := range c.dec.Feed(chunk) {
		evt, err := c.norm.Normalize(frame)
		if err != nil {
			// 坏帧跳过, 流继续
			logger.Warn("stream: frame dropped",
				logger.FieldConversationID, c.opts.ConversationID,
				logger.FieldError, err)
			continue
		}
		if c.cb.OnEvent != nil {
			c.cb.OnEvent(evt)
		}
	}
}

func (c *Client) emitError(err error) {
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
	c.publish("error", bus.MsgStreamError, map[string]any{"error": err.Error()})
}

// finish 终结连接 (主动中止或正常关闭), OnClose 恰好一次。
func (c *Client) finish(err error) {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		logger.Info("stream: closed",
			logger.FieldConversationID, c.opts.ConversationID)
		c.publish("closed", bus.MsgStreamClosed, nil)
		if c.cb.OnClose != nil {
			c.cb.OnClose(err)
		}
	})
}

// finishError 以终态错误终结连接。
func (c *Client) finishError(err error) {
	c.closeOnce.Do(func() {
		c.setState(StateError)
		logger.Error("stream: terminal failure",
			logger.FieldConversationID, c.opts.ConversationID,
			logger.FieldError, err)
		c.publish("closed", bus.MsgStreamClosed, map[string]any{"error": err.Error()})
		if c.cb.OnClose != nil {
			c.cb.OnClose(err)
		}
	})
}

func (c *Client) publish(phase, msgType string, payload any) {
	if c.opts.Publisher == nil {
		return
	}
	c.opts.Publisher.PublishStream(c.opts.ConversationID, phase, msgType, payload)
}

// ========================================
// SSE 传输
// ========================================

func (c *Client) streamURL() string {
	return strings.TrimRight(c.opts.BaseURL, "/") +
		"/api/sessions/" + url.PathEscape(c.opts.ConversationID) + "/stream"
}

func (c *Client) connectSSE(ctx context.Context, opened *bool) error {
	token, err := c.opts.Token.Token(ctx)
	if err != nil {
		return apperrors.Wrap(err, "Client.connectSSE", "resolve token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamURL(), nil)
	if err != nil {
		return apperrors.Wrap(err, "Client.connectSSE", "build request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.Wrapf(apperrors.ErrNetwork, "Client.connectSSE", "dial: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// body 截断捕获进错误消息, 防止服务端大响应撑爆内存
		var sb strings.Builder
		_, _ = io.Copy(util.NewLimitedWriter(&sb, maxErrorBodyBytes), resp.Body)
		sentinel := apperrors.ErrNetwork
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			sentinel = apperrors.ErrUnauthorized
		}
		return apperrors.Wrapf(sentinel, "Client.connectSSE",
			"status %d: %s", resp.StatusCode, strings.TrimSpace(sb.String()))
	}

	c.markOpen(opened)

	buf := make([]byte, c.opts.ReadBufBytes)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			c.handleChunk(string(buf[:n]))
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				return apperrors.Wrap(apperrors.ErrNetwork, "Client.connectSSE", "server closed stream")
			}
			return apperrors.Wrapf(apperrors.ErrNetwork, "Client.connectSSE", "read: %v", err)
		}
	}
}

// ========================================
// WebSocket 传输
// ========================================

func (c *Client) wsURL(token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.opts.BaseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/sessions/" + url.PathEscape(c.opts.ConversationID) + "/ws"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) connectWS(ctx context.Context, opened *bool) error {
	token, err := c.opts.Token.Token(ctx)
	if err != nil {
		return apperrors.Wrap(err, "Client.connectWS", "resolve token")
	}
	wsURL, err := c.wsURL(token)
	if err != nil {
		return apperrors.Wrap(err, "Client.connectWS", "build url")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sentinel := apperrors.ErrNetwork
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			sentinel = apperrors.ErrUnauthorized
		}
		return apperrors.Wrapf(sentinel, "Client.connectWS", "dial: %v", err)
	}
	defer conn.Close()

	// ctx 取消时强制关闭连接, 让阻塞中的 ReadMessage 立刻返回
	done := make(chan struct{})
	defer close(done)
	util.SafeGo(func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	})

	c.markOpen(opened)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperrors.Wrapf(apperrors.ErrNetwork, "Client.connectWS", "read: %v", err)
		}
		c.handleChunk(string(data))
	}
}

// sleepWithContext 退避等待, ctx 取消时返回 false。
func sleepWithContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
