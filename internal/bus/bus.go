// Package bus 提供进程内消息总线。
//
// 用途:
//   - 会话状态变更通知: session.Manager 每次变更后发布 session.{conversationID}.{kind},
//     UI 层订阅后拉取快照刷新 (通知不携带状态本体, 避免锁内深拷贝)
//   - 流生命周期通知: stream.Client 发布 stream.{conversationID}.{open|closed|error|reconnect}
//
// 桥接:
//   - SetOnPublish — 全局回调, 用于桥接诊断日志或 mock 服务器的 SSE 出口
//   - resilient.go — 总线异常时降级到 Postgres 落盘, 恢复后补发
package bus

import (
	"encoding/json"
	"sync"
	"time"
)

// ========================================
// 消息类型
// ========================================

// Message 总线消息。
type Message struct {
	Topic     string          `json:"topic"` // session.c1.messages / stream.c1.open
	From      string          `json:"from"`  // 来源组件 ("session" / "stream" / "system")
	Type      string          `json:"type"`  // 消息类型 (state_update / stream_open / ...)
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq"` // 全局序列号
}

// 消息类型常量。
const (
	// MsgStateUpdate 会话状态变更 (payload 为变更摘要, 状态本体走 Snapshot)。
	MsgStateUpdate = "state_update"
	// MsgStreamOpen 流连接建立。
	MsgStreamOpen = "stream_open"
	// MsgStreamClosed 流连接关闭 (正常或放弃重试后)。
	MsgStreamClosed = "stream_closed"
	// MsgStreamError 流错误 (单次连接失败, 可能随后重连)。
	MsgStreamError = "stream_error"
	// MsgStreamReconnect 重连尝试。
	MsgStreamReconnect = "stream_reconnect"
	// MsgError 异常消息。
	MsgError = "error"
)

// Topic 模式常量。
const (
	// TopicSessionPrefix 会话状态变更前缀: session.{conversationID}.{kind}。
	TopicSessionPrefix = "session."
	// TopicStreamPrefix 流生命周期前缀: stream.{conversationID}.{phase}。
	TopicStreamPrefix = "stream."
	// TopicSystem 系统消息。
	TopicSystem = "system"

	// TopicAll 广播 (所有订阅者收到)。
	TopicAll = "*"
)

// 会话变更 kind (topic 第三段)。
const (
	KindMessages    = "messages"
	KindAgents      = "agents"
	KindPhase       = "phase"
	KindStreaming   = "streaming"
	KindTools       = "tools"
	KindScreenshots = "screenshots"
	KindError       = "error"
	KindReset       = "reset"
)

// SessionTopic 构造会话变更 topic。
func SessionTopic(conversationID, kind string) string {
	return TopicSessionPrefix + conversationID + "." + kind
}

// StreamTopic 构造流生命周期 topic。
func StreamTopic(conversationID, phase string) string {
	return TopicStreamPrefix + conversationID + "." + phase
}

// ========================================
// Subscriber
// ========================================

// Subscriber 订阅者。
type Subscriber struct {
	ID     string       // 唯一标识
	Filter string       // topic 前缀过滤 ("session.c1" / "*" / "stream.")
	Ch     chan Message // 消息通道
}

// ========================================
// MessageBus — topic pub/sub
// ========================================

// MessageBus 进程内消息总线。
//
// 支持 topic 前缀匹配和广播:
//   - 订阅 "session.c1" → 收到 session.c1.messages, session.c1.phase 等
//   - 订阅 "*" → 收到所有消息
//   - 发布 session.c1.messages → 匹配 "session.c1", "session.", "*" 的订阅者
type MessageBus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber // key = subscriber ID
	seq         int64
	onPublish   func(Message) // 可选: 每条消息的全局回调 (用于桥接日志/SSE)
}

// NewMessageBus 创建消息总线。
func NewMessageBus() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]*Subscriber),
	}
}

// SetOnPublish 设置全局发布回调。
func (b *MessageBus) SetOnPublish(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Publish 发布消息到匹配的订阅者。
//
// seq 递增和 fan-out 在同一把锁下执行, 保证消息到达顺序与 seq 一致。
func (b *MessageBus) Publish(msg Message) {
	b.mu.Lock()
	b.seq++
	msg.Seq = b.seq
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	onPub := b.onPublish

	// 在同一把锁下完成 fan-out, 保证 seq 顺序
	for _, sub := range b.subscribers {
		if matchTopic(sub.Filter, msg.Topic) {
			select {
			case sub.Ch <- msg:
			default:
				// 通道满, 丢弃 (避免阻塞发布者)
			}
		}
	}
	b.mu.Unlock()

	// 全局回调在锁外执行 (回调可能耗时, 避免持锁太久)
	if onPub != nil {
		onPub(msg)
	}
}

// Subscribe 订阅消息。filter 为 topic 前缀 ("session.c1" / "*" / "stream.")。
func (b *MessageBus) Subscribe(id, filter string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:     id,
		Filter: filter,
		Ch:     make(chan Message, 64),
	}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe 取消订阅。
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount 返回当前订阅者数量。
func (b *MessageBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Seq 返回当前序列号。
func (b *MessageBus) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// ========================================
// Topic 匹配
// ========================================

// matchTopic 检查 topic 是否匹配 filter。
//
// 规则:
//   - filter "*" 匹配所有 topic
//   - filter "session.c1" 匹配 "session.c1", "session.c1.messages" 等
//   - filter "stream." 匹配所有 stream.{id}.{phase}
func matchTopic(filter, topic string) bool {
	if filter == TopicAll {
		return true
	}
	if topic == filter {
		return true
	}
	// 前缀匹配: filter="session.c1" 匹配 topic="session.c1.messages"
	if len(topic) > len(filter) && topic[:len(filter)] == filter && topic[len(filter)] == '.' {
		return true
	}
	// "session." 这类以点结尾的 filter 按纯前缀匹配
	if len(filter) > 0 && filter[len(filter)-1] == '.' &&
		len(topic) > len(filter) && topic[:len(filter)] == filter {
		return true
	}
	return false
}
