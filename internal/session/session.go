// Package session 维护单个会话的内存运行时状态。
//
// Manager 是唯一的写入口: 流事件经 dispatcher 分发为这里的一次变更,
// UI 层通过 Snapshot 拿深拷贝快照渲染, 通过总线通知感知"该刷新了"。
// 状态不落库, 断线重连后由服务端事件流重建。
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/multi-agent/chat-stream/internal/bus"
	"github.com/multi-agent/chat-stream/internal/event"
	"github.com/multi-agent/chat-stream/pkg/logger"
	"github.com/multi-agent/chat-stream/pkg/util"
)

// 截图保留上限 (内存防爆)。
const maxScreenshots = 50

// Publisher 变更通知出口。通知只携带变更种类, 不携带状态本体;
// 订阅方收到后自行拉取 Snapshot。bus.ResilientPublisher 直接满足此接口。
type Publisher interface {
	PublishSession(conversationID, kind string, payload any)
}

// Manager 会话状态管理器。
//
// 所有读写经 RWMutex; 通知在锁外发出, 避免订阅回调反过来拿快照时死锁。
type Manager struct {
	mu   sync.RWMutex
	snap Snapshot
	pub  Publisher // 可为 nil (纯内存模式)
}

// NewManager 创建会话状态管理器。
func NewManager(conversationID string, pub Publisher) *Manager {
	return &Manager{
		snap: emptySnapshot(conversationID),
		pub:  pub,
	}
}

func emptySnapshot(conversationID string) Snapshot {
	return Snapshot{
		ConversationID: conversationID,
		Messages:       []Message{},
		ActiveAgents:   map[string]ActiveAgent{},
		CurrentPhase:   event.PhaseIdle,
		Status:         UIIdle,
	}
}

// Snapshot 返回当前状态的深拷贝快照。
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSnapshot(m.snap)
}

// ConversationID 返回当前会话 id。
func (m *Manager) ConversationID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.ConversationID
}

// notify 在锁外发布变更通知。
func (m *Manager) notify(conversationID string, kinds ...string) {
	if m.pub == nil {
		return
	}
	for _, kind := range kinds {
		m.pub.PublishSession(conversationID, kind, nil)
	}
}

// ========================================
// 消息 CRUD
// ========================================

// SetMessages 整体替换消息列表 (会话切换后的首屏加载)。
func (m *Manager) SetMessages(msgs []Message) {
	m.mu.Lock()
	m.snap.Messages = append([]Message{}, msgs...)
	if len(m.snap.Messages) > 0 {
		m.snap.OldestMessageID = m.snap.Messages[0].ID
	} else {
		m.snap.OldestMessageID = ""
	}
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindMessages)
}

// AddMessage 追加一条消息。id 为空时生成; id 已存在时忽略 (重复投递防护)。
func (m *Manager) AddMessage(msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	m.mu.Lock()
	for _, existing := range m.snap.Messages {
		if existing.ID == msg.ID {
			m.mu.Unlock()
			return
		}
	}
	m.snap.Messages = append(m.snap.Messages, msg)
	if len(m.snap.Messages) == 1 {
		m.snap.OldestMessageID = msg.ID
	}
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindMessages)
}

// UpdateMessage 按 id 原位替换消息内容。id 不存在时忽略。
func (m *Manager) UpdateMessage(msg Message) {
	m.mu.Lock()
	updated := false
	for i := range m.snap.Messages {
		if m.snap.Messages[i].ID == msg.ID {
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = m.snap.Messages[i].CreatedAt
			}
			m.snap.Messages[i] = msg
			updated = true
			break
		}
	}
	cid := m.snap.ConversationID
	m.mu.Unlock()
	if updated {
		m.notify(cid, bus.KindMessages)
	}
}

// RemoveMessage 按 id 删除消息。
func (m *Manager) RemoveMessage(id string) {
	m.mu.Lock()
	removed := false
	for i := range m.snap.Messages {
		if m.snap.Messages[i].ID == id {
			m.snap.Messages = append(m.snap.Messages[:i], m.snap.Messages[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		if len(m.snap.Messages) > 0 {
			m.snap.OldestMessageID = m.snap.Messages[0].ID
		} else {
			m.snap.OldestMessageID = ""
		}
	}
	cid := m.snap.ConversationID
	m.mu.Unlock()
	if removed {
		m.notify(cid, bus.KindMessages)
	}
}

// ClearMessages 清空消息列表 (分页游标一并清除)。
func (m *Manager) ClearMessages() {
	m.mu.Lock()
	m.snap.Messages = []Message{}
	m.snap.OldestMessageID = ""
	m.snap.HasMoreMessages = false
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindMessages)
}

// PrependMessages 头插历史消息 (向上翻页)。
//
// 幂等: 已存在的 id 被跳过, 同一页重复送达不产生重复消息。
// 插入后 OldestMessageID 指向列表新的第一条, HasMoreMessages 由调用方给定。
func (m *Manager) PrependMessages(older []Message, hasMore bool) {
	m.mu.Lock()
	existing := make(map[string]bool, len(m.snap.Messages))
	for _, msg := range m.snap.Messages {
		existing[msg.ID] = true
	}

	fresh := make([]Message, 0, len(older))
	for _, msg := range older {
		if msg.ID == "" || existing[msg.ID] {
			continue
		}
		existing[msg.ID] = true
		fresh = append(fresh, msg)
	}

	if len(fresh) > 0 {
		m.snap.Messages = append(fresh, m.snap.Messages...)
	}
	if len(m.snap.Messages) > 0 {
		m.snap.OldestMessageID = m.snap.Messages[0].ID
	}
	m.snap.HasMoreMessages = hasMore
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindMessages)
}

// ========================================
// 活跃 Agent
// ========================================

// ApplyAgentStart 登记新活跃 Agent (status=thinking)。同 id 重复 start 覆盖。
func (m *Manager) ApplyAgentStart(data event.AgentStartData) {
	startedAt := data.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	m.mu.Lock()
	m.snap.ActiveAgents[data.AgentID] = ActiveAgent{
		ID:        data.AgentID,
		Type:      data.AgentType,
		Name:      util.FirstNonEmpty(data.Name, data.AgentType, data.AgentID),
		Status:    event.AgentThinking,
		StartedAt: startedAt,
		Message:   data.Message,
	}
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindAgents)
}

// ApplyAgentProgress 更新 Agent 进度 (status=executing)。
// 未登记的 agentId 隐式创建, 进度事件先于 start 到达时不丢更新。
func (m *Manager) ApplyAgentProgress(data event.AgentProgressData) {
	m.mu.Lock()
	agent, ok := m.snap.ActiveAgents[data.AgentID]
	if !ok {
		agent = ActiveAgent{
			ID:        data.AgentID,
			Type:      data.AgentType,
			Name:      util.FirstNonEmpty(data.AgentType, data.AgentID),
			StartedAt: time.Now(),
		}
	}
	agent.Status = event.AgentExecuting
	agent.Progress = util.ClampFloat(data.Progress, 0, 100)
	if data.CurrentTool != "" {
		agent.CurrentTool = data.CurrentTool
	}
	if data.Message != "" {
		agent.Message = data.Message
	}
	if data.Confidence != nil {
		agent.Confidence = data.Confidence
	}
	m.snap.ActiveAgents[data.AgentID] = agent
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindAgents)
}

// ApplyAgentComplete 终结 Agent 并从活跃集移除。未登记的 agentId 忽略。
// status=error 只降级该 Agent: 在 AgentFailures 留痕并告警, 会话级状态不变。
func (m *Manager) ApplyAgentComplete(data event.AgentCompleteData) {
	m.mu.Lock()
	agent, ok := m.snap.ActiveAgents[data.AgentID]
	if ok {
		delete(m.snap.ActiveAgents, data.AgentID)
		if data.Status == event.AgentError {
			m.snap.AgentFailures = append(m.snap.AgentFailures, AgentFailure{
				AgentID: data.AgentID,
				Type:    util.FirstNonEmpty(data.AgentType, agent.Type),
				Message: util.FirstNonEmpty(data.Message, agent.Message),
				At:      time.Now(),
			})
		}
	}
	cid := m.snap.ConversationID
	m.mu.Unlock()
	if !ok {
		logger.Debug("session: complete for unknown agent",
			logger.FieldAgentID, data.AgentID)
		return
	}
	if data.Status == event.AgentError {
		logger.Warn("session: agent finished with error",
			logger.FieldConversationID, cid,
			logger.FieldAgentID, data.AgentID,
			logger.FieldMessage, data.Message)
	}
	m.notify(cid, bus.KindAgents)
}

// RemoveActiveAgent 按 id 移除活跃 Agent。
func (m *Manager) RemoveActiveAgent(id string) {
	m.mu.Lock()
	_, ok := m.snap.ActiveAgents[id]
	delete(m.snap.ActiveAgents, id)
	cid := m.snap.ConversationID
	m.mu.Unlock()
	if ok {
		m.notify(cid, bus.KindAgents)
	}
}

// ClearActiveAgents 清空活跃集 (流关闭/会话重置)。
func (m *Manager) ClearActiveAgents() {
	m.mu.Lock()
	m.snap.ActiveAgents = map[string]ActiveAgent{}
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindAgents)
}

// ========================================
// 阶段
// ========================================

// SetCurrentPhase 切换工作流阶段, 阶段进度归零。
func (m *Manager) SetCurrentPhase(phase event.Phase) {
	m.mu.Lock()
	m.snap.CurrentPhase = phase
	m.snap.PhaseProgress = 0
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindPhase)
}

// SetPhaseProgress 更新阶段进度 (钳制 [0,100])。
func (m *Manager) SetPhaseProgress(progress float64) {
	m.mu.Lock()
	m.snap.PhaseProgress = util.ClampFloat(progress, 0, 100)
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindPhase)
}

// ========================================
// 流式生命周期
// ========================================

// StartStreaming 开始新的流式轮次。
//
// 不变量: 同一时刻至多一个活跃流式消息 — 已有轮次未结束时先被 ClearStreaming
// 丢弃 (上一轮的残余 partial 不并入新轮次)。messageID 为空时生成。
// 返回实际使用的 messageID。
func (m *Manager) StartStreaming(messageID string) string {
	if messageID == "" {
		messageID = uuid.NewString()
	}

	m.mu.Lock()
	if m.snap.StreamingMessageID != "" && m.snap.StreamingMessageID != messageID {
		logger.Warn("session: new streaming turn replaces unfinished one",
			logger.FieldMessageID, m.snap.StreamingMessageID)
		m.clearStreamingLocked()
	}
	m.snap.StreamingMessageID = messageID
	m.snap.Status = m.deriveStatusLocked()
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindStreaming)
	return messageID
}

// AppendPartialContent 追加流式文本增量。无活跃轮次时隐式开启一轮。
func (m *Manager) AppendPartialContent(delta string) {
	m.mu.Lock()
	if m.snap.StreamingMessageID == "" {
		m.snap.StreamingMessageID = uuid.NewString()
	}
	m.snap.PartialContent += delta
	m.snap.Status = m.deriveStatusLocked()
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindStreaming)
}

// AddToolInvocation 登记工具调用 (state=call)。同 id 重复 call 忽略。
func (m *Manager) AddToolInvocation(data event.ToolCallData) {
	m.mu.Lock()
	for _, inv := range m.snap.ToolInvocations {
		if inv.ID == data.ID {
			m.mu.Unlock()
			return
		}
	}
	m.snap.ToolInvocations = append(m.snap.ToolInvocations, ToolInvocation{
		ID:       data.ID,
		ToolName: data.ToolName,
		Args:     cloneRaw(data.Args),
		State:    InvocationCall,
	})
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindTools)
}

// ResolveToolInvocation 将工具调用置为 result 态。
//
// call → result 只允许一次; 未知 id 或已 resolve 的调用返回 false。
func (m *Manager) ResolveToolInvocation(data event.ToolResultData) bool {
	m.mu.Lock()
	resolved := false
	for i := range m.snap.ToolInvocations {
		if m.snap.ToolInvocations[i].ID != data.ID {
			continue
		}
		if m.snap.ToolInvocations[i].State == InvocationResult {
			break
		}
		m.snap.ToolInvocations[i].State = InvocationResult
		m.snap.ToolInvocations[i].Result = cloneRaw(data.Result)
		resolved = true
		break
	}
	cid := m.snap.ConversationID
	m.mu.Unlock()

	if !resolved {
		logger.Warn("session: tool result without matching call",
			logger.FieldID, data.ID)
		return false
	}
	m.notify(cid, bus.KindTools)
	return true
}

// FinalizeStreaming 将当前流式轮次固化为一条 assistant 消息。
//
// 无活跃轮次或内容全空时返回 nil。固化后经 ClearStreaming 清场。
func (m *Manager) FinalizeStreaming() *Message {
	m.mu.Lock()
	if m.snap.StreamingMessageID == "" ||
		(strings.TrimSpace(m.snap.PartialContent) == "" && len(m.snap.ToolInvocations) == 0) {
		m.clearStreamingLocked()
		m.snap.Status = m.deriveStatusLocked()
		cid := m.snap.ConversationID
		m.mu.Unlock()
		m.notify(cid, bus.KindStreaming)
		return nil
	}

	msg := Message{
		ID:              m.snap.StreamingMessageID,
		Role:            "assistant",
		Content:         m.snap.PartialContent,
		CreatedAt:       time.Now(),
		ToolInvocations: cloneInvocations(m.snap.ToolInvocations),
	}
	m.snap.Messages = append(m.snap.Messages, msg)
	if len(m.snap.Messages) == 1 {
		m.snap.OldestMessageID = msg.ID
	}
	m.clearStreamingLocked()
	m.snap.Status = m.deriveStatusLocked()
	cid := m.snap.ConversationID
	m.mu.Unlock()

	m.notify(cid, bus.KindMessages, bus.KindStreaming)
	out := cloneMessage(msg)
	return &out
}

// ClearStreaming 丢弃当前流式轮次 (不固化)。
//
// 这是流式状态唯一的清场出口: StreamingMessageID、PartialContent、
// ToolInvocations 一并清空, UI 状态重新派生。
func (m *Manager) ClearStreaming() {
	m.mu.Lock()
	m.clearStreamingLocked()
	m.snap.Status = m.deriveStatusLocked()
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindStreaming)
}

func (m *Manager) clearStreamingLocked() {
	m.snap.StreamingMessageID = ""
	m.snap.PartialContent = ""
	m.snap.ToolInvocations = nil
}

// deriveStatusLocked 派生 UI 状态: error > typing > idle。
func (m *Manager) deriveStatusLocked() UIStatus {
	switch {
	case m.snap.LastError != "":
		return UIError
	case m.snap.StreamingMessageID != "":
		return UITyping
	}
	return UIIdle
}

// ========================================
// 截图 / 错误 / 重置
// ========================================

// AddScreenshot 追加截图引用, 超出上限丢最旧。
func (m *Manager) AddScreenshot(data event.ScreenshotData) {
	m.mu.Lock()
	m.snap.Screenshots = append(m.snap.Screenshots, Screenshot{
		Base64:  data.Base64,
		URL:     data.URL,
		Step:    data.Step,
		AgentID: data.AgentID,
		At:      time.Now(),
	})
	if len(m.snap.Screenshots) > maxScreenshots {
		m.snap.Screenshots = m.snap.Screenshots[len(m.snap.Screenshots)-maxScreenshots:]
	}
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindScreenshots)
}

// SetError 设置错误横幅, UI 状态进入 error。
func (m *Manager) SetError(message string) {
	m.mu.Lock()
	m.snap.LastError = message
	m.snap.Status = UIError
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindError)
}

// ClearError 清除错误横幅, UI 状态重新派生。
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.snap.LastError = ""
	m.snap.Status = m.deriveStatusLocked()
	cid := m.snap.ConversationID
	m.mu.Unlock()
	m.notify(cid, bus.KindError)
}

// Reset 清空全部状态回到初始 (会话 id 保留)。
func (m *Manager) Reset() {
	m.mu.Lock()
	cid := m.snap.ConversationID
	m.snap = emptySnapshot(cid)
	m.mu.Unlock()
	m.notify(cid, bus.KindReset)
}

// Open 切换到另一个会话: 全量重置后换 id。
func (m *Manager) Open(conversationID string) {
	m.mu.Lock()
	m.snap = emptySnapshot(conversationID)
	m.mu.Unlock()
	m.notify(conversationID, bus.KindReset)
}
