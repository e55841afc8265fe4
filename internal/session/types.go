package session

import (
	"encoding/json"
	"time"

	"github.com/multi-agent/chat-stream/internal/event"
)

// Message 会话消息。持久化 (外部 CRUD API) 之后不可变; 会话内按插入序排列, id 唯一。
type Message struct {
	ID              string           `json:"id"`
	Role            string           `json:"role"` // user | assistant | system
	Content         string           `json:"content"`
	CreatedAt       time.Time        `json:"createdAt"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
}

// InvocationState 工具调用状态。只允许 call → result, 不可逆, 不可重复。
type InvocationState string

const (
	InvocationCall   InvocationState = "call"
	InvocationResult InvocationState = "result"
)

// ToolInvocation 一次工具调用的请求/结果对。
type ToolInvocation struct {
	ID       string          `json:"id"`
	ToolName string          `json:"toolName"`
	Args     json.RawMessage `json:"args,omitempty"`
	State    InvocationState `json:"state"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// ActiveAgent 活跃 Agent 的运行时视图。
// progress 恒在 [0,100]; status 进入 complete/error 即终结, 从活跃集移除。
type ActiveAgent struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Status      event.AgentStatus `json:"status"`
	Progress    float64           `json:"progress"`
	CurrentTool string            `json:"currentTool,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	Confidence  *float64          `json:"confidence,omitempty"`
	Message     string            `json:"message,omitempty"`
}

// AgentFailure 以 status=error 终结的 Agent 的降级记录。
// 只降级该 Agent 自身, 不影响会话级状态。
type AgentFailure struct {
	AgentID string    `json:"agentId"`
	Type    string    `json:"type,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Screenshot 截图引用 (base64 内联或 URL)。
type Screenshot struct {
	Base64  string    `json:"base64,omitempty"`
	URL     string    `json:"url,omitempty"`
	Step    int       `json:"step,omitempty"`
	AgentID string    `json:"agentId,omitempty"`
	At      time.Time `json:"at"`
}

// UIStatus 派生的 UI 状态。
type UIStatus string

const (
	UIIdle   UIStatus = "idle"
	UITyping UIStatus = "typing"
	UIError  UIStatus = "error"
)

// Snapshot 会话状态的一致性快照 (深拷贝, 调用方可自由持有)。
type Snapshot struct {
	ConversationID string `json:"conversationId"`

	Messages        []Message `json:"messages"`
	OldestMessageID string    `json:"oldestMessageId,omitempty"`
	HasMoreMessages bool      `json:"hasMoreMessages"`

	ActiveAgents map[string]ActiveAgent `json:"activeAgents"`
	// AgentFailures 本轮内失败终结的 Agent (从活跃集移除后在此留痕)。
	AgentFailures []AgentFailure `json:"agentFailures,omitempty"`

	CurrentPhase  event.Phase `json:"currentPhase"`
	PhaseProgress float64     `json:"phaseProgress"`

	// 流式生命周期。系统级不变量: 同一时刻至多一个非空 StreamingMessageID。
	StreamingMessageID string           `json:"streamingMessageId,omitempty"`
	PartialContent     string           `json:"partialContent,omitempty"`
	ToolInvocations    []ToolInvocation `json:"toolInvocations,omitempty"`

	Screenshots []Screenshot `json:"screenshots,omitempty"`

	Status    UIStatus `json:"status"`
	LastError string   `json:"lastError,omitempty"`
}
