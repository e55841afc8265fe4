// Package event 定义流事件的封闭类型集与归一化。
//
// 线协议侧事件名是松散的 (连字符/下划线混用, 甚至缺失),
// 本包将其收敛为九种规范类型 + 每类型一个严格的 payload 结构。
package event

import (
	"encoding/json"
	"time"
)

// Type 事件规范类型 (封闭枚举)。
type Type string

const (
	TypeTextDelta       Type = "text_delta"
	TypeAgentStart      Type = "agent_start"
	TypeAgentProgress   Type = "agent_progress"
	TypeAgentComplete   Type = "agent_complete"
	TypePhaseTransition Type = "phase_transition"
	TypeToolCall        Type = "tool_call"
	TypeToolResult      Type = "tool_result"
	TypeScreenshot      Type = "screenshot"
	TypeError           Type = "error"
)

// Phase 工作流阶段。
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseAnalysis  Phase = "analysis"
	PhasePlanning  Phase = "planning"
	PhaseExecution Phase = "execution"
	PhaseHealing   Phase = "healing"
	PhaseReporting Phase = "reporting"
)

// AgentStatus Agent 运行状态。
type AgentStatus string

const (
	AgentThinking  AgentStatus = "thinking"
	AgentExecuting AgentStatus = "executing"
	AgentComplete  AgentStatus = "complete"
	AgentError     AgentStatus = "error"
)

// ========================================
// Payload — 每类型一个结构 (tagged union)
// ========================================

// Payload 事件数据的标记接口。具体类型与 Type 一一对应,
// 调用方 type-switch 分发, 不做字段嗅探。
type Payload interface {
	payload()
}

// TextDeltaData 文本增量。
type TextDeltaData struct {
	Delta string `json:"delta"`
}

// AgentStartData Agent 启动。
type AgentStartData struct {
	AgentID   string    `json:"agentId"`
	AgentType string    `json:"agentType"`
	Name      string    `json:"name,omitempty"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// AgentProgressData Agent 进度更新。Progress 已被钳制到 [0,100]。
type AgentProgressData struct {
	AgentID     string   `json:"agentId"`
	AgentType   string   `json:"agentType,omitempty"`
	Progress    float64  `json:"progress"`
	CurrentTool string   `json:"currentTool,omitempty"`
	Message     string   `json:"message,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

// AgentCompleteData Agent 终结 (成功或失败)。
type AgentCompleteData struct {
	AgentID    string      `json:"agentId"`
	AgentType  string      `json:"agentType,omitempty"`
	Status     AgentStatus `json:"status"` // complete | error
	Message    string      `json:"message,omitempty"`
	Confidence *float64    `json:"confidence,omitempty"`
}

// PhaseTransitionData 阶段切换。
type PhaseTransitionData struct {
	From Phase `json:"from"`
	To   Phase `json:"to"`
}

// ToolCallData 工具调用发起。
type ToolCallData struct {
	ID       string          `json:"id"`
	ToolName string          `json:"toolName"`
	Args     json.RawMessage `json:"args"`
}

// ToolResultData 工具调用结果。
type ToolResultData struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// ScreenshotData 截图 (base64 内联或 URL 引用二选一)。
type ScreenshotData struct {
	Base64  string `json:"base64,omitempty"`
	URL     string `json:"url,omitempty"`
	Step    int    `json:"step,omitempty"`
	AgentID string `json:"agentId,omitempty"`
}

// ErrorData 服务端产生的错误事件。终止当前流式轮次, 不一定终止会话。
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (TextDeltaData) payload()       {}
func (AgentStartData) payload()      {}
func (AgentProgressData) payload()   {}
func (AgentCompleteData) payload()   {}
func (PhaseTransitionData) payload() {}
func (ToolCallData) payload()        {}
func (ToolResultData) payload()      {}
func (ScreenshotData) payload()      {}
func (ErrorData) payload()           {}

// ParsedStreamEvent 归一化后的流事件。
type ParsedStreamEvent struct {
	Type      Type      `json:"type"`
	ID        string    `json:"id,omitempty"` // 线协议 id: 字段
	Timestamp time.Time `json:"timestamp"`
	Data      Payload   `json:"data"`
	Raw       string    `json:"-"` // 原始 data 文本 (诊断环缓冲用)
}
