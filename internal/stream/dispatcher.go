package stream

import (
	"github.com/multi-agent/chat-stream/internal/event"
	"github.com/multi-agent/chat-stream/internal/session"
	"github.com/multi-agent/chat-stream/pkg/logger"
)

// Dispatcher 将归一化事件路由为 session.Manager 的一次状态变更。
//
// 纯路由, 无自有状态; 对任何输入都不 panic —
// 未预期的 payload 形状记 Warn 后丢弃, 流继续。
type Dispatcher struct {
	session *session.Manager
	ring    *EventRing // 可为 nil
}

// NewDispatcher 创建分发器。ring 传 nil 则不留诊断痕迹。
func NewDispatcher(mgr *session.Manager, ring *EventRing) *Dispatcher {
	return &Dispatcher{session: mgr, ring: ring}
}

// Dispatch 分发一条事件。
func (d *Dispatcher) Dispatch(evt event.ParsedStreamEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatcher: panic recovered",
				logger.FieldEventType, string(evt.Type), logger.FieldError, r)
		}
	}()

	if d.ring != nil {
		d.ring.Add(evt)
	}

	switch data := evt.Data.(type) {
	case event.TextDeltaData:
		d.session.AppendPartialContent(data.Delta)

	case event.AgentStartData:
		d.session.ApplyAgentStart(data)

	case event.AgentProgressData:
		d.session.ApplyAgentProgress(data)

	case event.AgentCompleteData:
		d.session.ApplyAgentComplete(data)

	case event.PhaseTransitionData:
		d.session.SetCurrentPhase(data.To)

	case event.ToolCallData:
		d.session.AddToolInvocation(data)

	case event.ToolResultData:
		d.session.ResolveToolInvocation(data)

	case event.ScreenshotData:
		d.session.AddScreenshot(data)

	case event.ErrorData:
		// 服务端错误终止当前流式轮次, 但不终止会话
		d.session.SetError(data.Message)
		d.session.ClearStreaming()

	default:
		logger.Warn("dispatcher: event with unexpected payload dropped",
			logger.FieldEventType, string(evt.Type))
	}
}
