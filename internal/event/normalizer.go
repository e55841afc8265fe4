package event

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/multi-agent/chat-stream/internal/sse"
	apperrors "github.com/multi-agent/chat-stream/pkg/errors"
	"github.com/multi-agent/chat-stream/pkg/logger"
	"github.com/multi-agent/chat-stream/pkg/util"
)

// Normalizer 将解码出的帧归一化为 ParsedStreamEvent。
//
// 无锁, 热路径安全; 仅未知事件名计数用原子变量。
type Normalizer struct {
	unknownEvents atomic.Int64
}

// NewNormalizer 创建归一化器。
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// UnknownEvents 返回累计遇到的未知事件名次数 (回退为 text_delta 的帧)。
func (n *Normalizer) UnknownEvents() int64 { return n.unknownEvents.Load() }

// Normalize 归一化一帧。
//
// 类型判定顺序:
//  1. 帧带 event 名 → 查显式名表 (连字符/下划线变体同义); 未识别回退 text_delta
//  2. 无 event 名 → 按 payload 形状以固定优先级推断 (见 inferType)
//
// payload 不是合法 JSON 时整帧按纯文本处理, 仅对 text_delta 合法;
// 其余类型遇到非 JSON payload 返回 ErrDecode, 调用方跳帧继续。
func (n *Normalizer) Normalize(frame sse.Frame) (ParsedStreamEvent, error) {
	evt := ParsedStreamEvent{
		ID:        frame.ID,
		Timestamp: time.Now(),
		Raw:       frame.Data,
	}

	payload := map[string]any{}
	jsonOK := false
	if err := json.Unmarshal([]byte(frame.Data), &payload); err == nil {
		jsonOK = true
	} else {
		payload = map[string]any{}
	}

	name := strings.TrimSpace(frame.Event)
	if name != "" {
		typ, known := canonicalType(name)
		if !known {
			// 设计遗留: 未知事件名静默并入文本流。保留线协议兼容,
			// 但计数 + 告警, 让这个兜底在监控里可见。
			n.unknownEvents.Add(1)
			logger.Warn("event: unknown event name, falling back to text_delta",
				logger.FieldEventType, name)
		}
		evt.Type = typ
	} else {
		evt.Type = inferType(payload, jsonOK)
	}

	if !jsonOK && evt.Type != TypeTextDelta {
		return ParsedStreamEvent{}, apperrors.Wrapf(apperrors.ErrDecode,
			"Normalizer.Normalize", "non-JSON payload for %s event", evt.Type)
	}

	data, err := buildPayload(evt.Type, payload, jsonOK, frame.Data)
	if err != nil {
		return ParsedStreamEvent{}, err
	}
	evt.Data = data
	return evt, nil
}

// canonicalType 显式事件名表。连字符与下划线变体映射到同一规范类型。
func canonicalType(name string) (Type, bool) {
	switch name {
	case "text-delta", "text_delta":
		return TypeTextDelta, true
	case "agent-start", "agent_start":
		return TypeAgentStart, true
	case "agent-progress", "agent_progress":
		return TypeAgentProgress, true
	case "agent-complete", "agent_complete":
		return TypeAgentComplete, true
	case "phase-transition", "phase_transition":
		return TypePhaseTransition, true
	case "tool-call", "tool_call":
		return TypeToolCall, true
	case "tool-result", "tool_result":
		return TypeToolResult, true
	case "screenshot":
		return TypeScreenshot, true
	case "error":
		return TypeError, true
	}
	return TypeTextDelta, false
}

// inferType 无 event 名时按 payload 形状推断, 优先级固定:
// delta > agent 族 > phase > tool_call > tool_result > screenshot > error > text_delta。
func inferType(payload map[string]any, jsonOK bool) Type {
	if !jsonOK {
		return TypeTextDelta
	}
	has := func(key string) bool {
		_, ok := payload[key]
		return ok
	}

	switch {
	case has("delta"):
		return TypeTextDelta
	case has("agentType") && has("agentId"):
		if has("status") {
			return TypeAgentComplete
		}
		if has("progress") {
			return TypeAgentProgress
		}
		return TypeAgentStart
	case has("from") && has("to"):
		return TypePhaseTransition
	case has("toolName") && has("args"):
		return TypeToolCall
	case has("result") && has("id"):
		return TypeToolResult
	case has("base64") || (has("url") && has("step")):
		return TypeScreenshot
	case has("code") && has("message"):
		return TypeError
	}
	return TypeTextDelta
}

// buildPayload 按类型填充 payload 结构, 缺失字段给安全默认值。
func buildPayload(typ Type, payload map[string]any, jsonOK bool, raw string) (Payload, error) {
	switch typ {
	case TypeTextDelta:
		delta := getString(payload, "delta")
		if delta == "" && !jsonOK {
			// 非 JSON payload: 整段原文作为文本增量
			delta = raw
		}
		if delta == "" {
			delta = util.FirstNonEmpty(
				getString(payload, "text"),
				getString(payload, "content"),
				getString(payload, "message"),
			)
		}
		return TextDeltaData{Delta: delta}, nil

	case TypeAgentStart:
		agentType := getString(payload, "agentType")
		return AgentStartData{
			AgentID:   defaultID(getString(payload, "agentId")),
			AgentType: agentType,
			Name:      util.FirstNonEmpty(getString(payload, "name"), agentType),
			Message:   getString(payload, "message"),
			StartedAt: time.Now(),
		}, nil

	case TypeAgentProgress:
		return AgentProgressData{
			AgentID:     defaultID(getString(payload, "agentId")),
			AgentType:   getString(payload, "agentType"),
			Progress:    util.ClampFloat(getFloat(payload, "progress"), 0, 100),
			CurrentTool: getString(payload, "currentTool"),
			Message:     getString(payload, "message"),
			Confidence:  getFloatPtr(payload, "confidence"),
		}, nil

	case TypeAgentComplete:
		status := AgentComplete
		if strings.EqualFold(getString(payload, "status"), string(AgentError)) {
			status = AgentError
		}
		return AgentCompleteData{
			AgentID:    defaultID(getString(payload, "agentId")),
			AgentType:  getString(payload, "agentType"),
			Status:     status,
			Message:    getString(payload, "message"),
			Confidence: getFloatPtr(payload, "confidence"),
		}, nil

	case TypePhaseTransition:
		return PhaseTransitionData{
			From: parsePhase(getString(payload, "from")),
			To:   parsePhase(getString(payload, "to")),
		}, nil

	case TypeToolCall:
		name := getString(payload, "toolName")
		if name == "" {
			return nil, apperrors.Wrap(apperrors.ErrDecode,
				"Normalizer.buildPayload", "tool_call without toolName")
		}
		return ToolCallData{
			ID:       defaultID(getString(payload, "id")),
			ToolName: name,
			Args:     getRaw(payload, "args"),
		}, nil

	case TypeToolResult:
		id := getString(payload, "id")
		if id == "" {
			return nil, apperrors.Wrap(apperrors.ErrDecode,
				"Normalizer.buildPayload", "tool_result without id")
		}
		return ToolResultData{
			ID:     id,
			Result: getRaw(payload, "result"),
		}, nil

	case TypeScreenshot:
		return ScreenshotData{
			Base64:  getString(payload, "base64"),
			URL:     getString(payload, "url"),
			Step:    int(getFloat(payload, "step")),
			AgentID: getString(payload, "agentId"),
		}, nil

	case TypeError:
		return ErrorData{
			Code:    util.FirstNonEmpty(getString(payload, "code"), "UNKNOWN"),
			Message: getString(payload, "message"),
		}, nil
	}

	return nil, apperrors.Newf("Normalizer.buildPayload", "unhandled type %s", typ)
}

// parsePhase 校验阶段名, 未识别回退 idle。
func parsePhase(raw string) Phase {
	switch Phase(strings.ToLower(strings.TrimSpace(raw))) {
	case PhaseAnalysis:
		return PhaseAnalysis
	case PhasePlanning:
		return PhasePlanning
	case PhaseExecution:
		return PhaseExecution
	case PhaseHealing:
		return PhaseHealing
	case PhaseReporting:
		return PhaseReporting
	}
	return PhaseIdle
}

// defaultID 为空 id 生成新 uuid (安全默认, 保证下游可索引)。
func defaultID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func getString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}

func getFloat(m map[string]any, key string) float64 {
	// JSON 数字在泛型 map 里是 float64
	v, _ := m[key].(float64)
	return v
}

func getFloatPtr(m map[string]any, key string) *float64 {
	if v, ok := m[key].(float64); ok {
		return &v
	}
	return nil
}

func getRaw(m map[string]any, key string) json.RawMessage {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
