// script.go — 脚本化的多 Agent 回合, 本地联调用的事件源。
package mockserver

import "encoding/json"

// scriptItem 一条待发射的线协议事件。
type scriptItem struct {
	Event string
	Data  string
}

func mustJSON(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// turnScript 生成一个完整回合: 阶段推进 + 两个 Agent + 工具调用 + 文本流。
func turnScript() []scriptItem {
	return []scriptItem{
		{"phase_transition", mustJSON(map[string]any{"from": "idle", "to": "analysis"})},
		{"agent_start", mustJSON(map[string]any{
			"agentId": "agent-analyzer", "agentType": "analyzer", "name": "Analyzer",
			"message": "analyzing request",
		})},
		{"agent_progress", mustJSON(map[string]any{
			"agentId": "agent-analyzer", "agentType": "analyzer", "progress": 50,
		})},
		{"agent_complete", mustJSON(map[string]any{
			"agentId": "agent-analyzer", "agentType": "analyzer", "status": "complete", "confidence": 0.92,
		})},
		{"phase_transition", mustJSON(map[string]any{"from": "analysis", "to": "execution"})},
		{"agent_start", mustJSON(map[string]any{
			"agentId": "agent-executor", "agentType": "executor", "name": "Executor",
		})},
		{"tool_call", mustJSON(map[string]any{
			"id": "tool-1", "toolName": "browser_navigate",
			"args": map[string]any{"url": "https://example.com"},
		})},
		{"agent_progress", mustJSON(map[string]any{
			"agentId": "agent-executor", "agentType": "executor", "progress": 40,
			"currentTool": "browser_navigate",
		})},
		{"tool_result", mustJSON(map[string]any{
			"id": "tool-1", "result": map[string]any{"status": "ok"},
		})},
		{"screenshot", mustJSON(map[string]any{
			"url": "https://example.com/shots/step-1.png", "step": 1, "agentId": "agent-executor",
		})},
		{"text_delta", mustJSON(map[string]any{"delta": "The page "})},
		{"text_delta", mustJSON(map[string]any{"delta": "loaded "})},
		{"text_delta", mustJSON(map[string]any{"delta": "successfully."})},
		{"agent_complete", mustJSON(map[string]any{
			"agentId": "agent-executor", "agentType": "executor", "status": "complete",
		})},
		{"phase_transition", mustJSON(map[string]any{"from": "execution", "to": "reporting"})},
	}
}
