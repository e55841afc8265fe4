// clone.go — Snapshot 深拷贝工具函数。
package session

import "encoding/json"

func cloneSnapshot(src Snapshot) Snapshot {
	out := src
	out.Messages = make([]Message, len(src.Messages))
	for i := range src.Messages {
		out.Messages[i] = cloneMessage(src.Messages[i])
	}
	out.ActiveAgents = make(map[string]ActiveAgent, len(src.ActiveAgents))
	for key, agent := range src.ActiveAgents {
		out.ActiveAgents[key] = cloneAgent(agent)
	}
	out.ToolInvocations = cloneInvocations(src.ToolInvocations)
	if len(src.AgentFailures) > 0 {
		out.AgentFailures = make([]AgentFailure, len(src.AgentFailures))
		copy(out.AgentFailures, src.AgentFailures)
	}
	if len(src.Screenshots) > 0 {
		out.Screenshots = make([]Screenshot, len(src.Screenshots))
		copy(out.Screenshots, src.Screenshots)
	}
	return out
}

func cloneMessage(src Message) Message {
	out := src
	out.ToolInvocations = cloneInvocations(src.ToolInvocations)
	return out
}

func cloneAgent(src ActiveAgent) ActiveAgent {
	out := src
	if src.Confidence != nil {
		v := *src.Confidence
		out.Confidence = &v
	}
	return out
}

func cloneInvocations(src []ToolInvocation) []ToolInvocation {
	if len(src) == 0 {
		return nil
	}
	out := make([]ToolInvocation, len(src))
	for i, inv := range src {
		out[i] = inv
		out[i].Args = cloneRaw(inv.Args)
		out[i].Result = cloneRaw(inv.Result)
	}
	return out
}

func cloneRaw(src json.RawMessage) json.RawMessage {
	if src == nil {
		return nil
	}
	out := make(json.RawMessage, len(src))
	copy(out, src)
	return out
}
