package main

import (
	"testing"

	"github.com/multi-agent/chat-stream/internal/session"
)

// TestFinishTurn_ProducesAssistantMessage 流关闭后部分内容必须固化成消息。
func TestFinishTurn_ProducesAssistantMessage(t *testing.T) {
	mgr := session.NewManager("c1", nil)
	mgr.AppendPartialContent("The page loaded.")

	finishTurn(mgr)

	snap := mgr.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(snap.Messages))
	}
	if snap.Messages[0].Role != "assistant" || snap.Messages[0].Content != "The page loaded." {
		t.Errorf("message = %+v, want assistant / The page loaded.", snap.Messages[0])
	}
	if snap.StreamingMessageID != "" || snap.PartialContent != "" {
		t.Error("streaming turn should be cleared after finish")
	}
}

// TestFinishTurn_EmptyTurnNoMessage 空轮次不产消息。
func TestFinishTurn_EmptyTurnNoMessage(t *testing.T) {
	mgr := session.NewManager("c1", nil)

	finishTurn(mgr)

	if got := len(mgr.Snapshot().Messages); got != 0 {
		t.Errorf("messages = %d, want 0", got)
	}
}
