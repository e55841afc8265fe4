package sse

import (
	"reflect"
	"testing"
)

// feedAll 将输入按给定切分喂入解码器, 收集全部帧。
func feedAll(t *testing.T, chunks []string) []Frame {
	t.Helper()
	d := NewDecoder()
	var frames []Frame
	for _, c := range chunks {
		frames = append(frames, d.Feed(c)...)
	}
	return frames
}

func TestFeed_SingleFrame(t *testing.T) {
	frames := feedAll(t, []string{"event: agent_start\ndata: {\"agentId\":\"a1\"}\n\n"})
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Event != "agent_start" {
		t.Errorf("Event = %q, want agent_start", frames[0].Event)
	}
	if frames[0].Data != `{"agentId":"a1"}` {
		t.Errorf("Data = %q", frames[0].Data)
	}
}

// TestFeed_ChunkBoundaryInvariance 同一字节序列按任意位置二切分,
// 产出帧序列与整块喂入完全一致。
func TestFeed_ChunkBoundaryInvariance(t *testing.T) {
	input := "event: agent_progress\n" +
		"id: e-17\n" +
		"data: {\"agentId\":\"a1\",\n" +
		"data: \"progress\":42}\n" +
		"\n" +
		": keepalive comment\n" +
		"data: {\"delta\":\"hello\"}\n" +
		"\n"

	want := feedAll(t, []string{input})
	if len(want) != 2 {
		t.Fatalf("baseline frames = %d, want 2", len(want))
	}

	for cut := 0; cut <= len(input); cut++ {
		got := feedAll(t, []string{input[:cut], input[cut:]})
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("cut at %d: frames = %#v, want %#v", cut, got, want)
		}
	}

	// 逐字节喂入
	chunks := make([]string, 0, len(input))
	for i := range input {
		chunks = append(chunks, input[i:i+1])
	}
	got := feedAll(t, chunks)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("byte-by-byte: frames = %#v, want %#v", got, want)
	}
}

// TestFeed_SplitInsideJSON data 的 JSON 在 chunk 边界被切开。
func TestFeed_SplitInsideJSON(t *testing.T) {
	frames := feedAll(t, []string{"data: {\"del", "ta\":\"hi\"}\n\n"})
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Data != `{"delta":"hi"}` {
		t.Errorf("Data = %q", frames[0].Data)
	}
}

// TestFeed_MultiLineDataJoin 两行 data 以 \n 拼接。
func TestFeed_MultiLineDataJoin(t *testing.T) {
	frames := feedAll(t, []string{"data: {\"a\"\ndata: :1}\n\n"})
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Data != "{\"a\"\n:1}" {
		t.Errorf("Data = %q, want joined with newline", frames[0].Data)
	}
}

func TestFeed_CommentDropped(t *testing.T) {
	frames := feedAll(t, []string{": ping\n: another comment\ndata: x\n\n"})
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Data != "x" {
		t.Errorf("Data = %q, want x", frames[0].Data)
	}
}

func TestFeed_EmptyDataFrameNotEmitted(t *testing.T) {
	// 只有 event 没有 data 的帧被丢弃
	frames := feedAll(t, []string{"event: agent_start\n\ndata: y\n\n"})
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Data != "y" {
		t.Errorf("Data = %q, want y", frames[0].Data)
	}
	// 前一帧的 event 不得泄漏到后一帧
	if frames[0].Event != "" {
		t.Errorf("Event = %q, want empty (no leak across frames)", frames[0].Event)
	}
}

func TestFeed_FieldOverwrite(t *testing.T) {
	frames := feedAll(t, []string{"event: first\nevent: second\nid: 1\nid: 2\ndata: z\n\n"})
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Event != "second" {
		t.Errorf("Event = %q, want second (last write wins)", frames[0].Event)
	}
	if frames[0].ID != "2" {
		t.Errorf("ID = %q, want 2", frames[0].ID)
	}
}

func TestFeed_RetryField(t *testing.T) {
	frames := feedAll(t, []string{"retry: 2500\ndata: r\n\n"})
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Retry != 2500 {
		t.Errorf("Retry = %d, want 2500", frames[0].Retry)
	}
}

func TestFeed_MalformedLineSkipped(t *testing.T) {
	d := NewDecoder()
	var frames []Frame
	frames = append(frames, d.Feed("garbage without colon\ndata: ok\n\n")...)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1 (malformed line skipped, stream continues)", len(frames))
	}
	if frames[0].Data != "ok" {
		t.Errorf("Data = %q, want ok", frames[0].Data)
	}
	if d.MalformedCount() != 1 {
		t.Errorf("MalformedCount = %d, want 1", d.MalformedCount())
	}
}

func TestFeed_CRLFTolerated(t *testing.T) {
	frames := feedAll(t, []string{"event: error\r\ndata: {\"code\":\"X\"}\r\n\r\n"})
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Event != "error" {
		t.Errorf("Event = %q, want error", frames[0].Event)
	}
}

func TestFeed_IncompleteFrameNotEmitted(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed("data: unfinished\n")
	if len(frames) != 0 {
		t.Fatalf("frames = %d, want 0 (no blank line yet)", len(frames))
	}
	// 空行到达后产出
	frames = d.Feed("\n")
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1 after blank line", len(frames))
	}
}

func TestReset_DropsCarryAndPartialFrame(t *testing.T) {
	d := NewDecoder()
	_ = d.Feed("data: will-be-dropped\ndata: half-li")
	d.Reset()
	frames := d.Feed("data: fresh\n\n")
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Data != "fresh" {
		t.Errorf("Data = %q, want fresh (no leak from before Reset)", frames[0].Data)
	}
}
