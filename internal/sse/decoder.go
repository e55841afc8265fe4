// Package sse 实现服务端推送流 (text/event-stream 风格) 的帧解码。
//
// 线格式:
//   - 以 "\n" 结尾的行; "field:value" 累积到当前帧
//   - "data:" 多行时用 "\n" 拼接; "event:" / "id:" / "retry:" 后写覆盖前写
//   - ":" 开头为注释行, 丢弃
//   - 空行结束并产出当前帧 (仅当 data 非空)
//
// 解码对 chunk 切分位置不变: 同一字节序列无论按何种方式切块喂入,
// 产出的帧序列完全一致。残缺行保留在进位缓冲, 等待下一个 chunk。
package sse

import (
	"strconv"
	"strings"

	"github.com/multi-agent/chat-stream/pkg/logger"
)

// Frame 一个解码出的线格式帧。
type Frame struct {
	Event string // event: 字段, 可为空
	Data  string // data: 字段, 多行以 \n 拼接
	ID    string // id: 字段, 可为空
	Retry int    // retry: 字段 (毫秒), 0 = 未出现
}

// Decoder 推式帧解码器。非并发安全 — 单一读循环独占使用。
type Decoder struct {
	carry string // 上一 chunk 末尾的残缺行

	// 当前帧累积器
	event     string
	id        string
	retry     int
	dataLines []string

	malformed int // 丢弃的畸形行计数 (诊断用)
}

// NewDecoder 创建空解码器。
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed 喂入一个到达的 chunk, 返回其中完整结束的帧 (可能为空)。
//
// chunk 边界与行边界无关: 跨 chunk 的半行会被缓冲到下次调用。
func (d *Decoder) Feed(chunk string) []Frame {
	if chunk == "" {
		return nil
	}
	buf := d.carry + chunk

	var frames []Frame
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]
		if frame, ok := d.consumeLine(line); ok {
			frames = append(frames, frame)
		}
	}
	d.carry = buf
	return frames
}

// MalformedCount 返回累计丢弃的畸形行数。
func (d *Decoder) MalformedCount() int { return d.malformed }

// Reset 丢弃进位缓冲与未完成的帧 (重连后必须调用, 防止跨连接拼接)。
func (d *Decoder) Reset() {
	d.carry = ""
	d.resetFrame()
}

// consumeLine 处理一个完整行。空行结束当前帧; 返回 (frame, true) 表示产出。
func (d *Decoder) consumeLine(line string) (Frame, bool) {
	// CRLF 容错
	line = strings.TrimSuffix(line, "\r")

	// 空行: 结束当前帧
	if line == "" {
		return d.endFrame()
	}

	// 注释行
	if line[0] == ':' {
		return Frame{}, false
	}

	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		// 无冒号的非空行: 畸形, 跳过该行继续 (DecodeError 永不致命)
		d.malformed++
		logger.Debug("sse: malformed line skipped", logger.FieldRaw, line)
		return Frame{}, false
	}

	field := line[:colon]
	value := line[colon+1:]
	// 规范: 冒号后至多一个前导空格被剥离
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "data":
		d.dataLines = append(d.dataLines, value)
	case "event":
		d.event = value
	case "id":
		d.id = value
	case "retry":
		ms, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || ms < 0 {
			d.malformed++
			return Frame{}, false
		}
		d.retry = ms
	default:
		// 未识别字段: 按规范忽略
		d.malformed++
	}
	return Frame{}, false
}

// endFrame 空行触发: 产出当前帧并重置累积器。data 为空的帧被丢弃。
func (d *Decoder) endFrame() (Frame, bool) {
	data := strings.Join(d.dataLines, "\n")
	if data == "" {
		// data 为空的帧不产出 (只有 event/id/retry 的帧被丢弃)
		d.resetFrame()
		return Frame{}, false
	}
	frame := Frame{
		Event: d.event,
		Data:  data,
		ID:    d.id,
		Retry: d.retry,
	}
	d.resetFrame()
	return frame, true
}

func (d *Decoder) resetFrame() {
	d.event = ""
	d.id = ""
	d.retry = 0
	d.dataLines = nil
}
