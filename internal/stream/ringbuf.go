package stream

import (
	"sync"

	"github.com/multi-agent/chat-stream/internal/event"
)

// EventRing 环形缓冲区，保留最近 N 条归一化事件 (诊断用)。
//
// 覆盖写不分配: 固定底层数组 + 写指针取模。
type EventRing struct {
	mu    sync.Mutex
	items []event.ParsedStreamEvent
	next  int
	full  bool
}

// NewEventRing 创建容量为 size 的事件环。
func NewEventRing(size int) *EventRing {
	if size < 1 {
		size = 1
	}
	return &EventRing{items: make([]event.ParsedStreamEvent, size)}
}

// Add 追加一条事件，满了覆盖最旧。
func (r *EventRing) Add(evt event.ParsedStreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.next] = evt
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

// Recent 返回事件副本, 从旧到新排列。
func (r *EventRing) Recent() []event.ParsedStreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]event.ParsedStreamEvent, r.next)
		copy(out, r.items[:r.next])
		return out
	}
	out := make([]event.ParsedStreamEvent, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	out = append(out, r.items[:r.next]...)
	return out
}

// Len 返回当前持有的事件数。
func (r *EventRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.items)
	}
	return r.next
}

// Reset 清空缓冲区。
func (r *EventRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.full = false
}
