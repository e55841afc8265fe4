package bus

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// ========================================
// MessageBus 测试
// ========================================

func TestPublishSubscribe(t *testing.T) {
	b := NewMessageBus()
	sub := b.Subscribe("s1", "session.c1")

	b.Publish(Message{
		Topic:   SessionTopic("c1", KindMessages),
		From:    "session",
		Type:    MsgStateUpdate,
		Payload: json.RawMessage(`{"kind":"messages"}`),
	})

	select {
	case msg := <-sub.Ch:
		if msg.Topic != "session.c1.messages" {
			t.Errorf("topic = %q, want session.c1.messages", msg.Topic)
		}
		if msg.Seq != 1 {
			t.Errorf("seq = %d, want 1", msg.Seq)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestTopicFiltering(t *testing.T) {
	b := NewMessageBus()
	subA := b.Subscribe("sa", "session.c1")
	subB := b.Subscribe("sb", "session.c2")
	subAll := b.Subscribe("sall", "*")

	b.Publish(Message{Topic: "session.c1.phase", Type: MsgStateUpdate})

	// subA should receive
	select {
	case <-subA.Ch:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("subA should receive session.c1.phase")
	}

	// subB should NOT receive
	select {
	case <-subB.Ch:
		t.Fatal("subB should not receive session.c1.phase")
	case <-time.After(50 * time.Millisecond):
	}

	// subAll should receive (wildcard)
	select {
	case <-subAll.Ch:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("subAll should receive with '*' filter")
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"*", "anything", true},
		{"*", "session.c1.messages", true},
		{"session.c1", "session.c1", true},
		{"session.c1", "session.c1.messages", true},
		{"session.c1", "session.c1.phase", true},
		{"session.c1", "session.c2.messages", false},
		{"session.c1", "session.c1x", false},
		{"system", "system", true},
		{"system", "system.health", true},
		{"system", "session.c1", false},
		{"stream.", "stream.c1.open", true},
		{"stream.", "session.c1.messages", false},
	}
	for _, tc := range tests {
		got := matchTopic(tc.filter, tc.topic)
		if got != tc.want {
			t.Errorf("matchTopic(%q, %q) = %v, want %v", tc.filter, tc.topic, got, tc.want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewMessageBus()
	b.Subscribe("s1", "*")
	if b.SubscriberCount() != 1 {
		t.Fatalf("count = %d, want 1", b.SubscriberCount())
	}
	b.Unsubscribe("s1")
	if b.SubscriberCount() != 0 {
		t.Fatalf("count = %d, want 0", b.SubscriberCount())
	}
}

func TestOnPublishCallback(t *testing.T) {
	b := NewMessageBus()
	var captured Message
	b.SetOnPublish(func(msg Message) {
		captured = msg
	})

	b.Publish(Message{Topic: "test", Type: "ping"})

	if captured.Topic != "test" {
		t.Errorf("captured topic = %q, want test", captured.Topic)
	}
}

func TestSeq(t *testing.T) {
	b := NewMessageBus()
	b.Publish(Message{Topic: "t1"})
	b.Publish(Message{Topic: "t2"})
	b.Publish(Message{Topic: "t3"})
	if b.Seq() != 3 {
		t.Errorf("seq = %d, want 3", b.Seq())
	}
}

// TestPublishConcurrentSeqOrder 验证并发 Publish 下 seq 唯一且无丢失。
//
// 50 个 goroutine 同时 Publish (channel 容量 64), 订阅者收到的 seq 不得重复。
func TestPublishConcurrentSeqOrder(t *testing.T) {
	b := NewMessageBus()
	sub := b.Subscribe("order-check", "*")

	const n = 50
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		go func() {
			b.Publish(Message{Topic: "concurrent", Type: "test"})
		}()
	}

	go func() {
		received := make([]int64, 0, n)
		for i := 0; i < n; i++ {
			msg := <-sub.Ch
			received = append(received, msg.Seq)
		}

		// 验证 seq 唯一 (无重复)
		seen := make(map[int64]bool)
		for _, s := range received {
			if seen[s] {
				t.Errorf("duplicate seq %d", s)
			}
			seen[s] = true
		}

		if len(seen) != n {
			t.Errorf("expected %d unique seq, got %d", n, len(seen))
		}

		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for concurrent messages")
	}
}

// TestPublish_DoesNotBlockSubscribe 验证 fan-out 期间不阻塞 Subscribe/Unsubscribe。
func TestPublish_DoesNotBlockSubscribe(t *testing.T) {
	b := NewMessageBus()

	const iterations = 500
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			b.Publish(Message{Topic: "stress", Type: "test"})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			id := "temp-sub"
			sub := b.Subscribe(id, "*")
			_ = sub.Ch
			b.Unsubscribe(id)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			_ = b.SubscriberCount()
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("DEADLOCK: Publish + Subscribe/Unsubscribe concurrent access timed out")
	}

	if b.Seq() != int64(iterations) {
		t.Errorf("seq = %d, want %d", b.Seq(), iterations)
	}
}

// TestSeq_ConcurrentReadsDoNotBlockPublish 验证 Seq()/SubscriberCount() 只读不阻塞 Publish。
func TestSeq_ConcurrentReadsDoNotBlockPublish(t *testing.T) {
	b := NewMessageBus()

	const n = 1000
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			b.Publish(Message{Topic: "seq-test", Type: "ping"})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n*10; i++ {
			_ = b.Seq()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n*10; i++ {
			_ = b.SubscriberCount()
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("TIMEOUT: concurrent Seq()/SubscriberCount() blocked by Publish")
	}

	if b.Seq() != n {
		t.Errorf("seq = %d, want %d", b.Seq(), n)
	}
}
