package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

// ========================================
// defaultLogger 并发安全: 多 goroutine 读写不产生 data race
// ========================================

func TestDefaultLoggerConcurrentAccess(t *testing.T) {
	// 确保初始状态
	Init("production")

	var wg sync.WaitGroup
	const goroutines = 100

	// 启动读 goroutine (模拟多消费方并发日志)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Info("concurrent log message", "key", "value")
			_ = Get()
		}()
	}

	// 同时执行写操作 (模拟 Init 或 AttachDBHandler)
	wg.Add(1)
	go func() {
		defer wg.Done()
		Init("development")
	}()

	wg.Wait()
}

// TestGetReturnsCurrentLogger 验证 Get() 返回最新的 logger。
func TestGetReturnsCurrentLogger(t *testing.T) {
	Init("production")
	l := Get()
	if l == nil {
		t.Fatal("Get() returned nil")
	}
}

// ========================================
// 日志级别: LOG_LEVEL 语义必须生效
// ========================================

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{" Warn ", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"INFO", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

// TestInit_DebugLevelEnablesDebug LOG_LEVEL=DEBUG 后 Debug 日志必须可见。
func TestInit_DebugLevelEnablesDebug(t *testing.T) {
	defer Init("INFO")

	Init("INFO")
	if Get().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled at INFO level")
	}

	Init("DEBUG")
	if !Get().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled at DEBUG level")
	}
}

func TestInit_ErrorLevelSuppressesWarn(t *testing.T) {
	defer Init("INFO")

	Init("ERROR")
	if Get().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be disabled at ERROR level")
	}
}

// ========================================
// DurationMS 类型处理: int64 / int / float64 都应映射
// ========================================

func TestApplyAttrDurationMS_Int64(t *testing.T) {
	e := &LogEntry{}
	applyAttr(e, slog.Int64(FieldDurationMS, 42))
	if e.DurationMS == nil || *e.DurationMS != 42 {
		t.Errorf("int64: want DurationMS=42, got %v", e.DurationMS)
	}
}

func TestApplyAttrDurationMS_Int(t *testing.T) {
	e := &LogEntry{}
	applyAttr(e, slog.Any(FieldDurationMS, int(100)))
	if e.DurationMS == nil {
		t.Fatal("int: DurationMS should not be nil for int type")
	}
	if *e.DurationMS != 100 {
		t.Errorf("int: want DurationMS=100, got %d", *e.DurationMS)
	}
}

func TestApplyAttrDurationMS_Float64(t *testing.T) {
	e := &LogEntry{}
	applyAttr(e, slog.Any(FieldDurationMS, float64(99.7)))
	if e.DurationMS == nil {
		t.Fatal("float64: DurationMS should not be nil for float64 type")
	}
	if *e.DurationMS != 99 {
		t.Errorf("float64: want DurationMS=99, got %d", *e.DurationMS)
	}
}

// TestWithContextRoundTrip 验证 WithContext/FromContext 往返。
func TestWithContextRoundTrip(t *testing.T) {
	l := Get().With(FieldComponent, "stream")
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("FromContext did not return injected logger")
	}
}
