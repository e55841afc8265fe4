// util_test.go — ClampInt / Env 读取 / LoadFromEnv 表驱动测试。
package util

import "testing"

func TestClampInt(t *testing.T) {
	tests := []struct {
		name      string
		v, lo, hi int
		want      int
	}{
		{"below_min", -1, 0, 10, 0},
		{"above_max", 20, 0, 10, 10},
		{"in_range", 5, 0, 10, 5},
		{"at_min", 0, 0, 10, 0},
		{"at_max", 10, 0, 10, 10},
		{"negative_range", -5, -10, -1, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampInt(tt.v, tt.lo, tt.hi)
			if got != tt.want {
				t.Errorf("ClampInt(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
			}
		})
	}
}

func TestClampFloat(t *testing.T) {
	if got := ClampFloat(150, 0, 100); got != 100 {
		t.Errorf("ClampFloat(150, 0, 100) = %v, want 100", got)
	}
	if got := ClampFloat(-5, 0, 100); got != 0 {
		t.Errorf("ClampFloat(-5, 0, 100) = %v, want 0", got)
	}
	if got := ClampFloat(42.5, 0, 100); got != 42.5 {
		t.Errorf("ClampFloat(42.5, 0, 100) = %v, want 42.5", got)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "7")
	if got := EnvInt("TEST_ENV_INT", 3, 0); got != 7 {
		t.Errorf("EnvInt = %d, want 7", got)
	}
	// 无效值回退默认
	t.Setenv("TEST_ENV_INT", "abc")
	if got := EnvInt("TEST_ENV_INT", 3, 0); got != 3 {
		t.Errorf("EnvInt invalid = %d, want 3", got)
	}
	// 小于 min 提升到 min
	t.Setenv("TEST_ENV_INT", "-2")
	if got := EnvInt("TEST_ENV_INT", 3, 0); got != 0 {
		t.Errorf("EnvInt below min = %d, want 0", got)
	}
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		raw  string
		def  bool
		want bool
	}{
		{"1", false, true},
		{"true", false, true},
		{"on", false, true},
		{"0", true, false},
		{"no", true, false},
		{"garbage", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Setenv("TEST_ENV_BOOL", tt.raw)
		if got := EnvBool("TEST_ENV_BOOL", tt.def); got != tt.want {
			t.Errorf("EnvBool(%q, %v) = %v, want %v", tt.raw, tt.def, got, tt.want)
		}
	}
}

func TestLoadFromEnv(t *testing.T) {
	type cfg struct {
		Name    string  `env:"TEST_LFE_NAME" default:"anon"`
		Retries int     `env:"TEST_LFE_RETRIES" default:"3" min:"0"`
		Ratio   float64 `env:"TEST_LFE_RATIO" default:"0.5" min:"0"`
		Flag    bool    `env:"TEST_LFE_FLAG" default:"true"`
		Skipped string  // 无 env tag, 不触碰
	}

	t.Setenv("TEST_LFE_NAME", "streamer")
	t.Setenv("TEST_LFE_RETRIES", "5")

	var c cfg
	c.Skipped = "keep"
	LoadFromEnv(&c)

	if c.Name != "streamer" {
		t.Errorf("Name = %q, want streamer", c.Name)
	}
	if c.Retries != 5 {
		t.Errorf("Retries = %d, want 5", c.Retries)
	}
	if c.Ratio != 0.5 {
		t.Errorf("Ratio = %v, want default 0.5", c.Ratio)
	}
	if !c.Flag {
		t.Error("Flag = false, want default true")
	}
	if c.Skipped != "keep" {
		t.Errorf("Skipped = %q, want untouched", c.Skipped)
	}
}

func TestToMapAny(t *testing.T) {
	// map 原样返回
	m := map[string]any{"a": 1}
	if got := ToMapAny(m); len(got) != 1 {
		t.Errorf("ToMapAny(map) = %v", got)
	}
	// struct 经 JSON 转换
	type payload struct {
		Delta string `json:"delta"`
	}
	got := ToMapAny(payload{Delta: "hi"})
	if got["delta"] != "hi" {
		t.Errorf("ToMapAny(struct)[delta] = %v, want hi", got["delta"])
	}
	// 不可序列化 → 空 map
	if got := ToMapAny(func() {}); len(got) != 0 {
		t.Errorf("ToMapAny(func) = %v, want empty", got)
	}
}
