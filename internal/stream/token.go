package stream

import (
	"context"
	"os"
	"strings"

	apperrors "github.com/multi-agent/chat-stream/pkg/errors"
)

// TokenProvider 提供流连接的认证 token。
//
// SSE 传输将 token 放入 Authorization: Bearer 头;
// WebSocket 握手不便带自定义头, 放入 ?token= 查询参数。
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider 固定 token。
type StaticTokenProvider string

// Token 返回固定值。
func (p StaticTokenProvider) Token(_ context.Context) (string, error) {
	return string(p), nil
}

// EnvTokenProvider 每次连接时从环境变量读取 token (支持外部轮换)。
type EnvTokenProvider string

// Token 读取环境变量, 为空时返回 ErrUnauthorized。
func (p EnvTokenProvider) Token(_ context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(string(p)))
	if v == "" {
		return "", apperrors.Wrapf(apperrors.ErrUnauthorized,
			"EnvTokenProvider.Token", "env %s is empty", string(p))
	}
	return v, nil
}

// NoToken 无认证 (本地 mock 联调)。
type NoToken struct{}

// Token 返回空串。
func (NoToken) Token(_ context.Context) (string, error) { return "", nil }
