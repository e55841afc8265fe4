// Package errors 提供统一错误类型与哨兵错误。
//
// 本包为 chat-stream 精简版:
//   - L1 哨兵错误: ErrAborted / ErrDecode / ErrNetwork 等, 流式链路按类型区分故障
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
//
// 取消 (ErrAborted) 与网络故障 (ErrNetwork) 必须通过 errors.Is 区分,
// 禁止靠解析错误消息文本判断。
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrAborted 调用方主动取消 (关闭视图 / 切换会话)。永不重试, 不向用户报错。
	ErrAborted = errors.New("aborted")

	// ErrDecode 帧解码失败。跳过该帧继续消费, 永不致命。
	ErrDecode = errors.New("decode error")

	// ErrNetwork 网络故障 (连接断开 / 非 2xx 响应)。可重试。
	ErrNetwork = errors.New("network error")

	// ErrRetriesExhausted 重连次数耗尽, 终态错误。
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrClosed 在已关闭的连接/存储上继续操作。
	ErrClosed = errors.New("already closed")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized 未授权 (token 缺失或被拒)
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrInternal 内部错误
	ErrInternal = errors.New("internal error")
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "Client.Connect"
	Code    string // 错误码，如 "NETWORK"、"DECODE"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsAbort 判断错误链中是否存在取消信号 (ErrAborted 或 context 取消)。
//
// 连接管理器用它区分 "用户取消" 与 "网络故障": 前者不重试不报错, 后者进重试循环。
func IsAbort(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}
