package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 统一管理业务错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError // 默认返回服务器错误
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "服务器内部错误"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 校验相关 11000-11999
	CodeInvalidParams    = 11001
	CodeEmptyContent     = 11002
	CodeInvalidMediaURL  = 11003
	CodeMalformedPacket  = 11004
	CodeInvalidCursor    = 11005
	CodeUnknownEventKind = 11006

	// 权限相关 12000-12999
	CodeNotParticipant   = 12001
	CodeNotSender        = 12002
	CodeTokenInvalid     = 12003
	CodeTokenExpired     = 12004
	CodeNotAuthed        = 12005
	CodeCapabilityDenied = 12006

	// 资源相关 13000-13999
	CodeMessageNotFound      = 13001
	CodeConversationNotFound = 13002
	CodeUserNotFound         = 13003

	// 系统错误 50000-50999
	CodeServerError    = 50001
	CodeDBError        = 50002
	CodeUpstreamError  = 50003
	CodeChannelClosed  = 50004
	CodeDispatchFailed = 50005
)

// ============== 预定义错误 ==============

// 校验相关
var (
	ErrInvalidParams    = NewError(CodeInvalidParams, "参数校验失败")
	ErrEmptyContent     = NewError(CodeEmptyContent, "消息内容不能为空")
	ErrInvalidMediaURL  = NewError(CodeInvalidMediaURL, "媒体消息必须携带有效的 URL")
	ErrMalformedPacket  = NewError(CodeMalformedPacket, "无法解析的数据包")
	ErrInvalidCursor    = NewError(CodeInvalidCursor, "分页游标无效")
	ErrUnknownEventKind = NewError(CodeUnknownEventKind, "未知的事件类型")
)

// 权限相关
var (
	ErrNotParticipant   = NewError(CodeNotParticipant, "不是该会话的成员")
	ErrNotSender        = NewError(CodeNotSender, "只有发送者可以操作该消息")
	ErrTokenInvalid     = NewError(CodeTokenInvalid, "Token 无效")
	ErrTokenExpired     = NewError(CodeTokenExpired, "Token 已过期")
	ErrNotAuthed        = NewError(CodeNotAuthed, "通道尚未完成认证")
	ErrCapabilityDenied = NewError(CodeCapabilityDenied, "没有成员管理权限")
)

// 资源相关
var (
	ErrMessageNotFound      = NewError(CodeMessageNotFound, "消息不存在")
	ErrConversationNotFound = NewError(CodeConversationNotFound, "会话不存在")
	ErrUserNotFound         = NewError(CodeUserNotFound, "用户不存在")
)

// 系统相关
var (
	ErrServerError    = NewError(CodeServerError, "服务器内部错误")
	ErrDBError        = NewError(CodeDBError, "数据库错误")
	ErrUpstreamError  = NewError(CodeUpstreamError, "上游服务不可用")
	ErrChannelClosed  = NewError(CodeChannelClosed, "通道已关闭")
	ErrDispatchFailed = NewError(CodeDispatchFailed, "事件分发失败")
)

// ============== 错误分类 ==============

// IsValidation 是否为校验类错误
func IsValidation(err error) bool {
	code := GetCode(err)
	return code >= 11000 && code < 12000
}

// IsForbidden 是否为权限类错误
func IsForbidden(err error) bool {
	code := GetCode(err)
	return code >= 12000 && code < 13000
}

// IsNotFound 是否为资源不存在类错误
func IsNotFound(err error) bool {
	code := GetCode(err)
	return code >= 13000 && code < 14000
}

// IsUpstream 是否为系统/上游类错误（可重试）
func IsUpstream(err error) bool {
	code := GetCode(err)
	return code >= 50000 && code < 51000
}
