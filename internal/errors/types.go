package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeBadRequest     ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"

	// 验证错误
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"

	// 业务逻辑错误
	ErrCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"

	// 数据库错误
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"

	// 嵌入/向量服务错误
	ErrCodeEmbeddingNotConfigured ErrorCode = "EMBEDDING_NOT_CONFIGURED"
	ErrCodeExternalService        ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeEmptyResponse          ErrorCode = "EMPTY_RESPONSE"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// AppError 应用错误结构体
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Type     ErrorType   `json:"type"`
	HTTPCode int         `json:"-"`
	Details  interface{} `json:"details,omitempty"`
	Cause    error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源未找到错误
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:     ErrCodeResourceNotFound,
		Message:  fmt.Sprintf("%s not found", resource),
		Type:     ErrorTypeBusiness,
		HTTPCode: http.StatusNotFound,
	}
}

// NewConfigurationError 创建嵌入服务配置错误（凭证或端点缺失）
func NewConfigurationError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeEmbeddingNotConfigured,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewUpstreamError 创建上游服务错误，保留上游状态信息
func NewUpstreamError(service string, status int, message string) *AppError {
	return &AppError{
		Code:     ErrCodeExternalService,
		Message:  fmt.Sprintf("%s returned %d: %s", service, status, message),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewEmptyResponseError 创建空响应错误（上游成功但无可用数据）
func NewEmptyResponseError(service string) *AppError {
	return &AppError{
		Code:     ErrCodeEmptyResponse,
		Message:  fmt.Sprintf("%s returned an empty response", service),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusInternalServerError,
	}
}

// IsAppError 检查是否为AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// IsNotFound 检查是否为资源未找到错误
func IsNotFound(err error) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.HTTPCode == http.StatusNotFound
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}
