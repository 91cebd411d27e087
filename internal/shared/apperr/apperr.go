// Package apperr 定义业务错误分类
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// 错误码
const (
	CodeNotFound              = "NOT_FOUND"
	CodePreconditionViolation = "PRECONDITION_VIOLATION"
	CodeInvalidArgument       = "INVALID_ARGUMENT"
	CodeConfigurationGap      = "CONFIGURATION_GAP"
	CodeConflict              = "CONFLICT"
	CodeInternal              = "INTERNAL_ERROR"
)

// Error 业务错误
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"-"`
	Cause      error             `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail 添加单个详情
func (e *Error) WithDetail(key, value string) *Error {
	newErr := *e
	newErr.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		newErr.Details[k] = v
	}
	newErr.Details[key] = value
	return &newErr
}

// WithCause 附加底层错误
func (e *Error) WithCause(cause error) *Error {
	newErr := *e
	newErr.Cause = cause
	return &newErr
}

// 哨兵错误，用于 errors.Is 判断分类
var (
	ErrNotFound              = &Error{Code: CodeNotFound, Message: "资源不存在", HTTPStatus: http.StatusNotFound}
	ErrPreconditionViolation = &Error{Code: CodePreconditionViolation, Message: "状态前置条件不满足", HTTPStatus: http.StatusConflict}
	ErrInvalidArgument       = &Error{Code: CodeInvalidArgument, Message: "参数无效", HTTPStatus: http.StatusBadRequest}
	ErrConfigurationGap      = &Error{Code: CodeConfigurationGap, Message: "缺少必要配置", HTTPStatus: http.StatusUnprocessableEntity}
	ErrConflict              = &Error{Code: CodeConflict, Message: "数据已被并发修改", HTTPStatus: http.StatusConflict}
)

func newf(base *Error, format string, args ...interface{}) *Error {
	return &Error{
		Code:       base.Code,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: base.HTTPStatus,
	}
}

// NotFound 资源不存在
func NotFound(entity, id string) *Error {
	return newf(ErrNotFound, "%s不存在: %s", entity, id).WithDetail("entity", entity)
}

// Precondition 状态守卫失败
func Precondition(format string, args ...interface{}) *Error {
	return newf(ErrPreconditionViolation, format, args...)
}

// InvalidArgument 参数无效
func InvalidArgument(format string, args ...interface{}) *Error {
	return newf(ErrInvalidArgument, format, args...)
}

// ConfigurationGap 配置缺失
func ConfigurationGap(format string, args ...interface{}) *Error {
	return newf(ErrConfigurationGap, format, args...)
}

// Conflict 乐观锁冲突
func Conflict(format string, args ...interface{}) *Error {
	return newf(ErrConflict, format, args...)
}

// CodeOf 返回错误码，非业务错误返回 INTERNAL_ERROR
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatusOf 返回错误对应的HTTP状态码
func HTTPStatusOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// MessageOf 返回面向调用方的错误消息
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// IsNotFound 是否资源不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPrecondition 是否状态守卫失败
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPreconditionViolation)
}
