package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code 是调用方可见的错误分类。
type Code string

const (
	NotFound   Code = "not_found"
	Forbidden  Code = "forbidden"
	Conflict   Code = "conflict"
	Invalid    Code = "invalid"
	SelfTarget Code = "self_target"
)

// status 将错误分类映射为类 HTTP 状态码。
var status = map[Code]int{
	NotFound:   http.StatusNotFound,
	Forbidden:  http.StatusForbidden,
	Conflict:   http.StatusConflict,
	Invalid:    http.StatusBadRequest,
	SelfTarget: http.StatusUnprocessableEntity,
}

// Error is the typed error returned by the service layer.
// Message is safe to show to end users; Err carries the underlying cause for logs only.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns a copy of e that carries err as its cause.
func (e *Error) Wrap(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Status: e.Status, Err: err}
}

// New creates an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Status: status[code]}
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) *Error {
	return New(Forbidden, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

func Invalidf(format string, args ...any) *Error {
	return New(Invalid, fmt.Sprintf(format, args...))
}

func SelfTargetf(format string, args ...any) *Error {
	return New(SelfTarget, fmt.Sprintf(format, args...))
}

// CodeOf returns the code of the first *Error in err's chain, or "" for unexpected errors.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// StatusOf returns the http-like status for err; unexpected errors report 500.
func StatusOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
