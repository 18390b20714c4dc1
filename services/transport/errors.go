package transport

import (
	"errors"
	"fmt"
)

// AdapterError 适配器层统一的错误信封：kind 判别 + 提供方细节。
// 控制器按 Kind 决定恢复策略（复用邀请、幂等撤销）或带注解上抛。
type AdapterError struct {
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Status  int                    `json:"status,omitempty"`
}

func (e *AdapterError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewAdapterError 构造一个适配器错误
func NewAdapterError(kind, message string) *AdapterError {
	return &AdapterError{Kind: kind, Message: message}
}

// WithStatus 附带上游状态码
func (e *AdapterError) WithStatus(status int) *AdapterError {
	e.Status = status
	return e
}

// WithDetail 附带一项提供方细节
func (e *AdapterError) WithDetail(key string, value interface{}) *AdapterError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsAdapterError 从错误链中提取适配器错误
func AsAdapterError(err error) (*AdapterError, bool) {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsKind 错误链中是否含指定 kind 的适配器错误
func IsKind(err error, kind string) bool {
	if ae, ok := AsAdapterError(err); ok {
		return ae.Kind == kind
	}
	return false
}
