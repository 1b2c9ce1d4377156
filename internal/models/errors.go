package models

import (
	"errors"
	"fmt"
)

// 注册表层面的哨兵错误
var (
	ErrStrategyExists   = errors.New("strategy already exists for symbol")
	ErrStrategyNotFound = errors.New("strategy not found")
	ErrNotStopped       = errors.New("strategy must be stopped before deletion")
	ErrEngineStopped    = errors.New("engine is shutting down")
)

// ConfigError 表示策略参数校验失败，不可重试
type ConfigError struct {
	Reason string
}

func NewConfigError(reason string) *ConfigError {
	return &ConfigError{Reason: reason}
}

func (e *ConfigError) Error() string {
	return "invalid strategy config: " + e.Reason
}

// FatalInitError 表示初始化阶段的致命失败（如单格金额低于最小名义价值），
// 策略将停留在初始化失败状态，不再自动重试
type FatalInitError struct {
	Reason string
}

func (e *FatalInitError) Error() string {
	return "fatal initialization failure: " + e.Reason
}

// InsufficientFundsError 表示可用资金不足以启动策略
type InsufficientFundsError struct {
	Required  float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %.2f, available %.2f", e.Required, e.Available)
}

// RateLimitError 表示交易所返回了限流响应
type RateLimitError struct {
	Code int
	Msg  string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by exchange, code=%d, msg=%s", e.Code, e.Msg)
}

// IsRateLimit 判断错误链中是否包含限流错误
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsFatalInit 判断错误链中是否包含致命初始化错误
func IsFatalInit(err error) bool {
	var fe *FatalInitError
	return errors.As(err, &fe)
}
