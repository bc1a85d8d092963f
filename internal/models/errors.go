package models

import "fmt"

// ValidationError 入站数据校验失败（在 ingest 边界拒绝，不进入管道）
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ConfigurationError 参考数据配置非法（如多边形顶点不足），对管理员报错
type ConfigurationError struct {
	Entity string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Entity, e.Reason)
}

// OverloadError 入站队列已满，消息被拒绝（上游可按 QoS 重投）
type OverloadError struct {
	Queue string
}

func (e *OverloadError) Error() string {
	return fmt.Sprintf("queue %s is full", e.Queue)
}
