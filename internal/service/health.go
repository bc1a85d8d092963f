package service

import (
	"infantguard/internal/httpapi"
	"infantguard/internal/ingest"
)

// Health 健康检查来源（httpapi.HealthSource）
type Health struct {
	DBEnabled bool
	Consumer  *ingest.Consumer
	// MQTTConnected 探测函数；未接 MQTT（纯测试部署）时为 nil
	MQTTConnected func() bool
}

// Health 汇总当前健康状态
func (h *Health) Health() httpapi.HealthInfo {
	info := httpapi.HealthInfo{
		Status:    "ok",
		DBEnabled: h.DBEnabled,
	}
	if h.Consumer != nil {
		info.InvalidPositions, info.InvalidGates = h.Consumer.InvalidCounts()
	}
	if h.MQTTConnected != nil {
		info.MQTTConnected = h.MQTTConnected()
		if !info.MQTTConnected {
			info.Status = "degraded"
		}
	}
	return info
}
