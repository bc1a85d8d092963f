package models

import "time"

// TagStatus 标签派生状态
type TagStatus string

const (
	TagActive     TagStatus = "active"
	TagInactive   TagStatus = "inactive"
	TagAlert      TagStatus = "alert"
	TagLowBattery TagStatus = "low_battery"
)

// Tag 标签最新状态视图（由 TagStore 派生，不单独持久化）
type Tag struct {
	TagID          string    `json:"tagId"`
	AssetType      AssetType `json:"assetType"`
	LatestPosition *Position `json:"latestPosition"`
	Status         TagStatus `json:"status"`
}

// StatusFor 派生标签状态（batteryPct 与最后更新时间的纯函数）
// 低电量优先于活跃/失联判断
func StatusFor(p *Position, now time.Time, staleness time.Duration, lowBatteryPct int) TagStatus {
	if p == nil {
		return TagInactive
	}
	if p.BatteryPct < lowBatteryPct {
		return TagLowBattery
	}
	if now.Sub(p.Timestamp) > staleness {
		return TagInactive
	}
	return TagActive
}
