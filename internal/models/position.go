package models

import (
	"fmt"
	"time"
)

// AssetType 标签佩戴者类型
type AssetType string

const (
	AssetInfant    AssetType = "infant"
	AssetMother    AssetType = "mother"
	AssetStaff     AssetType = "staff"
	AssetEquipment AssetType = "equipment"
)

// Position RTLS 网关上报的位置记录（不可变，只会被更新的记录取代）
type Position struct {
	TagID      string    `json:"tagId"`
	AssetType  AssetType `json:"assetType"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Z          float64   `json:"z"`
	Floor      string    `json:"floor"`
	Accuracy   float64   `json:"accuracy"`
	BatteryPct int       `json:"batteryPct"`
	GatewayID  string    `json:"gatewayId,omitempty"`
	RSSI       int       `json:"rssi,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	SequenceID int64     `json:"sequenceId"`
}

// NewerThan 判断本记录是否应取代 prev
// 有 sequenceId 时按 sequenceId 严格递增；否则退回时间戳比较
func (p *Position) NewerThan(prev *Position) bool {
	if prev == nil {
		return true
	}
	if p.SequenceID > 0 || prev.SequenceID > 0 {
		return p.SequenceID > prev.SequenceID
	}
	return p.Timestamp.After(prev.Timestamp)
}

// Validate 入站校验：不合法的记录不进入管道
func (p *Position) Validate() error {
	if p.TagID == "" {
		return &ValidationError{Field: "tagId", Reason: "required"}
	}
	switch p.AssetType {
	case AssetInfant, AssetMother, AssetStaff, AssetEquipment:
	default:
		return &ValidationError{Field: "assetType", Reason: fmt.Sprintf("unknown asset type %q", p.AssetType)}
	}
	if p.Floor == "" {
		return &ValidationError{Field: "floor", Reason: "required"}
	}
	if p.BatteryPct < 0 || p.BatteryPct > 100 {
		return &ValidationError{Field: "batteryPct", Reason: "out of range"}
	}
	if p.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "required"}
	}
	return nil
}
