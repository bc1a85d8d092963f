package models

import (
	"fmt"
	"time"
)

// ZoneType 区域安全分类
type ZoneType string

const (
	ZoneAuthorized ZoneType = "authorized"
	ZoneRestricted ZoneType = "restricted"
	ZoneExit       ZoneType = "exit"
)

// Point 楼层局部坐标系中的一个顶点
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Zone 地理围栏区域（管理端维护，管道只读）
type Zone struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Floor     string    `json:"floor"`
	Type      ZoneType  `json:"type"`
	Polygon   []Point   `json:"polygon"`
	Color     string    `json:"color,omitempty"`
	Allowlist []string  `json:"allowlist,omitempty"` // restricted 区域放行的 tagId
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate 区域定义校验：配置坏了要在装载时就失败，而不是静默跳过
func (z *Zone) Validate() error {
	if z.ID == "" {
		return &ConfigurationError{Entity: "zone", Reason: "id is required"}
	}
	if z.Floor == "" {
		return &ConfigurationError{Entity: "zone " + z.ID, Reason: "floor is required"}
	}
	switch z.Type {
	case ZoneAuthorized, ZoneRestricted, ZoneExit:
	default:
		return &ConfigurationError{Entity: "zone " + z.ID, Reason: fmt.Sprintf("unknown zone type %q", z.Type)}
	}
	if len(z.Polygon) < 3 {
		return &ConfigurationError{Entity: "zone " + z.ID, Reason: fmt.Sprintf("polygon needs at least 3 points, got %d", len(z.Polygon))}
	}
	return nil
}

// Allows 判断 tagId 是否在放行名单内
func (z *Zone) Allows(tagID string) bool {
	for _, id := range z.Allowlist {
		if id == tagID {
			return true
		}
	}
	return false
}
