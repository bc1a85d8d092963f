package models

import "time"

// GateState 门禁当前状态
type GateState string

const (
	GateUnknown    GateState = "UNKNOWN"
	GateOpen       GateState = "OPEN"
	GateClosed     GateState = "CLOSED"
	GateForcedOpen GateState = "FORCED_OPEN"
	GateHeldOpen   GateState = "HELD_OPEN"
)

// Gate 门禁（参考数据 + 当前状态）
type Gate struct {
	ID              string    `json:"id"`
	GateID          string    `json:"gateId"`
	Name            string    `json:"name"`
	Floor           string    `json:"floor"`
	Zone            string    `json:"zone"`
	State           GateState `json:"state"`
	LastStateChange time.Time `json:"lastStateChange"`
	CameraID        string    `json:"cameraId,omitempty"`
}

// GateEventType 门禁事件类型
type GateEventType string

const (
	GateEventBadgeScan GateEventType = "badgeScan"
	GateEventState     GateEventType = "gateState"
	GateEventForced    GateEventType = "forced"
	GateEventHeldOpen  GateEventType = "heldOpen"
)

// BadgeResult 刷卡结果
type BadgeResult string

const (
	BadgeGranted BadgeResult = "GRANTED"
	BadgeDenied  BadgeResult = "DENIED"
)

// Direction 通行方向
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// GateEvent 门禁事件（append-only，不论是否触发报警都记录）
type GateEvent struct {
	ID            string        `json:"id"`
	GateID        string        `json:"gateId"`
	EventType     GateEventType `json:"eventType"`
	State         GateState     `json:"state,omitempty"`
	PreviousState GateState     `json:"previousState,omitempty"`
	BadgeID       string        `json:"badgeId,omitempty"`
	UserID        string        `json:"userId,omitempty"`
	Result        BadgeResult   `json:"result,omitempty"`
	Direction     Direction     `json:"direction,omitempty"`
	DurationMs    int64         `json:"durationMs,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}
