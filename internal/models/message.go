package models

import "time"

// MessageType 推送消息类型标签
type MessageType string

const (
	MessageInitial   MessageType = "initial"
	MessagePosition  MessageType = "position"
	MessageEvent     MessageType = "event"
	MessageAlert     MessageType = "alert"
	MessageHeartbeat MessageType = "heartbeat"
)

// StreamMessage 推送边界的带标签消息（按 Type 区分 Data 形状，
// 取代源系统里按 type 动态取字段的松散消息）
type StreamMessage interface {
	MessageType() MessageType
}

// InitialTagsMessage positions 频道的快照消息
type InitialTagsMessage struct {
	Type      MessageType `json:"type"`
	Data      []Tag       `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m InitialTagsMessage) MessageType() MessageType { return MessageInitial }

// InitialGatesMessage gates 频道的快照消息
type InitialGatesMessage struct {
	Type      MessageType `json:"type"`
	Data      []Gate      `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m InitialGatesMessage) MessageType() MessageType { return MessageInitial }

// InitialAlertsMessage alerts 频道的快照消息
type InitialAlertsMessage struct {
	Type      MessageType `json:"type"`
	Data      []Alert     `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m InitialAlertsMessage) MessageType() MessageType { return MessageInitial }

// PositionMessage 增量位置消息
type PositionMessage struct {
	Type      MessageType `json:"type"`
	Data      Position    `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m PositionMessage) MessageType() MessageType { return MessagePosition }

// GateEventMessage 增量门禁事件消息
type GateEventMessage struct {
	Type      MessageType `json:"type"`
	Data      GateEvent   `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m GateEventMessage) MessageType() MessageType { return MessageEvent }

// AlertMessage 增量报警消息（新建或状态变更都会推送）
type AlertMessage struct {
	Type      MessageType `json:"type"`
	Data      Alert       `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m AlertMessage) MessageType() MessageType { return MessageAlert }

// HeartbeatMessage 空闲保活消息
type HeartbeatMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m HeartbeatMessage) MessageType() MessageType { return MessageHeartbeat }

func NewPositionMessage(p Position, now time.Time) PositionMessage {
	return PositionMessage{Type: MessagePosition, Data: p, Timestamp: now}
}

func NewGateEventMessage(ev GateEvent, now time.Time) GateEventMessage {
	return GateEventMessage{Type: MessageEvent, Data: ev, Timestamp: now}
}

func NewAlertMessage(a Alert, now time.Time) AlertMessage {
	return AlertMessage{Type: MessageAlert, Data: a, Timestamp: now}
}
