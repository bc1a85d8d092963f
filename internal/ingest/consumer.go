package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"infantguard/internal/models"

	"go.uber.org/zap"
)

const (
	// TopicPositions RTLS 网关位置上报主题
	TopicPositions = "hospital/rtls/positions"
	// TopicGateEvents 门禁控制器事件主题（+ 为 gateId）
	TopicGateEvents = "hospital/gates/+/events"
)

// GateMessage 门禁控制器上报的一条事件（已从主题解析出 gateId）
type GateMessage struct {
	GateID    string
	EventType models.GateEventType
	State     models.GateState
	BadgeID   string
	UserID    string
	Result    models.BadgeResult
	Direction models.Direction
	Timestamp time.Time
}

// Sink 接收解析后的入站记录（由管道实现，满了返回错误）
type Sink interface {
	SubmitPosition(p models.Position) error
	SubmitGateEvent(ev GateMessage) error
}

// Subscriber 订阅抽象（生产环境是 MQTT Client，测试里直接调 handler）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// Consumer 入站消费者：订阅网关主题，解析并校验后交给管道
// 坏消息丢弃并计数，绝不让一条坏记录拖垮订阅
type Consumer struct {
	sink   Sink
	logger *zap.Logger

	invalidPositions atomic.Int64
	invalidGates     atomic.Int64
}

// NewConsumer 创建入站消费者
func NewConsumer(sink Sink, logger *zap.Logger) *Consumer {
	return &Consumer{
		sink:   sink,
		logger: logger,
	}
}

// Start 订阅两个入站主题
func (c *Consumer) Start(sub Subscriber, qos byte) error {
	if err := sub.Subscribe(TopicPositions, qos, c.HandlePositionMessage); err != nil {
		return err
	}
	if err := sub.Subscribe(TopicGateEvents, qos, c.HandleGateMessage); err != nil {
		return err
	}
	return nil
}

// HandlePositionMessage 处理一条位置上报
func (c *Consumer) HandlePositionMessage(topic string, payload []byte) error {
	var p models.Position
	if err := json.Unmarshal(payload, &p); err != nil {
		c.invalidPositions.Add(1)
		c.logger.Warn("dropping malformed position payload",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}
	if err := p.Validate(); err != nil {
		c.invalidPositions.Add(1)
		c.logger.Warn("dropping invalid position",
			zap.String("tag_id", p.TagID),
			zap.Error(err),
		)
		return nil
	}
	return c.sink.SubmitPosition(p)
}

// gateEventPayload 门禁控制器的线格式
type gateEventPayload struct {
	EventType string    `json:"eventType"`
	State     string    `json:"state,omitempty"`
	BadgeID   string    `json:"badgeId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Result    string    `json:"result,omitempty"`
	Direction string    `json:"direction,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HandleGateMessage 处理一条门禁事件上报
func (c *Consumer) HandleGateMessage(topic string, payload []byte) error {
	gateID, err := GateIDFromTopic(topic)
	if err != nil {
		c.invalidGates.Add(1)
		c.logger.Warn("dropping gate message with bad topic",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}

	var raw gateEventPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		c.invalidGates.Add(1)
		c.logger.Warn("dropping malformed gate payload",
			zap.String("gate_id", gateID),
			zap.Error(err),
		)
		return nil
	}

	msg, err := parseGateEvent(gateID, raw)
	if err != nil {
		c.invalidGates.Add(1)
		c.logger.Warn("dropping invalid gate event",
			zap.String("gate_id", gateID),
			zap.Error(err),
		)
		return nil
	}
	return c.sink.SubmitGateEvent(msg)
}

// InvalidCounts 被丢弃的坏消息计数（health 端点暴露）
func (c *Consumer) InvalidCounts() (positions, gates int64) {
	return c.invalidPositions.Load(), c.invalidGates.Load()
}

// GateIDFromTopic 从 hospital/gates/<gateId>/events 提取 gateId
func GateIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "hospital" || parts[1] != "gates" || parts[3] != "events" {
		return "", fmt.Errorf("unexpected gate topic %q", topic)
	}
	if parts[2] == "" {
		return "", fmt.Errorf("empty gate id in topic %q", topic)
	}
	return parts[2], nil
}

func parseGateEvent(gateID string, raw gateEventPayload) (GateMessage, error) {
	if raw.Timestamp.IsZero() {
		return GateMessage{}, &models.ValidationError{Field: "timestamp", Reason: "required"}
	}

	msg := GateMessage{
		GateID:    gateID,
		Timestamp: raw.Timestamp,
	}

	switch models.GateEventType(raw.EventType) {
	case models.GateEventBadgeScan:
		msg.EventType = models.GateEventBadgeScan
		if raw.BadgeID == "" {
			return GateMessage{}, &models.ValidationError{Field: "badgeId", Reason: "required for badgeScan"}
		}
		switch models.BadgeResult(raw.Result) {
		case models.BadgeGranted, models.BadgeDenied:
			msg.Result = models.BadgeResult(raw.Result)
		default:
			return GateMessage{}, &models.ValidationError{Field: "result", Reason: fmt.Sprintf("unknown badge result %q", raw.Result)}
		}
		switch models.Direction(raw.Direction) {
		case models.DirectionIn, models.DirectionOut, "":
			msg.Direction = models.Direction(raw.Direction)
		default:
			return GateMessage{}, &models.ValidationError{Field: "direction", Reason: fmt.Sprintf("unknown direction %q", raw.Direction)}
		}
		msg.BadgeID = raw.BadgeID
		msg.UserID = raw.UserID

	case models.GateEventState:
		msg.EventType = models.GateEventState
		switch models.GateState(raw.State) {
		case models.GateOpen, models.GateClosed:
			msg.State = models.GateState(raw.State)
		default:
			return GateMessage{}, &models.ValidationError{Field: "state", Reason: fmt.Sprintf("unreportable gate state %q", raw.State)}
		}

	default:
		return GateMessage{}, &models.ValidationError{Field: "eventType", Reason: fmt.Sprintf("unknown gate event type %q", raw.EventType)}
	}

	return msg, nil
}
