package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"infantguard/internal/models"

	"go.uber.org/zap"
)

// SnapshotCache Redis 镜像缓存
// 最新位置、活跃报警写成普通键供只读消费方拉取；
// 位置/门禁/报警流量同时追加到 Redis stream 供外部系统回放。
// 缓存只是镜像：权威状态在内存组件里，写入失败记日志不反压管道。
type SnapshotCache struct {
	kv           KVStore
	tagPrefix    string
	tagTTL       time.Duration
	alertKey     string
	streamPrefix string
	logger       *zap.Logger
}

// NewSnapshotCache 创建镜像缓存
func NewSnapshotCache(kv KVStore, tagPrefix string, tagTTL time.Duration, alertKey, streamPrefix string, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		kv:           kv,
		tagPrefix:    tagPrefix,
		tagTTL:       tagTTL,
		alertKey:     alertKey,
		streamPrefix: streamPrefix,
		logger:       logger,
	}
}

// PutPosition 写入标签最新位置镜像并追加到 positions stream
func (c *SnapshotCache) PutPosition(ctx context.Context, p models.Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	key := c.tagPrefix + p.TagID + ":latest"
	if err := c.kv.Set(ctx, key, string(data), c.tagTTL); err != nil {
		return fmt.Errorf("failed to set position cache: %w", err)
	}

	if err := c.kv.XAdd(ctx, c.streamPrefix+"positions", map[string]interface{}{
		"tagId": p.TagID,
		"data":  string(data),
	}); err != nil {
		return fmt.Errorf("failed to append position stream: %w", err)
	}

	c.logger.Debug("updated position cache",
		zap.String("tag_id", p.TagID),
		zap.String("key", key),
	)
	return nil
}

// GetPosition 读取标签最新位置镜像
func (c *SnapshotCache) GetPosition(ctx context.Context, tagID string) (models.Position, error) {
	val, err := c.kv.Get(ctx, c.tagPrefix+tagID+":latest")
	if err != nil {
		return models.Position{}, err
	}
	var p models.Position
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return models.Position{}, fmt.Errorf("failed to unmarshal cached position: %w", err)
	}
	return p, nil
}

// PutGateEvent 追加门禁事件到 gates stream
func (c *SnapshotCache) PutGateEvent(ctx context.Context, ev models.GateEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal gate event: %w", err)
	}
	if err := c.kv.XAdd(ctx, c.streamPrefix+"gates", map[string]interface{}{
		"gateId": ev.GateID,
		"data":   string(data),
	}); err != nil {
		return fmt.Errorf("failed to append gate stream: %w", err)
	}
	return nil
}

// PutActiveAlerts 全量覆盖活跃报警镜像并追加最近一次变更到 alerts stream
// 报警集合小（活跃期个位数到两位数），整体覆盖比逐条同步简单且无残留
func (c *SnapshotCache) PutActiveAlerts(ctx context.Context, alerts []models.Alert, changed models.Alert) error {
	data, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal active alerts: %w", err)
	}
	if err := c.kv.Set(ctx, c.alertKey, string(data), 0); err != nil {
		return fmt.Errorf("failed to set alert cache: %w", err)
	}

	changedData, err := json.Marshal(changed)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := c.kv.XAdd(ctx, c.streamPrefix+"alerts", map[string]interface{}{
		"alertId": changed.AlertID,
		"data":    string(changedData),
	}); err != nil {
		return fmt.Errorf("failed to append alert stream: %w", err)
	}

	c.logger.Debug("updated alert cache",
		zap.String("alert_id", changed.AlertID),
		zap.Int("active_total", len(alerts)),
	)
	return nil
}

// RefreshActiveAlerts 仅覆盖活跃报警镜像，不追加 stream
// 周期对账用：总线允许丢消息，镜像靠这里兜底收敛
func (c *SnapshotCache) RefreshActiveAlerts(ctx context.Context, alerts []models.Alert) error {
	data, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal active alerts: %w", err)
	}
	if err := c.kv.Set(ctx, c.alertKey, string(data), 0); err != nil {
		return fmt.Errorf("failed to refresh alert cache: %w", err)
	}
	return nil
}

// GetActiveAlerts 读取活跃报警镜像
func (c *SnapshotCache) GetActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	val, err := c.kv.Get(ctx, c.alertKey)
	if err != nil {
		return nil, err
	}
	var alerts []models.Alert
	if err := json.Unmarshal([]byte(val), &alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached alerts: %w", err)
	}
	return alerts, nil
}
