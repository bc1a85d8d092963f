package service

import (
	"time"

	"infantguard/internal/models"
	"infantguard/internal/transport"
)

// Snapshots 推送频道的 initial 快照源（transport.SnapshotSource）
type Snapshots struct {
	pipeline *Pipeline
}

// NewSnapshots 创建快照源
func NewSnapshots(p *Pipeline) *Snapshots {
	return &Snapshots{pipeline: p}
}

// InitialMessage 某个频道的全量快照
func (s *Snapshots) InitialMessage(ch transport.Channel) models.StreamMessage {
	now := time.Now()
	switch ch {
	case transport.ChannelPositions:
		return models.InitialTagsMessage{
			Type:      models.MessageInitial,
			Data:      s.pipeline.store.All(""),
			Timestamp: now,
		}
	case transport.ChannelGates:
		return models.InitialGatesMessage{
			Type:      models.MessageInitial,
			Data:      s.pipeline.gates.Gates(""),
			Timestamp: now,
		}
	default:
		return models.InitialAlertsMessage{
			Type:      models.MessageInitial,
			Data:      s.pipeline.alerts.Active("", nil),
			Timestamp: now,
		}
	}
}
