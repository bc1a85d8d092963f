package service

import (
	"context"
	"time"

	"infantguard/internal/bus"
	"infantguard/internal/cache"
	"infantguard/internal/models"

	"go.uber.org/zap"
)

// PositionWriter 位置历史写入
type PositionWriter interface {
	InsertPosition(ctx context.Context, p *models.Position) error
}

// GateEventWriter 门禁事件历史写入
type GateEventWriter interface {
	InsertGateEvent(ctx context.Context, ev *models.GateEvent) error
}

// AlertWriter 报警历史写入
type AlertWriter interface {
	UpsertAlert(ctx context.Context, a *models.Alert) error
	MarkDismissed(ctx context.Context, alertID string, dismissedAt time.Time) error
}

// ActiveAlertLister 活跃报警全量（刷新 Redis 镜像用）
type ActiveAlertLister interface {
	Active(severity models.Severity, acknowledged *bool) []models.Alert
}

// Writer 写穿 worker：订阅总线，把提交后的事件落到 Postgres 和 Redis
// 持久化在热路径之外：写失败记日志丢弃，不反压管道也不影响推送
type Writer struct {
	positions PositionWriter
	events    GateEventWriter
	alerts    AlertWriter
	active    ActiveAlertLister
	cache     *cache.SnapshotCache

	bus    *bus.Bus
	logger *zap.Logger
}

// NewWriter 创建写穿 worker；DB 关闭时 repo 参数传 nil，Redis 关闭时 cache 传 nil
func NewWriter(
	positions PositionWriter,
	events GateEventWriter,
	alerts AlertWriter,
	active ActiveAlertLister,
	snapshotCache *cache.SnapshotCache,
	b *bus.Bus,
	logger *zap.Logger,
) *Writer {
	return &Writer{
		positions: positions,
		events:    events,
		alerts:    alerts,
		active:    active,
		cache:     snapshotCache,
		bus:       b,
		logger:    logger,
	}
}

// Run 消费三个主题直到 ctx 取消
func (w *Writer) Run(ctx context.Context) {
	posSub := w.bus.Subscribe(bus.TopicPositions, 2048)
	gateSub := w.bus.Subscribe(bus.TopicGates, 512)
	alertSub := w.bus.Subscribe(bus.TopicAlerts, 512)

	defer func() {
		posSub.Close()
		gateSub.Close()
		alertSub.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-posSub.C():
			if !ok {
				return
			}
			if p, ok := msg.(models.Position); ok {
				w.writePosition(ctx, p)
			}
		case msg, ok := <-gateSub.C():
			if !ok {
				return
			}
			if ev, ok := msg.(models.GateEvent); ok {
				w.writeGateEvent(ctx, ev)
			}
		case msg, ok := <-alertSub.C():
			if !ok {
				return
			}
			if a, ok := msg.(models.Alert); ok {
				w.writeAlert(ctx, a)
			}
		}
	}
}

func (w *Writer) writePosition(ctx context.Context, p models.Position) {
	if w.positions != nil {
		if err := w.positions.InsertPosition(ctx, &p); err != nil {
			w.logger.Error("failed to persist position",
				zap.String("tag_id", p.TagID),
				zap.Error(err),
			)
		}
	}
	if w.cache != nil {
		if err := w.cache.PutPosition(ctx, p); err != nil {
			w.logger.Warn("failed to mirror position to cache",
				zap.String("tag_id", p.TagID),
				zap.Error(err),
			)
		}
	}
}

func (w *Writer) writeGateEvent(ctx context.Context, ev models.GateEvent) {
	if w.events != nil {
		if err := w.events.InsertGateEvent(ctx, &ev); err != nil {
			w.logger.Error("failed to persist gate event",
				zap.String("gate_id", ev.GateID),
				zap.Error(err),
			)
		}
	}
	if w.cache != nil {
		if err := w.cache.PutGateEvent(ctx, ev); err != nil {
			w.logger.Warn("failed to mirror gate event to cache",
				zap.String("gate_id", ev.GateID),
				zap.Error(err),
			)
		}
	}
}

func (w *Writer) writeAlert(ctx context.Context, a models.Alert) {
	if w.alerts != nil {
		if err := w.alerts.UpsertAlert(ctx, &a); err != nil {
			w.logger.Error("failed to persist alert",
				zap.String("alert_id", a.AlertID),
				zap.Error(err),
			)
		} else if a.DismissedAt != nil {
			if err := w.alerts.MarkDismissed(ctx, a.AlertID, *a.DismissedAt); err != nil {
				w.logger.Warn("failed to mark alert dismissed",
					zap.String("alert_id", a.AlertID),
					zap.Error(err),
				)
			}
		}
	}
	if w.cache != nil {
		if err := w.cache.PutActiveAlerts(ctx, w.active.Active("", nil), a); err != nil {
			w.logger.Warn("failed to mirror alerts to cache",
				zap.String("alert_id", a.AlertID),
				zap.Error(err),
			)
		}
	}
}
