package alert

import (
	"sort"
	"sync"
	"time"

	"infantguard/internal/bus"
	"infantguard/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// dismissedRetention 已 dismiss 索引的保留时长
// 该索引只用来在 dismiss 后的一段时间内把确认/升级请求区分为 409 而不是 404，
// 超过保留期按不存在处理，索引不随运行时间无界增长。
const dismissedRetention = time.Hour

// dedupKey 去重键：(type, entityType, entityId)
type dedupKey struct {
	Type       models.AlertType
	EntityType models.EntityType
	EntityID   string
}

// Manager 报警生命周期管理器
// new → acknowledged → (escalated)* → dismissed（终态，移出活跃集合）
// 同键的未确认报警只保留一条：新触发原地刷新 message/时间戳；
// 确认之后同键再触发则视为情况复发，生成新报警。
type Manager struct {
	mu        sync.Mutex
	active    map[string]*models.Alert // alertId → alert
	byKey     map[dedupKey]string      // 未确认报警的去重索引
	dismissed map[string]time.Time     // 已 dismiss 的 alertId（区分 404 与 409）

	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewManager 创建报警管理器
func NewManager(b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		active:    make(map[string]*models.Alert),
		byKey:     make(map[dedupKey]string),
		dismissed: make(map[string]time.Time),
		bus:       b,
		logger:    logger,
		now:       time.Now,
	}
}

// Trigger 处理一次原始触发
// 返回被创建或被刷新的报警副本；级别查静态表，提交后发布到 alerts 主题。
func (m *Manager) Trigger(t models.AlertType, entityType models.EntityType, entityID, message string) models.Alert {
	now := m.now()
	key := dedupKey{Type: t, EntityType: entityType, EntityID: entityID}

	m.mu.Lock()
	if id, ok := m.byKey[key]; ok {
		if existing, live := m.active[id]; live && !existing.Acknowledged {
			// 同键未确认：原地刷新，不产生重复报警
			existing.Message = message
			existing.UpdatedAt = now
			updated := *existing
			m.mu.Unlock()

			m.logger.Debug("alert refreshed",
				zap.String("alert_id", updated.AlertID),
				zap.String("type", string(t)),
			)
			m.bus.Publish(bus.TopicAlerts, updated)
			return updated
		}
	}

	a := &models.Alert{
		ID:         uuid.New().String(),
		AlertID:    uuid.New().String(),
		Type:       t,
		Severity:   SeverityFor(t),
		EntityType: entityType,
		EntityID:   entityID,
		Message:    message,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.active[a.AlertID] = a
	m.byKey[key] = a.AlertID
	created := *a
	m.mu.Unlock()

	m.logger.Info("alert created",
		zap.String("alert_id", created.AlertID),
		zap.String("type", string(t)),
		zap.String("severity", string(created.Severity)),
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", entityID),
	)
	m.bus.Publish(bus.TopicAlerts, created)
	return created
}

// Acknowledge 确认报警
// 不存在 → NotFoundError；已 dismiss → AlreadyDismissedError；
// 已确认 → 幂等成功，保留第一次的时间戳。
func (m *Manager) Acknowledge(alertID, userID string) (models.Alert, error) {
	now := m.now()

	m.mu.Lock()
	a, ok := m.active[alertID]
	if !ok {
		_, wasDismissed := m.dismissed[alertID]
		m.mu.Unlock()
		if wasDismissed {
			return models.Alert{}, &AlreadyDismissedError{AlertID: alertID}
		}
		return models.Alert{}, &NotFoundError{AlertID: alertID}
	}
	if a.Acknowledged {
		ack := *a
		m.mu.Unlock()
		return ack, nil
	}

	a.Acknowledged = true
	a.AcknowledgedBy = userID
	ackAt := now
	a.AcknowledgedAt = &ackAt
	a.UpdatedAt = now
	// 确认后同键允许再次建新报警
	delete(m.byKey, dedupKey{Type: a.Type, EntityType: a.EntityType, EntityID: a.EntityID})
	ack := *a
	m.mu.Unlock()

	m.logger.Info("alert acknowledged",
		zap.String("alert_id", alertID),
		zap.String("user_id", userID),
	)
	m.bus.Publish(bus.TopicAlerts, ack)
	return ack, nil
}

// Escalate 升级报警：只盖 escalatedAt 戳，可在确认前后发生
// 策略（哪些级别可升级）由调用方负责，这里不做强制。幂等：首次时间戳保留。
func (m *Manager) Escalate(alertID string) (models.Alert, error) {
	now := m.now()

	m.mu.Lock()
	a, ok := m.active[alertID]
	if !ok {
		_, wasDismissed := m.dismissed[alertID]
		m.mu.Unlock()
		if wasDismissed {
			return models.Alert{}, &AlreadyDismissedError{AlertID: alertID}
		}
		return models.Alert{}, &NotFoundError{AlertID: alertID}
	}
	if a.EscalatedAt != nil {
		esc := *a
		m.mu.Unlock()
		return esc, nil
	}

	escAt := now
	a.EscalatedAt = &escAt
	a.UpdatedAt = now
	esc := *a
	m.mu.Unlock()

	m.logger.Warn("alert escalated",
		zap.String("alert_id", alertID),
		zap.String("type", string(esc.Type)),
	)
	m.bus.Publish(bus.TopicAlerts, esc)
	return esc, nil
}

// Dismiss 无条件移出活跃集合（硬删除；历史留痕由持久层负责）
func (m *Manager) Dismiss(alertID string) error {
	now := m.now()

	m.mu.Lock()
	a, ok := m.active[alertID]
	if !ok {
		m.mu.Unlock()
		return &NotFoundError{AlertID: alertID}
	}
	delete(m.active, alertID)
	key := dedupKey{Type: a.Type, EntityType: a.EntityType, EntityID: a.EntityID}
	if m.byKey[key] == alertID {
		delete(m.byKey, key)
	}
	m.dismissed[alertID] = now
	for id, at := range m.dismissed {
		if now.Sub(at) > dismissedRetention {
			delete(m.dismissed, id)
		}
	}
	dismissedAt := now
	a.DismissedAt = &dismissedAt
	a.UpdatedAt = now
	dismissed := *a
	m.mu.Unlock()

	m.logger.Info("alert dismissed", zap.String("alert_id", alertID))
	m.bus.Publish(bus.TopicAlerts, dismissed)
	return nil
}

// Get 查询单个活跃报警
func (m *Manager) Get(alertID string) (models.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.active[alertID]; ok {
		return *a, true
	}
	return models.Alert{}, false
}

// Active 活跃报警列表（按创建时间倒序）
// severity 非空时按级别过滤；acknowledged 为 nil 时不过滤确认状态
func (m *Manager) Active(severity models.Severity, acknowledged *bool) []models.Alert {
	m.mu.Lock()
	alerts := make([]models.Alert, 0, len(m.active))
	for _, a := range m.active {
		if severity != "" && a.Severity != severity {
			continue
		}
		if acknowledged != nil && a.Acknowledged != *acknowledged {
			continue
		}
		alerts = append(alerts, *a)
	}
	m.mu.Unlock()

	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].AlertID < alerts[j].AlertID
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	return alerts
}

// EscalateOverdue 升级超时未确认的 critical 报警
// 升级 worker 周期调用；返回本轮升级的数量
func (m *Manager) EscalateOverdue(threshold time.Duration) int {
	now := m.now()

	m.mu.Lock()
	var overdue []string
	for id, a := range m.active {
		if a.Severity != models.SeverityCritical {
			continue
		}
		if a.Acknowledged || a.EscalatedAt != nil {
			continue
		}
		if now.Sub(a.CreatedAt) >= threshold {
			overdue = append(overdue, id)
		}
	}
	m.mu.Unlock()

	for _, id := range overdue {
		if _, err := m.Escalate(id); err != nil {
			m.logger.Error("failed to escalate overdue alert",
				zap.String("alert_id", id),
				zap.Error(err),
			)
		}
	}
	return len(overdue)
}
