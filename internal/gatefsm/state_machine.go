package gatefsm

import (
	"sync"
	"time"

	"infantguard/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink 接收状态机产出的门禁事件
// 所有状态迁移（包括日常开关）都会回调，保全量审计流水；
// 由上层决定 forced/heldOpen 是否升级为报警。
type Sink interface {
	OnGateEvent(ev models.GateEvent, g models.Gate)
}

// StateMachine 门禁状态机
// UNKNOWN → CLOSED ⇄ OPEN ⇄ HELD_OPEN ⇄ FORCED_OPEN → CLOSED
// 源系统在各个大屏里用定时器各自推断 forced/held-open，这里集中为
// 唯一一份派生状态，所有消费方看到的结论一致。
type StateMachine struct {
	mu    sync.RWMutex
	gates map[string]*gateEntry

	heldOpenThreshold time.Duration
	correlationWindow time.Duration

	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

type gateEntry struct {
	mu          sync.Mutex
	gate        models.Gate
	lastGranted time.Time
	openedAt    time.Time
	heldTimer   *time.Timer
}

// New 创建状态机
func New(heldOpenThreshold, correlationWindow time.Duration, sink Sink, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		gates:             make(map[string]*gateEntry),
		heldOpenThreshold: heldOpenThreshold,
		correlationWindow: correlationWindow,
		sink:              sink,
		logger:            logger,
		now:               time.Now,
	}
}

// LoadGates 装载门禁参考数据（未观测到事件前状态为 UNKNOWN）
func (m *StateMachine) LoadGates(gates []models.Gate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range gates {
		if g.State == "" {
			g.State = models.GateUnknown
		}
		m.gates[g.GateID] = &gateEntry{gate: g}
	}
}

// HandleBadgeScan 处理刷卡事件
// GRANTED 且当前 CLOSED → OPEN；无论结果如何都记一条 badgeScan 事件。
// GRANTED 的时间同时作为后续 OPEN 上报的关联依据（区分正常开门与强行开门）。
func (m *StateMachine) HandleBadgeScan(gateID, badgeID, userID string, result models.BadgeResult, direction models.Direction) {
	entry := m.entry(gateID)
	now := m.now()

	entry.mu.Lock()
	prev := entry.gate.State
	if result == models.BadgeGranted {
		entry.lastGranted = now
		if prev == models.GateClosed {
			m.transitionLocked(entry, models.GateOpen, now)
		}
	}
	ev := models.GateEvent{
		ID:            uuid.New().String(),
		GateID:        gateID,
		EventType:     models.GateEventBadgeScan,
		State:         entry.gate.State,
		PreviousState: prev,
		BadgeID:       badgeID,
		UserID:        userID,
		Result:        result,
		Direction:     direction,
		Timestamp:     now,
	}
	g := entry.gate
	entry.mu.Unlock()

	m.emit(ev, g)
}

// HandleStateReport 处理硬件上报的 OPEN/CLOSED 状态
func (m *StateMachine) HandleStateReport(gateID string, reported models.GateState) {
	switch reported {
	case models.GateOpen:
		m.handleOpenReport(gateID)
	case models.GateClosed:
		m.handleClosedReport(gateID)
	default:
		m.logger.Warn("unsupported gate state report",
			zap.String("gate_id", gateID),
			zap.String("state", string(reported)),
		)
	}
}

// handleOpenReport 开门上报
// 关联窗口内没有 GRANTED 刷卡 → FORCED_OPEN（强行开门）
func (m *StateMachine) handleOpenReport(gateID string) {
	entry := m.entry(gateID)
	now := m.now()

	entry.mu.Lock()
	prev := entry.gate.State
	if prev == models.GateOpen || prev == models.GateHeldOpen || prev == models.GateForcedOpen {
		// 重复上报，不构成状态迁移
		entry.mu.Unlock()
		return
	}

	correlated := !entry.lastGranted.IsZero() && now.Sub(entry.lastGranted) <= m.correlationWindow
	var ev models.GateEvent
	if correlated {
		m.transitionLocked(entry, models.GateOpen, now)
		ev = models.GateEvent{
			ID:            uuid.New().String(),
			GateID:        gateID,
			EventType:     models.GateEventState,
			State:         models.GateOpen,
			PreviousState: prev,
			Timestamp:     now,
		}
	} else {
		m.transitionLocked(entry, models.GateForcedOpen, now)
		ev = models.GateEvent{
			ID:            uuid.New().String(),
			GateID:        gateID,
			EventType:     models.GateEventForced,
			State:         models.GateForcedOpen,
			PreviousState: prev,
			Timestamp:     now,
		}
	}
	g := entry.gate
	entry.mu.Unlock()

	m.emit(ev, g)
}

// handleClosedReport 关门上报：取消挂起的定时器，回到 CLOSED
func (m *StateMachine) handleClosedReport(gateID string) {
	entry := m.entry(gateID)
	now := m.now()

	entry.mu.Lock()
	prev := entry.gate.State
	if prev == models.GateClosed {
		entry.mu.Unlock()
		return
	}
	m.transitionLocked(entry, models.GateClosed, now)
	ev := models.GateEvent{
		ID:            uuid.New().String(),
		GateID:        gateID,
		EventType:     models.GateEventState,
		State:         models.GateClosed,
		PreviousState: prev,
		Timestamp:     now,
	}
	g := entry.gate
	entry.mu.Unlock()

	m.emit(ev, g)
}

// transitionLocked 执行状态迁移（调用方持有 entry.mu）
// 进入 OPEN 时启动 held-open 定时器；离开 OPEN 系状态时取消，避免定时器泄漏
func (m *StateMachine) transitionLocked(entry *gateEntry, next models.GateState, now time.Time) {
	if entry.heldTimer != nil {
		entry.heldTimer.Stop()
		entry.heldTimer = nil
	}

	entry.gate.State = next
	entry.gate.LastStateChange = now

	if next == models.GateOpen {
		entry.openedAt = now
		gateID := entry.gate.GateID
		entry.heldTimer = time.AfterFunc(m.heldOpenThreshold, func() {
			m.fireHeldOpen(gateID)
		})
	}
}

// fireHeldOpen held-open 定时器到期：仍处于 OPEN 才迁移到 HELD_OPEN
func (m *StateMachine) fireHeldOpen(gateID string) {
	entry := m.entry(gateID)
	now := m.now()

	entry.mu.Lock()
	if entry.gate.State != models.GateOpen {
		entry.mu.Unlock()
		return
	}
	prev := entry.gate.State
	entry.heldTimer = nil
	entry.gate.State = models.GateHeldOpen
	entry.gate.LastStateChange = now

	ev := models.GateEvent{
		ID:            uuid.New().String(),
		GateID:        gateID,
		EventType:     models.GateEventHeldOpen,
		State:         models.GateHeldOpen,
		PreviousState: prev,
		DurationMs:    now.Sub(entry.openedAt).Milliseconds(),
		Timestamp:     now,
	}
	g := entry.gate
	entry.mu.Unlock()

	m.emit(ev, g)
}

// Gate 查询单个门禁当前状态
func (m *StateMachine) Gate(gateID string) (models.Gate, bool) {
	m.mu.RLock()
	entry, ok := m.gates[gateID]
	m.mu.RUnlock()
	if !ok {
		return models.Gate{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.gate, true
}

// Gates 全量门禁快照，floor 非空时按楼层过滤
func (m *StateMachine) Gates(floor string) []models.Gate {
	m.mu.RLock()
	entries := make([]*gateEntry, 0, len(m.gates))
	for _, e := range m.gates {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	gates := make([]models.Gate, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		g := e.gate
		e.mu.Unlock()
		if floor != "" && g.Floor != floor {
			continue
		}
		gates = append(gates, g)
	}
	return gates
}

// Stop 取消全部挂起的定时器（服务退出时调用）
func (m *StateMachine) Stop() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.gates {
		e.mu.Lock()
		if e.heldTimer != nil {
			e.heldTimer.Stop()
			e.heldTimer = nil
		}
		e.mu.Unlock()
	}
}

func (m *StateMachine) emit(ev models.GateEvent, g models.Gate) {
	if m.sink != nil {
		m.sink.OnGateEvent(ev, g)
	}
}

func (m *StateMachine) entry(gateID string) *gateEntry {
	m.mu.RLock()
	e, ok := m.gates[gateID]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.gates[gateID]; ok {
		return e
	}
	e = &gateEntry{gate: models.Gate{
		ID:     uuid.New().String(),
		GateID: gateID,
		State:  models.GateUnknown,
	}}
	m.gates[gateID] = e
	return e
}
