package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"infantguard/internal/alert"
	"infantguard/internal/bus"
	"infantguard/internal/config"
	"infantguard/internal/gatefsm"
	"infantguard/internal/geofence"
	"infantguard/internal/ingest"
	"infantguard/internal/models"
	"infantguard/internal/store"

	"go.uber.org/zap"
)

// Pipeline 事件管道：入站队列 → 状态组件 → 报警分类 → 总线
// 位置流量大走多 worker，按 tagId 哈希分片：同一标签固定落在同一 worker，
// 判序与围栏评估对单个标签严格串行；门禁流量小且顺序敏感走单 worker。
// 入站侧有界：队列满拒绝（MQTT QoS1 会重投），绝不无界堆积。
type Pipeline struct {
	cfg    *config.Config
	store  *store.TagStore
	geo    *geofence.Evaluator
	gates  *gatefsm.StateMachine
	alerts *alert.Manager
	bus    *bus.Bus
	logger *zap.Logger

	positionQueues []chan models.Position
	gateQueue      chan ingest.GateMessage

	// 母婴配对：infant tagId → mother tagId（启动时装载，只读）
	pairings map[string]string

	wg sync.WaitGroup
}

// NewPipeline 创建管道
func NewPipeline(
	cfg *config.Config,
	tagStore *store.TagStore,
	geo *geofence.Evaluator,
	alerts *alert.Manager,
	b *bus.Bus,
	pairings map[string]string,
	logger *zap.Logger,
) *Pipeline {
	workers := cfg.Pipeline.PositionWorkers
	if workers <= 0 {
		workers = 1
	}
	shardSize := cfg.Pipeline.PositionQueueSize / workers
	if shardSize < 1 {
		shardSize = 1
	}
	queues := make([]chan models.Position, workers)
	for i := range queues {
		queues[i] = make(chan models.Position, shardSize)
	}

	p := &Pipeline{
		cfg:            cfg,
		store:          tagStore,
		geo:            geo,
		alerts:         alerts,
		bus:            b,
		logger:         logger,
		positionQueues: queues,
		gateQueue:      make(chan ingest.GateMessage, cfg.Pipeline.GateQueueSize),
		pairings:       pairings,
	}
	p.gates = gatefsm.New(cfg.Gates.HeldOpenThreshold, cfg.Gates.CorrelationWindow, p, logger)
	return p
}

// Gates 门禁状态机（查询接口挂在上面）
func (p *Pipeline) Gates() *gatefsm.StateMachine { return p.gates }

// SubmitPosition 入队一条位置记录（ingest.Sink）
// 同一 tagId 固定路由到同一分片，单个标签的更新按到达顺序串行处理
func (p *Pipeline) SubmitPosition(pos models.Position) error {
	select {
	case p.positionQueues[p.shard(pos.TagID)] <- pos:
		return nil
	default:
		return &models.OverloadError{Queue: "positions"}
	}
}

func (p *Pipeline) shard(tagID string) int {
	h := fnv.New32a()
	h.Write([]byte(tagID))
	return int(h.Sum32() % uint32(len(p.positionQueues)))
}

// SubmitGateEvent 入队一条门禁事件（ingest.Sink）
func (p *Pipeline) SubmitGateEvent(ev ingest.GateMessage) error {
	select {
	case p.gateQueue <- ev:
		return nil
	default:
		return &models.OverloadError{Queue: "gates"}
	}
}

// Start 启动全部 worker，ctx 取消后退出
func (p *Pipeline) Start(ctx context.Context) {
	for _, q := range p.positionQueues {
		queue := q
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.positionWorker(ctx, queue)
		}()
	}

	// 门禁事件单 worker：同一扇门的刷卡与开门上报顺序不能乱
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.gateWorker(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.staleWorker(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.escalationWorker(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.store.RunSweep(ctx)
	}()
}

// Wait 等待全部 worker 退出
func (p *Pipeline) Wait() {
	p.wg.Wait()
	p.gates.Stop()
}

func (p *Pipeline) positionWorker(ctx context.Context, queue <-chan models.Position) {
	for {
		select {
		case <-ctx.Done():
			return
		case pos := <-queue:
			p.processPosition(pos)
		}
	}
}

// processPosition 单条位置的完整处理链
// 存储判序 → 围栏评估 → 报警分类；存储已把接受的位置发布到总线
func (p *Pipeline) processPosition(pos models.Position) {
	res := p.store.Ingest(pos)
	if !res.Accepted {
		return
	}

	if pos.BatteryPct < p.cfg.Tags.LowBatteryPct {
		p.alerts.Trigger(models.AlertTagLowBattery, models.EntityTag, pos.TagID,
			fmt.Sprintf("tag %s battery at %d%%", pos.TagID, pos.BatteryPct))
	}

	tr := p.geo.Evaluate(&pos)
	for _, z := range tr.Entered {
		p.classifyZoneEntry(pos, z)
	}

	if len(tr.Entered) > 0 || len(tr.Exited) > 0 {
		p.checkPairing(pos)
	}
}

// classifyZoneEntry 区域进入的报警规则
// restricted：放行名单是唯一豁免，名单外任何类型都报；exit：只有婴儿触发
func (p *Pipeline) classifyZoneEntry(pos models.Position, z models.Zone) {
	switch z.Type {
	case models.ZoneRestricted:
		if z.Allows(pos.TagID) {
			return
		}
		p.alerts.Trigger(models.AlertGeofenceBreach, models.EntityTag, pos.TagID,
			fmt.Sprintf("%s tag %s entered restricted zone %s (%s)", pos.AssetType, pos.TagID, z.ID, z.Name))

	case models.ZoneExit:
		if pos.AssetType != models.AssetInfant {
			return
		}
		// 无有效配对的婴儿出现在出口区按越权处理（critical）
		if _, paired := p.pairings[pos.TagID]; !paired {
			p.alerts.Trigger(models.AlertUnauthorizedAccess, models.EntityTag, pos.TagID,
				fmt.Sprintf("unpaired infant tag %s entered exit zone %s (%s)", pos.TagID, z.ID, z.Name))
			return
		}
		p.alerts.Trigger(models.AlertExitZone, models.EntityTag, pos.TagID,
			fmt.Sprintf("infant tag %s entered exit zone %s (%s)", pos.TagID, z.ID, z.Name))
	}
}

// checkPairing 母婴配对检查
// 两个标签都有区域归属且完全不相交时报 PAIRING_MISMATCH；
// 任一方归属未知（还没上报过）不报，避免冷启动误报。
func (p *Pipeline) checkPairing(pos models.Position) {
	motherTag, ok := p.pairings[pos.TagID]
	if !ok {
		return
	}

	infantZones := p.geo.Membership(pos.TagID)
	motherZones := p.geo.Membership(motherTag)
	if len(infantZones) == 0 || len(motherZones) == 0 {
		return
	}

	shared := false
	motherSet := make(map[string]struct{}, len(motherZones))
	for _, z := range motherZones {
		motherSet[z] = struct{}{}
	}
	for _, z := range infantZones {
		if _, ok := motherSet[z]; ok {
			shared = true
			break
		}
	}
	if shared {
		return
	}

	p.alerts.Trigger(models.AlertPairingMismatch, models.EntityTag, pos.TagID,
		fmt.Sprintf("infant tag %s separated from paired tag %s", pos.TagID, motherTag))
}

func (p *Pipeline) gateWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.gateQueue:
			switch ev.EventType {
			case models.GateEventBadgeScan:
				p.gates.HandleBadgeScan(ev.GateID, ev.BadgeID, ev.UserID, ev.Result, ev.Direction)
			case models.GateEventState:
				p.gates.HandleStateReport(ev.GateID, ev.State)
			}
		}
	}
}

// OnGateEvent 状态机回调（gatefsm.Sink）
// 全量事件发布到 gates 主题；forced/heldOpen/DENIED 升级为报警
func (p *Pipeline) OnGateEvent(ev models.GateEvent, g models.Gate) {
	p.bus.Publish(bus.TopicGates, ev)

	switch ev.EventType {
	case models.GateEventForced:
		p.alerts.Trigger(models.AlertDoorForcedOpen, models.EntityGate, ev.GateID,
			fmt.Sprintf("gate %s (%s) forced open", ev.GateID, g.Name))

	case models.GateEventHeldOpen:
		p.alerts.Trigger(models.AlertDoorHeldOpen, models.EntityGate, ev.GateID,
			fmt.Sprintf("gate %s (%s) held open for %dms", ev.GateID, g.Name, ev.DurationMs))

	case models.GateEventBadgeScan:
		if ev.Result == models.BadgeDenied {
			p.alerts.Trigger(models.AlertUnauthorizedAccess, models.EntityGate, ev.GateID,
				fmt.Sprintf("badge %s denied at gate %s (%s)", ev.BadgeID, ev.GateID, g.Name))
		}
	}
}

// staleWorker 消费 tag.stale 内部事件 → TAG_NO_UPDATE
func (p *Pipeline) staleWorker(ctx context.Context) {
	sub := p.bus.Subscribe(bus.TopicTagStale, 256)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			tag, ok := msg.(models.Tag)
			if !ok {
				continue
			}
			p.alerts.Trigger(models.AlertTagNoUpdate, models.EntityTag, tag.TagID,
				fmt.Sprintf("tag %s stopped reporting", tag.TagID))
		}
	}
}

// escalationWorker 周期升级超时未确认的 critical 报警
func (p *Pipeline) escalationWorker(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Escalation.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.alerts.EscalateOverdue(p.cfg.Escalation.Threshold); n > 0 {
				p.logger.Warn("escalated overdue alerts", zap.Int("count", n))
			}
		}
	}
}
