package service

import (
	"context"
	"testing"
	"time"

	"infantguard/internal/alert"
	"infantguard/internal/bus"
	"infantguard/internal/config"
	"infantguard/internal/geofence"
	"infantguard/internal/ingest"
	"infantguard/internal/models"
	"infantguard/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Pipeline.PositionQueueSize = 64
	cfg.Pipeline.GateQueueSize = 16
	cfg.Pipeline.PositionWorkers = 2
	cfg.Tags.StalenessWindow = time.Hour // 测试里不触发失联巡检
	cfg.Tags.LowBatteryPct = 20
	cfg.Gates.HeldOpenThreshold = time.Hour
	cfg.Gates.CorrelationWindow = 3 * time.Second
	cfg.Escalation.Threshold = 5 * time.Minute
	cfg.Escalation.CheckInterval = time.Hour
	return cfg
}

func testZones() []models.Zone {
	return []models.Zone{
		{
			ID: "z1", Name: "NICU Ward", Floor: "F3", Type: models.ZoneAuthorized,
			Polygon: []models.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}},
		},
		{
			ID: "z2", Name: "Medication Room", Floor: "F3", Type: models.ZoneRestricted,
			Polygon:   []models.Point{{X: 20, Y: 0}, {X: 30, Y: 0}, {X: 30, Y: 10}, {X: 20, Y: 10}},
			Allowlist: []string{"NUR-001"},
		},
		{
			ID: "z3", Name: "Stairwell", Floor: "F3", Type: models.ZoneExit,
			Polygon: []models.Point{{X: 40, Y: 0}, {X: 50, Y: 0}, {X: 50, Y: 10}, {X: 40, Y: 10}},
		},
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, pairings map[string]string) (*Pipeline, *alert.Manager, context.CancelFunc) {
	t.Helper()

	logger := zap.NewNop()
	b := bus.New(logger)
	tagStore := store.New(cfg.Tags.StalenessWindow, cfg.Tags.LowBatteryPct, b, logger)
	geo, err := geofence.NewEvaluator(testZones(), logger)
	require.NoError(t, err)
	alerts := alert.NewManager(b, logger)

	p := NewPipeline(cfg, tagStore, geo, alerts, b, pairings, logger)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		p.Wait()
	})
	return p, alerts, cancel
}

func position(tagID string, at models.AssetType, x, y float64, seq int64) models.Position {
	return models.Position{
		TagID: tagID, AssetType: at, X: x, Y: y, Floor: "F3",
		BatteryPct: 90, Timestamp: time.Now(), SequenceID: seq,
	}
}

func waitForAlert(t *testing.T, alerts *alert.Manager, alertType models.AlertType, entityID string) models.Alert {
	t.Helper()
	var found models.Alert
	require.Eventually(t, func() bool {
		for _, a := range alerts.Active("", nil) {
			if a.Type == alertType && a.EntityID == entityID {
				found = a
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "expected %s alert for %s", alertType, entityID)
	return found
}

// 婴儿标签进入 restricted 区域 → critical GEOFENCE_BREACH
func TestPipeline_InfantEnteringRestrictedZone(t *testing.T) {
	p, alerts, _ := newTestPipeline(t, testConfig(), nil)

	require.NoError(t, p.SubmitPosition(position("INF-003", models.AssetInfant, 5, 5, 1)))
	require.NoError(t, p.SubmitPosition(position("INF-003", models.AssetInfant, 25, 5, 2)))

	a := waitForAlert(t, alerts, models.AlertGeofenceBreach, "INF-003")
	assert.Equal(t, models.SeverityCritical, a.Severity)
	assert.Equal(t, models.EntityTag, a.EntityType)
}

// 放行名单是 restricted 区域的唯一豁免：名单外的 staff 同样触发 breach
func TestPipeline_AllowlistIsOnlyExemption(t *testing.T) {
	p, alerts, _ := newTestPipeline(t, testConfig(), nil)

	require.NoError(t, p.SubmitPosition(position("NUR-001", models.AssetMother, 25, 5, 1)))
	require.NoError(t, p.SubmitPosition(position("STF-001", models.AssetStaff, 25, 5, 1)))

	a := waitForAlert(t, alerts, models.AlertGeofenceBreach, "STF-001")
	assert.Equal(t, models.SeverityCritical, a.Severity)
	assert.Contains(t, a.Message, "staff")

	// NUR-001 在 z2 放行名单内，不触发
	for _, al := range alerts.Active("", nil) {
		assert.NotEqual(t, "NUR-001", al.EntityID)
	}
}

// 有配对的婴儿进入 exit 区域 → EXIT_ZONE warning；其他类型不触发
func TestPipeline_ExitZoneOnlyForInfants(t *testing.T) {
	pairings := map[string]string{"INF-003": "MOM-003"}
	p, alerts, _ := newTestPipeline(t, testConfig(), pairings)

	require.NoError(t, p.SubmitPosition(position("MOM-001", models.AssetMother, 45, 5, 1)))
	require.NoError(t, p.SubmitPosition(position("INF-003", models.AssetInfant, 45, 5, 1)))

	a := waitForAlert(t, alerts, models.AlertExitZone, "INF-003")
	assert.Equal(t, models.SeverityWarning, a.Severity)

	for _, a := range alerts.Active("", nil) {
		assert.NotEqual(t, "MOM-001", a.EntityID)
	}
}

// 无配对的婴儿出现在 exit 区域 → UNAUTHORIZED_ACCESS critical
func TestPipeline_UnpairedInfantInExitZone(t *testing.T) {
	p, alerts, _ := newTestPipeline(t, testConfig(), nil)

	require.NoError(t, p.SubmitPosition(position("INF-007", models.AssetInfant, 45, 5, 1)))

	a := waitForAlert(t, alerts, models.AlertUnauthorizedAccess, "INF-007")
	assert.Equal(t, models.SeverityCritical, a.Severity)

	for _, a := range alerts.Active("", nil) {
		assert.NotEqual(t, models.AlertExitZone, a.Type)
	}
}

// 低电量触发 TAG_LOW_BATTERY（去重由报警管理器负责）
func TestPipeline_LowBattery(t *testing.T) {
	p, alerts, _ := newTestPipeline(t, testConfig(), nil)

	pos := position("INF-003", models.AssetInfant, 5, 5, 1)
	pos.BatteryPct = 12
	require.NoError(t, p.SubmitPosition(pos))

	a := waitForAlert(t, alerts, models.AlertTagLowBattery, "INF-003")
	assert.Equal(t, models.SeverityWarning, a.Severity)

	// 后续低电量上报刷新同一条报警
	pos2 := position("INF-003", models.AssetInfant, 6, 5, 2)
	pos2.BatteryPct = 11
	require.NoError(t, p.SubmitPosition(pos2))

	require.Eventually(t, func() bool {
		count := 0
		for _, a := range alerts.Active("", nil) {
			if a.Type == models.AlertTagLowBattery {
				count++
			}
		}
		return count == 1
	}, 2*time.Second, 5*time.Millisecond)
}

// 乱序位置被丢弃，不产生围栏评估
func TestPipeline_StalePositionIgnored(t *testing.T) {
	p, alerts, _ := newTestPipeline(t, testConfig(), nil)

	require.NoError(t, p.SubmitPosition(position("INF-003", models.AssetInfant, 5, 5, 10)))
	// 过期记录坐标落在 restricted 区域，但必须被判序丢弃
	require.NoError(t, p.SubmitPosition(position("INF-003", models.AssetInfant, 25, 5, 3)))

	// 用对照组确认管道已消化队列
	require.NoError(t, p.SubmitPosition(position("INF-009", models.AssetInfant, 25, 5, 1)))
	waitForAlert(t, alerts, models.AlertGeofenceBreach, "INF-009")

	for _, a := range alerts.Active("", nil) {
		assert.NotEqual(t, "INF-003", a.EntityID)
	}
}

// 无刷卡开门 → DOOR_FORCED_OPEN critical
func TestPipeline_ForcedGate(t *testing.T) {
	p, alerts, _ := newTestPipeline(t, testConfig(), nil)
	p.Gates().LoadGates([]models.Gate{{ID: "1", GateID: "gate-1", Name: "NICU East", Floor: "F3"}})

	require.NoError(t, p.SubmitGateEvent(ingest.GateMessage{
		GateID: "gate-1", EventType: models.GateEventState,
		State: models.GateOpen, Timestamp: time.Now(),
	}))

	a := waitForAlert(t, alerts, models.AlertDoorForcedOpen, "gate-1")
	assert.Equal(t, models.SeverityCritical, a.Severity)
}

// 拒绝刷卡 → UNAUTHORIZED_ACCESS；正常刷卡开门不产生报警
func TestPipeline_BadgeScans(t *testing.T) {
	p, alerts, _ := newTestPipeline(t, testConfig(), nil)
	p.Gates().LoadGates([]models.Gate{{ID: "1", GateID: "gate-1", Name: "NICU East", Floor: "F3"}})

	require.NoError(t, p.SubmitGateEvent(ingest.GateMessage{
		GateID: "gate-1", EventType: models.GateEventBadgeScan,
		BadgeID: "badge-9", Result: models.BadgeDenied, Timestamp: time.Now(),
	}))
	a := waitForAlert(t, alerts, models.AlertUnauthorizedAccess, "gate-1")
	assert.Equal(t, models.SeverityCritical, a.Severity)

	require.NoError(t, p.SubmitGateEvent(ingest.GateMessage{
		GateID: "gate-1", EventType: models.GateEventBadgeScan,
		BadgeID: "badge-7", Result: models.BadgeGranted, Direction: models.DirectionIn, Timestamp: time.Now(),
	}))
	require.NoError(t, p.SubmitGateEvent(ingest.GateMessage{
		GateID: "gate-1", EventType: models.GateEventState,
		State: models.GateOpen, Timestamp: time.Now(),
	}))

	// 正常开门不应出现 forced 报警
	require.Eventually(t, func() bool {
		g, ok := p.Gates().Gate("gate-1")
		return ok && g.State == models.GateOpen
	}, 2*time.Second, 5*time.Millisecond)

	for _, a := range alerts.Active("", nil) {
		assert.NotEqual(t, models.AlertDoorForcedOpen, a.Type)
	}
}

// 母婴分离：婴儿在 z2、母亲在 z1 → PAIRING_MISMATCH
func TestPipeline_PairingMismatch(t *testing.T) {
	pairings := map[string]string{"INF-003": "MOM-003"}
	p, alerts, _ := newTestPipeline(t, testConfig(), pairings)

	require.NoError(t, p.SubmitPosition(position("MOM-003", models.AssetMother, 5, 5, 1)))
	require.Eventually(t, func() bool {
		return len(p.geo.Membership("MOM-003")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.SubmitPosition(position("INF-003", models.AssetInfant, 25, 5, 1)))

	waitForAlert(t, alerts, models.AlertPairingMismatch, "INF-003")
}

// 同区时不报配对失联
func TestPipeline_PairingTogetherNoAlert(t *testing.T) {
	pairings := map[string]string{"INF-003": "MOM-003"}
	p, alerts, _ := newTestPipeline(t, testConfig(), pairings)

	require.NoError(t, p.SubmitPosition(position("MOM-003", models.AssetMother, 5, 5, 1)))
	require.Eventually(t, func() bool {
		return len(p.geo.Membership("MOM-003")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.SubmitPosition(position("INF-003", models.AssetInfant, 6, 6, 1)))
	require.Eventually(t, func() bool {
		return len(p.geo.Membership("INF-003")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	for _, a := range alerts.Active("", nil) {
		assert.NotEqual(t, models.AlertPairingMismatch, a.Type)
	}
}

// 同一标签固定路由到同一分片
func TestPipeline_ShardRoutingIsStable(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.PositionWorkers = 4

	logger := zap.NewNop()
	b := bus.New(logger)
	tagStore := store.New(cfg.Tags.StalenessWindow, cfg.Tags.LowBatteryPct, b, logger)
	geo, err := geofence.NewEvaluator(testZones(), logger)
	require.NoError(t, err)

	p := NewPipeline(cfg, tagStore, geo, alert.NewManager(b, logger), b, nil, logger)
	defer p.gates.Stop()

	require.Len(t, p.positionQueues, 4)
	first := p.shard("INF-003")
	for i := 0; i < 16; i++ {
		assert.Equal(t, first, p.shard("INF-003"))
	}
}

// 多 worker 下同一标签的更新仍按到达顺序评估：
// 确认后的围栏报警不会因为乱序评估产生的假 exited/entered 抖动而复发
func TestPipeline_PerTagOrderingAcrossWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.PositionWorkers = 4
	cfg.Pipeline.PositionQueueSize = 1024
	p, alerts, _ := newTestPipeline(t, cfg, nil)

	// 在 z1 内连续移动后进入 z2
	for i := 1; i <= 40; i++ {
		require.NoError(t, p.SubmitPosition(position("INF-003", models.AssetInfant, 5, 5, int64(i))))
	}
	require.NoError(t, p.SubmitPosition(position("INF-003", models.AssetInfant, 25, 5, 41)))

	breach := waitForAlert(t, alerts, models.AlertGeofenceBreach, "INF-003")
	_, err := alerts.Acknowledge(breach.AlertID, "nurse-1")
	require.NoError(t, err)

	// 确认后继续在 z2 内移动：串行评估不会产生 exited→entered 抖动
	for i := 42; i <= 80; i++ {
		require.NoError(t, p.SubmitPosition(position("INF-003", models.AssetInfant, 25+float64(i%3), 5, int64(i))))
	}
	// 收尾移回 z1，归属变化作为该标签队列已消化完的标志
	require.NoError(t, p.SubmitPosition(position("INF-003", models.AssetInfant, 5, 5, 81)))
	require.Eventually(t, func() bool {
		ms := p.geo.Membership("INF-003")
		return len(ms) == 1 && ms[0] == "z1"
	}, 2*time.Second, 5*time.Millisecond)

	for _, a := range alerts.Active("", nil) {
		if a.Type == models.AlertGeofenceBreach && a.EntityID == "INF-003" {
			assert.True(t, a.Acknowledged, "acknowledged breach must not recur without a real re-entry")
		}
	}
}

// 队列满返回 OverloadError
func TestPipeline_QueueOverload(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.PositionQueueSize = 1
	cfg.Pipeline.PositionWorkers = 1

	logger := zap.NewNop()
	b := bus.New(logger)
	tagStore := store.New(cfg.Tags.StalenessWindow, cfg.Tags.LowBatteryPct, b, logger)
	geo, err := geofence.NewEvaluator(testZones(), logger)
	require.NoError(t, err)
	alerts := alert.NewManager(b, logger)

	// 不 Start：队列没有消费者
	p := NewPipeline(cfg, tagStore, geo, alerts, b, nil, logger)
	defer p.gates.Stop()

	require.NoError(t, p.SubmitPosition(position("INF-003", models.AssetInfant, 5, 5, 1)))

	err = p.SubmitPosition(position("INF-003", models.AssetInfant, 5, 5, 2))
	var overload *models.OverloadError
	require.ErrorAs(t, err, &overload)
	assert.Equal(t, "positions", overload.Queue)
}
