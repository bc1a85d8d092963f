package geofence

import (
	"sync"

	"infantguard/internal/models"

	"go.uber.org/zap"
)

// Transition 一次区域成员关系变化
type Transition struct {
	Entered []models.Zone
	Exited  []models.Zone
}

// Evaluator 地理围栏评估器
// 按楼层持有活跃区域，逐标签跟踪区域成员集合；
// 只有成员集合发生差异时才报告 entered/exited。
type Evaluator struct {
	mu      sync.RWMutex
	byFloor map[string][]models.Zone
	byID    map[string]models.Zone

	memberMu   sync.Mutex
	membership map[string]map[string]struct{} // tagId → set<zoneId>

	logger *zap.Logger
}

// NewEvaluator 创建评估器并校验全部区域定义
// 非法多边形（<3 顶点等）返回 ConfigurationError，拒绝启动
func NewEvaluator(zones []models.Zone, logger *zap.Logger) (*Evaluator, error) {
	e := &Evaluator{
		byFloor:    make(map[string][]models.Zone),
		byID:       make(map[string]models.Zone),
		membership: make(map[string]map[string]struct{}),
		logger:     logger,
	}
	for _, z := range zones {
		if err := z.Validate(); err != nil {
			return nil, err
		}
		e.byFloor[z.Floor] = append(e.byFloor[z.Floor], z)
		e.byID[z.ID] = z
	}
	return e, nil
}

// ReplaceZones 整体替换区域参考数据（管理端变更后调用）
func (e *Evaluator) ReplaceZones(zones []models.Zone) error {
	byFloor := make(map[string][]models.Zone)
	byID := make(map[string]models.Zone)
	for _, z := range zones {
		if err := z.Validate(); err != nil {
			return err
		}
		byFloor[z.Floor] = append(byFloor[z.Floor], z)
		byID[z.ID] = z
	}

	e.mu.Lock()
	e.byFloor = byFloor
	e.byID = byID
	e.mu.Unlock()
	return nil
}

// Zone 按 ID 查区域
func (e *Evaluator) Zone(id string) (models.Zone, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	z, ok := e.byID[id]
	return z, ok
}

// Evaluate 对一个已接受的位置求区域变化
// O(区域数 × 顶点数)，每层区域只有几十个，可接受。
// 位置留在同一批区域内（或一直在区域外）时不产生任何变化。
func (e *Evaluator) Evaluate(p *models.Position) Transition {
	e.mu.RLock()
	zones := e.byFloor[p.Floor]
	e.mu.RUnlock()

	current := make(map[string]struct{})
	for _, z := range zones {
		if PointInPolygon(p.X, p.Y, z.Polygon) {
			current[z.ID] = struct{}{}
		}
	}

	e.memberMu.Lock()
	previous := e.membership[p.TagID]
	e.membership[p.TagID] = current
	e.memberMu.Unlock()

	var tr Transition
	for id := range current {
		if _, was := previous[id]; !was {
			if z, ok := e.Zone(id); ok {
				tr.Entered = append(tr.Entered, z)
			}
		}
	}
	for id := range previous {
		if _, still := current[id]; !still {
			if z, ok := e.Zone(id); ok {
				tr.Exited = append(tr.Exited, z)
			}
		}
	}

	if len(tr.Entered) > 0 || len(tr.Exited) > 0 {
		e.logger.Debug("zone transition",
			zap.String("tag_id", p.TagID),
			zap.Int("entered", len(tr.Entered)),
			zap.Int("exited", len(tr.Exited)),
		)
	}
	return tr
}

// Membership 当前成员集合（快照 API 用）
func (e *Evaluator) Membership(tagID string) []string {
	e.memberMu.Lock()
	defer e.memberMu.Unlock()
	ids := make([]string, 0, len(e.membership[tagID]))
	for id := range e.membership[tagID] {
		ids = append(ids, id)
	}
	return ids
}

// Forget 清除标签的成员状态（标签下线时调用）
func (e *Evaluator) Forget(tagID string) {
	e.memberMu.Lock()
	delete(e.membership, tagID)
	e.memberMu.Unlock()
}
