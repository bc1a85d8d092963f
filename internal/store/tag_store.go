package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"infantguard/internal/bus"
	"infantguard/internal/models"

	"go.uber.org/zap"
)

// IngestResult ingest 的结果
// 被取代的旧位置随结果返回，供地理围栏评估使用
type IngestResult struct {
	Accepted bool
	Previous *models.Position
}

// TagStore 标签状态存储：每个标签的最新位置与派生状态
// 并发模型：map 粗锁只保护查找/创建，单个标签的变更由各自的 entry 锁串行化，
// 不同标签的更新并行进行。
type TagStore struct {
	mu   sync.RWMutex
	tags map[string]*tagEntry

	staleness  time.Duration
	lowBattery int

	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

type tagEntry struct {
	mu     sync.Mutex
	latest *models.Position
	status models.TagStatus
}

// New 创建标签状态存储
func New(staleness time.Duration, lowBatteryPct int, b *bus.Bus, logger *zap.Logger) *TagStore {
	return &TagStore{
		tags:       make(map[string]*tagEntry),
		staleness:  staleness,
		lowBattery: lowBatteryPct,
		bus:        b,
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest 接收一条位置记录
// 仅当比已存记录更新时才接受（sequenceId 严格递增，缺失时退回时间戳比较）；
// 过期/乱序的记录静默丢弃，只记 debug 日志，不报错。
// 接受的位置在提交后发布到 positions 主题（恰好一次）。
func (s *TagStore) Ingest(p models.Position) IngestResult {
	entry := s.entry(p.TagID)

	entry.mu.Lock()
	if !p.NewerThan(entry.latest) {
		prev := entry.latest
		entry.mu.Unlock()
		s.logger.Debug("stale position dropped",
			zap.String("tag_id", p.TagID),
			zap.Int64("sequence_id", p.SequenceID),
		)
		return IngestResult{Accepted: false, Previous: prev}
	}

	prev := entry.latest
	stored := p
	entry.latest = &stored
	entry.status = models.StatusFor(&stored, s.now(), s.staleness, s.lowBattery)
	entry.mu.Unlock()

	s.bus.Publish(bus.TopicPositions, stored)

	return IngestResult{Accepted: true, Previous: prev}
}

// Latest 查询标签最新位置，未知标签返回 nil
func (s *TagStore) Latest(tagID string) *models.Position {
	s.mu.RLock()
	entry, ok := s.tags[tagID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.latest
}

// Tag 查询单个标签视图（状态实时派生）
func (s *TagStore) Tag(tagID string) (models.Tag, bool) {
	s.mu.RLock()
	entry, ok := s.tags[tagID]
	s.mu.RUnlock()
	if !ok {
		return models.Tag{}, false
	}

	entry.mu.Lock()
	latest := entry.latest
	entry.mu.Unlock()
	if latest == nil {
		return models.Tag{}, false
	}

	return models.Tag{
		TagID:          tagID,
		AssetType:      latest.AssetType,
		LatestPosition: latest,
		Status:         models.StatusFor(latest, s.now(), s.staleness, s.lowBattery),
	}, true
}

// All 返回所有标签视图，floor 非空时按楼层过滤
func (s *TagStore) All(floor string) []models.Tag {
	s.mu.RLock()
	entries := make(map[string]*tagEntry, len(s.tags))
	for id, e := range s.tags {
		entries[id] = e
	}
	s.mu.RUnlock()

	now := s.now()
	tags := make([]models.Tag, 0, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		latest := e.latest
		e.mu.Unlock()
		if latest == nil {
			continue
		}
		if floor != "" && latest.Floor != floor {
			continue
		}
		tags = append(tags, models.Tag{
			TagID:          id,
			AssetType:      latest.AssetType,
			LatestPosition: latest,
			Status:         models.StatusFor(latest, now, s.staleness, s.lowBattery),
		})
	}

	sort.Slice(tags, func(i, j int) bool { return tags[i].TagID < tags[j].TagID })
	return tags
}

// RunSweep 后台巡检：周期 = 失联窗口 / 2
// 标签从 active 转为 inactive 时发布 tag.stale 内部事件，
// 报警管理器据此产生 TAG_NO_UPDATE。
func (s *TagStore) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(s.staleness / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *TagStore) sweep() {
	s.mu.RLock()
	entries := make(map[string]*tagEntry, len(s.tags))
	for id, e := range s.tags {
		entries[id] = e
	}
	s.mu.RUnlock()

	now := s.now()
	for id, e := range entries {
		e.mu.Lock()
		if e.latest == nil || e.status != models.TagActive {
			e.mu.Unlock()
			continue
		}
		next := models.StatusFor(e.latest, now, s.staleness, s.lowBattery)
		if next != models.TagInactive {
			e.mu.Unlock()
			continue
		}
		e.status = models.TagInactive
		stale := models.Tag{
			TagID:          id,
			AssetType:      e.latest.AssetType,
			LatestPosition: e.latest,
			Status:         models.TagInactive,
		}
		e.mu.Unlock()

		s.logger.Info("tag went stale",
			zap.String("tag_id", id),
			zap.Duration("staleness_window", s.staleness),
		)
		s.bus.Publish(bus.TopicTagStale, stale)
	}
}

func (s *TagStore) entry(tagID string) *tagEntry {
	s.mu.RLock()
	e, ok := s.tags[tagID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tags[tagID]; ok {
		return e
	}
	e = &tagEntry{status: models.TagInactive}
	s.tags[tagID] = e
	return e
}
