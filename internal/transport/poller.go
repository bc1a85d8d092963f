package transport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PollFunc 一次拉取动作（通常是刷新某个频道的快照镜像）
type PollFunc func(ctx context.Context) error

// Poller 轮询兜底
// WebSocket 不可用的消费方（或 Redis 镜像的刷新方）按固定间隔拉取快照。
// 不变式：任意时刻至多一次拉取在途；拉取期间再被触发只置 pending 标记，
// 在途拉取结束后立刻补一次，不排队也不并发。
type Poller struct {
	interval time.Duration
	fn       PollFunc
	logger   *zap.Logger

	mu       sync.Mutex
	inFlight bool
	pending  bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	kick     chan struct{}
}

// NewPoller 创建轮询器
func NewPoller(interval time.Duration, fn PollFunc, logger *zap.Logger) *Poller {
	return &Poller{
		interval: interval,
		fn:       fn,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		kick:     make(chan struct{}, 1),
	}
}

// Start 启动轮询循环（后台 goroutine）
func (p *Poller) Start(ctx context.Context) {
	go func() {
		defer close(p.doneCh)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.poll(ctx)
			case <-p.kick:
				p.poll(ctx)
			}
		}
	}()
}

// Trigger 请求立即拉取一次
// 在途时只置 pending；空闲时唤醒循环
func (p *Poller) Trigger() {
	p.mu.Lock()
	if p.inFlight {
		p.pending = true
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Stop 停止轮询并等待在途拉取结束
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

func (p *Poller) poll(ctx context.Context) {
	p.mu.Lock()
	if p.inFlight {
		p.pending = true
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	for {
		if err := p.fn(ctx); err != nil {
			p.logger.Warn("poll failed", zap.Error(err))
		}

		p.mu.Lock()
		if p.pending {
			// 在途期间有触发，补一次
			p.pending = false
			p.mu.Unlock()
			continue
		}
		p.inFlight = false
		p.mu.Unlock()
		return
	}
}
