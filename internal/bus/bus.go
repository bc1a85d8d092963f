package bus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Topic 总线主题
type Topic string

const (
	TopicPositions Topic = "positions"
	TopicGates     Topic = "gates"
	TopicAlerts    Topic = "alerts"
	// TopicTagStale 内部主题：标签失联转为 inactive 时由 TagStore 发出
	TopicTagStale Topic = "tag.stale"
)

// Bus 进程内发布/订阅总线
// 单写多读：每个主题由其所属组件串行发布，主题内保序；跨主题不保证顺序。
// 慢订阅者不阻塞发布方：缓冲满时丢弃该订阅者的消息（推送层会断开并重拉快照）。
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]*Subscription
	logger *zap.Logger
}

// New 创建总线
func New(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[Topic][]*Subscription),
		logger: logger,
	}
}

// Subscription 一个订阅者的接收端
type Subscription struct {
	topic   Topic
	bus     *Bus
	ch      chan interface{}
	dropped atomic.Int64
	once    sync.Once
}

// C 接收通道
func (s *Subscription) C() <-chan interface{} { return s.ch }

// Topic 订阅的主题
func (s *Subscription) Topic() Topic { return s.topic }

// Dropped 因缓冲满被丢弃的消息数
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close 取消订阅并关闭接收通道
// 关闭动作持有总线写锁，与 Publish 的投递互斥，不会出现向已关闭通道发送
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		s.bus.removeLocked(s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// Subscribe 订阅主题，buffer 为订阅者自己的缓冲大小
func (b *Bus) Subscribe(topic Topic, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{
		topic: topic,
		bus:   b,
		ch:    make(chan interface{}, buffer),
	}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return sub
}

// Publish 向主题发布一条消息
// 对每个订阅者非阻塞投递；某个订阅者缓冲满只影响它自己。
// 投递全程持有读锁：投递不阻塞，锁持有时间有界。
func (b *Bus) Publish(topic Topic, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- payload:
		default:
			n := sub.dropped.Add(1)
			if n == 1 || n%100 == 0 {
				b.logger.Warn("bus subscriber buffer full, dropping",
					zap.String("topic", string(topic)),
					zap.Int64("dropped_total", n),
				)
			}
		}
	}
}

func (b *Bus) removeLocked(sub *Subscription) {
	subs := b.subs[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}
