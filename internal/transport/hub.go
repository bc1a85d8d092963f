package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"infantguard/internal/bus"
	"infantguard/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Channel 推送频道
type Channel string

const (
	ChannelPositions Channel = "positions"
	ChannelGates     Channel = "gates"
	ChannelAlerts    Channel = "alerts"
)

// SnapshotSource 提供每个频道的 initial 快照
// 客户端连上先收全量，再收增量，不需要自己对账
type SnapshotSource interface {
	InitialMessage(ch Channel) models.StreamMessage
}

// Hub WebSocket 扇出中心
// 订阅进程内总线，把增量广播给各频道的在线会话；
// 慢会话直接断开（客户端重连后重新拿快照），绝不反压管道。
type Hub struct {
	mu       sync.RWMutex
	sessions map[Channel]map[*Session]struct{}

	bus       *bus.Bus
	snapshots SnapshotSource

	pingInterval  time.Duration
	pongTimeout   time.Duration
	sessionBuffer int

	upgrader websocket.Upgrader
	logger   *zap.Logger
	now      func() time.Time
}

// NewHub 创建扇出中心
func NewHub(b *bus.Bus, snapshots SnapshotSource, pingInterval, pongTimeout time.Duration, sessionBuffer int, logger *zap.Logger) *Hub {
	return &Hub{
		sessions: map[Channel]map[*Session]struct{}{
			ChannelPositions: {},
			ChannelGates:     {},
			ChannelAlerts:    {},
		},
		bus:           b,
		snapshots:     snapshots,
		pingInterval:  pingInterval,
		pongTimeout:   pongTimeout,
		sessionBuffer: sessionBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 大屏部署在院内网段，同源检查交给反向代理
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		now:    time.Now,
	}
}

// Run 订阅总线主题并开始扇出，ctx 取消时关闭全部会话
func (h *Hub) Run(ctx context.Context) {
	posSub := h.bus.Subscribe(bus.TopicPositions, 1024)
	gateSub := h.bus.Subscribe(bus.TopicGates, 256)
	alertSub := h.bus.Subscribe(bus.TopicAlerts, 256)

	heartbeat := time.NewTicker(h.pingInterval)

	defer func() {
		posSub.Close()
		gateSub.Close()
		alertSub.Close()
		heartbeat.Stop()
		h.closeAll()
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
				h.Broadcast(ChannelPositions, models.NewPositionMessage(p, h.now()))
			}
		case msg, ok := <-gateSub.C():
			if !ok {
				return
			}
			if ev, ok := msg.(models.GateEvent); ok {
				h.Broadcast(ChannelGates, models.NewGateEventMessage(ev, h.now()))
			}
		case msg, ok := <-alertSub.C():
			if !ok {
				return
			}
			if a, ok := msg.(models.Alert); ok {
				h.Broadcast(ChannelAlerts, models.NewAlertMessage(a, h.now()))
			}
		case <-heartbeat.C:
			hb := models.HeartbeatMessage{Type: models.MessageHeartbeat, Timestamp: h.now()}
			h.Broadcast(ChannelPositions, hb)
			h.Broadcast(ChannelGates, hb)
			h.Broadcast(ChannelAlerts, hb)
		}
	}
}

// ServeWS 某个频道的 WebSocket 升级入口
func (h *Hub) ServeWS(channel Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed",
				zap.String("channel", string(channel)),
				zap.Error(err),
			)
			return
		}

		s := newSession(h, channel, conn)

		// 注册前先推快照：客户端看到的第一帧永远是 initial
		initial := h.snapshots.InitialMessage(channel)
		data, err := json.Marshal(initial)
		if err != nil {
			h.logger.Error("failed to marshal initial snapshot",
				zap.String("channel", string(channel)),
				zap.Error(err),
			)
			conn.Close()
			return
		}
		s.send <- data

		h.register(s)
		h.logger.Info("websocket session opened",
			zap.String("channel", string(channel)),
			zap.String("remote", r.RemoteAddr),
		)

		go s.writePump()
		go s.readPump()
	}
}

// Broadcast 向频道内全部会话投递一条消息
// 慢会话（发送缓冲满）当场断开，不阻塞其余会话
func (h *Hub) Broadcast(channel Channel, msg models.StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal stream message",
			zap.String("channel", string(channel)),
			zap.Error(err),
		)
		return
	}

	h.mu.RLock()
	var slow []*Session
	for s := range h.sessions[channel] {
		select {
		case s.send <- data:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.Warn("disconnecting slow websocket session",
			zap.String("channel", string(channel)),
		)
		s.Close()
	}
}

// SessionCount 频道在线会话数
func (h *Hub) SessionCount(channel Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[channel])
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.channel][s] = struct{}{}
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions[s.channel], s)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	var all []*Session
	for _, set := range h.sessions {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
