package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Session 一条 WebSocket 会话
// send 缓冲由 Hub 配置；缓冲满意味着客户端消费不过来，由 Hub 断开
type Session struct {
	hub     *Hub
	channel Channel
	conn    *websocket.Conn
	send    chan []byte
	once    sync.Once
}

func newSession(h *Hub, channel Channel, conn *websocket.Conn) *Session {
	return &Session{
		hub:     h,
		channel: channel,
		conn:    conn,
		send:    make(chan []byte, h.sessionBuffer),
	}
}

// Close 注销并关闭连接（幂等）
// send 通道从不 close：Hub 的广播方可能正并发写入，
// 关掉底层连接让两个 pump 自行退出即可
func (s *Session) Close() {
	s.once.Do(func() {
		s.hub.unregister(s)
		s.conn.Close()
	})
}

// writePump 串行写出：数据帧 + 周期 ping
// WebSocket 连接只允许一个写者，所有写操作都收敛到这里
func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}

// readPump 只负责 pong 保活和探测断连，入站数据帧一律丢弃
func (s *Session) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(1024)
	s.conn.SetReadDeadline(time.Now().Add(s.hub.pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.hub.pongTimeout))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
