package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"infantguard/internal/bus"
	"infantguard/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSnapshots 固定快照源
type fakeSnapshots struct {
	tags   []models.Tag
	gates  []models.Gate
	alerts []models.Alert
}

func (f *fakeSnapshots) InitialMessage(ch Channel) models.StreamMessage {
	now := time.Now()
	switch ch {
	case ChannelPositions:
		return models.InitialTagsMessage{Type: models.MessageInitial, Data: f.tags, Timestamp: now}
	case ChannelGates:
		return models.InitialGatesMessage{Type: models.MessageInitial, Data: f.gates, Timestamp: now}
	default:
		return models.InitialAlertsMessage{Type: models.MessageInitial, Data: f.alerts, Timestamp: now}
	}
}

// envelope 只解 type 字段，按需再解 data
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestHub(t *testing.T, snapshots SnapshotSource, buffer int) (*Hub, *bus.Bus, *httptest.Server, context.CancelFunc) {
	t.Helper()

	b := bus.New(zap.NewNop())
	h := NewHub(b, snapshots, 50*time.Millisecond, 5*time.Second, buffer, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/positions", h.ServeWS(ChannelPositions))
	mux.HandleFunc("/ws/alerts", h.ServeWS(ChannelAlerts))
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, b, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// 连上的第一帧永远是 initial 快照
func TestServeWS_FirstFrameIsInitialSnapshot(t *testing.T) {
	snapshots := &fakeSnapshots{
		tags: []models.Tag{{TagID: "INF-003", Status: models.TagActive}},
	}
	_, _, srv, _ := newTestHub(t, snapshots, 16)

	conn := dial(t, srv, "/ws/positions")
	env := readEnvelope(t, conn)

	assert.Equal(t, "initial", env.Type)
	var tags []models.Tag
	require.NoError(t, json.Unmarshal(env.Data, &tags))
	require.Len(t, tags, 1)
	assert.Equal(t, "INF-003", tags[0].TagID)
}

// 总线上的位置更新以增量帧到达
func TestHub_BroadcastsPositionUpdates(t *testing.T) {
	h, b, srv, _ := newTestHub(t, &fakeSnapshots{}, 16)

	conn := dial(t, srv, "/ws/positions")
	readEnvelope(t, conn) // initial

	// 等会话注册完成再发布
	require.Eventually(t, func() bool {
		return h.SessionCount(ChannelPositions) == 1
	}, time.Second, 5*time.Millisecond)

	b.Publish(bus.TopicPositions, models.Position{
		TagID: "INF-003", AssetType: models.AssetInfant, Floor: "F3",
		Timestamp: time.Now(), SequenceID: 7,
	})

	for {
		env := readEnvelope(t, conn)
		if env.Type == "heartbeat" {
			continue
		}
		assert.Equal(t, "position", env.Type)
		var p models.Position
		require.NoError(t, json.Unmarshal(env.Data, &p))
		assert.Equal(t, "INF-003", p.TagID)
		assert.Equal(t, int64(7), p.SequenceID)
		return
	}
}

// 报警频道收到生命周期变更
func TestHub_BroadcastsAlerts(t *testing.T) {
	h, b, srv, _ := newTestHub(t, &fakeSnapshots{}, 16)

	conn := dial(t, srv, "/ws/alerts")
	readEnvelope(t, conn)

	require.Eventually(t, func() bool {
		return h.SessionCount(ChannelAlerts) == 1
	}, time.Second, 5*time.Millisecond)

	b.Publish(bus.TopicAlerts, models.Alert{
		AlertID: "a-1", Type: models.AlertGeofenceBreach, Severity: models.SeverityCritical,
	})

	for {
		env := readEnvelope(t, conn)
		if env.Type == "heartbeat" {
			continue
		}
		assert.Equal(t, "alert", env.Type)
		var a models.Alert
		require.NoError(t, json.Unmarshal(env.Data, &a))
		assert.Equal(t, "a-1", a.AlertID)
		return
	}
}

// 空闲连接收到 heartbeat 保活帧
func TestHub_HeartbeatWhenIdle(t *testing.T) {
	_, _, srv, _ := newTestHub(t, &fakeSnapshots{}, 16)

	conn := dial(t, srv, "/ws/positions")
	readEnvelope(t, conn)

	env := readEnvelope(t, conn)
	assert.Equal(t, "heartbeat", env.Type)
}

// 慢会话被断开，不拖累发布方
func TestHub_SlowSessionDisconnected(t *testing.T) {
	h, _, srv, _ := newTestHub(t, &fakeSnapshots{}, 1)

	conn := dial(t, srv, "/ws/positions")
	// 不读任何帧，让发送缓冲填满

	require.Eventually(t, func() bool {
		return h.SessionCount(ChannelPositions) == 1
	}, time.Second, 5*time.Millisecond)

	// 缓冲为 1：连续广播必然触发慢会话淘汰
	for i := 0; i < 10; i++ {
		h.Broadcast(ChannelPositions, models.HeartbeatMessage{Type: models.MessageHeartbeat, Timestamp: time.Now()})
	}

	require.Eventually(t, func() bool {
		return h.SessionCount(ChannelPositions) == 0
	}, 2*time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return // 连接已被服务端关闭
		}
	}
}

// ctx 取消后全部会话关闭
func TestHub_ShutdownClosesSessions(t *testing.T) {
	h, _, srv, cancel := newTestHub(t, &fakeSnapshots{}, 16)

	conn := dial(t, srv, "/ws/positions")
	readEnvelope(t, conn)

	require.Eventually(t, func() bool {
		return h.SessionCount(ChannelPositions) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()

	require.Eventually(t, func() bool {
		return h.SessionCount(ChannelPositions) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
