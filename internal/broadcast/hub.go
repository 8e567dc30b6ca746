package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tamacloud/pkg/redisx"
)

// 推送事件类型
const (
	TopicSensorUpdate      = "sensor_update"
	TopicOrientationUpdate = "orientation_update"
	TopicPetStateUpdate    = "pet_state_update"
	TopicDisplayChanged    = "display_changed"
	TopicMenuChanged       = "menu_changed"
	TopicImportantEvent    = "important_event"
	TopicStepCounter       = "step_counter_update"
	TopicCameraUpdate      = "camera_update"
)

// 实时推送镜像到的 Redis Stream
const streamKey = "tamacloud:events"

const (
	writeTimeout    = 10 * time.Second
	clientQueueSize = 32
)

// Envelope 推送消息封包
type Envelope struct {
	Topic     string `json:"topic"`
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload"`
}

// Hub 仪表盘实时推送
// WebSocket 客户端全量订阅；同时把每条消息镜像写入 Redis Stream 供其他服务消费
// 推送是尽力而为：慢客户端直接断开，Redis 不可用只记日志
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	redis    *redis.Client // 可为 nil（未配置 Redis）

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(redisClient *redis.Client, logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		redis:  redisClient,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 仪表盘跨源访问
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// HandleWS 升级 HTTP 连接并纳入推送集合
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueueSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("Dashboard client connected", zap.Int("clients", count))

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Publish 向全部客户端推送并镜像到 Redis Stream
func (h *Hub) Publish(topic, deviceID string, payload any) {
	env := Envelope{
		Topic:     topic,
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast envelope", zap.Error(err))
		return
	}

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// 队列打满说明客户端已经跟不上，丢弃本条
			h.logger.Debug("Dropping message for slow client")
		}
	}
	h.mu.RUnlock()

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := redisx.PublishJSONToStream(ctx, h.redis, streamKey, env); err != nil {
			h.logger.Warn("Failed to mirror event to stream",
				zap.String("topic", topic), zap.Error(err))
		}
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 关闭全部客户端连接
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) readLoop(c *client) {
	// 客户端不发业务消息，读循环只用于感知断开
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	c.conn.Close()
	h.logger.Info("Dashboard client disconnected", zap.Int("clients", count))
}
