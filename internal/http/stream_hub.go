package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 事件类型
const (
	EventLocation           = "location"
	EventGeofenceViolation  = "geofence_violation"
	EventEmergencyTriggered = "emergency_triggered"
	EventEmergencyResolved  = "emergency_resolved"
	EventEmergencyEscalated = "emergency_escalated"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

// Event 推送给观察端的事件
type Event struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // epoch 毫秒
	Data      any    `json:"data"`
}

// Client 一个 WebSocket 连接
type Client struct {
	Send chan []byte
}

// Hub 事件广播
// 配置 Redis 时经 pub/sub 转发，多实例的观察端都能收到
type Hub struct {
	redis   *redis.Client
	channel string
	logger  *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	upgrader websocket.Upgrader
}

// NewHub redisClient 可为 nil
func NewHub(redisClient *redis.Client, channel string, logger *zap.Logger) *Hub {
	return &Hub{
		redis:   redisClient,
		channel: channel,
		logger:  logger,
		clients: map[*Client]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run 订阅 Redis 频道并转发给本地连接，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil {
		return
	}
	pubsub := h.redis.Subscribe(ctx, h.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.deliver([]byte(msg.Payload))
		}
	}
}

func (h *Hub) Register() *Client {
	client := &Client{Send: make(chan []byte, clientSendBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast 广播事件；慢连接丢弃消息
func (h *Hub) Broadcast(eventType string, data any) {
	payload, err := json.Marshal(Event{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	})
	if err != nil {
		h.logger.Error("Failed to marshal stream event", zap.String("type", eventType), zap.Error(err))
		return
	}

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), h.channel, payload).Err()
		if err == nil {
			return
		}
		h.logger.Warn("Redis publish failed, delivering locally", zap.Error(err))
	}
	h.deliver(payload)
}

func (h *Hub) deliver(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

// ServeWS 升级为 WebSocket 并推送事件
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	client := h.Register()
	h.logger.Debug("Stream client connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, client)
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.Unregister(client)
	<-done
	conn.Close()
}

func (h *Hub) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// 写失败后关闭连接，让读循环退出
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}
