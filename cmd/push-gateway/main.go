package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"loyalty/internal/pkg/bootstrap"
	"loyalty/internal/pkg/config"
	"loyalty/internal/pkg/logger"
	"loyalty/internal/pkg/mq"
	"loyalty/internal/pkg/redis"
	"loyalty/internal/service/loyalty/domain"
)

const (
	serviceName = "push-gateway"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var (
	nodeID   = "push-gateway-" + uuid.NewString()[:8]
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
			return true
		},
	}
)

// Hub 维护所有活跃的连接，并负责按 userID 投递消息。
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	lock       sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.lock.Lock()
			h.clients[client.userID] = client
			h.lock.Unlock()
			log.Info().Str("userId", client.userID).Str("node", nodeID).Msg("client registered")
		case client := <-h.unregister:
			h.lock.Lock()
			if _, ok := h.clients[client.userID]; ok {
				delete(h.clients, client.userID)
				close(client.send)
			}
			h.lock.Unlock()
			log.Info().Str("userId", client.userID).Msg("client unregistered")
		}
	}
}

// deliver 把消息投递给 userID 对应的连接。用户不在本节点时返回 false。
func (h *Hub) deliver(userID string, message []byte) bool {
	h.lock.RLock()
	client, ok := h.clients[userID]
	h.lock.RUnlock()
	if !ok {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		// 发送缓冲已满，视为连接失效
		h.unregister <- client
		return false
	}
}

// Client 是一个 WebSocket 连接的代表。
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// writePump 把 send channel 中的消息写入 websocket，并维持心跳。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取心跳等消息，连接断开时把自己从 Hub 注销。
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, sessions *redis.Client, w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), userID: userID}
	client.hub.register <- client

	// 在 Redis 中记录 用户 → 网关节点 的会话，供跨节点路由查询
	err = sessions.GetClient().Set(r.Context(), "push:session:"+userID, nodeID, pongWait*2).Err()
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to set session")
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	sessions := redis.NewClient(cfg.Infra.Redis.Addr)
	hub := newHub()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8088,
		Config:      cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
				serveWs(hub, sessions, w, r)
			})
		},
		Run: func(ctx context.Context) error {
			go hub.run(ctx)

			// 每个网关节点用独立的消费组订阅通知主题，
			// 收到事件后尝试投递给本节点持有的连接。
			reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic, nodeID)
			defer reader.Close()

			logger.Ctx(ctx).Info().Str("node", nodeID).Msg("push gateway consumer started")
			for {
				msg, err := reader.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
					time.Sleep(time.Second)
					continue
				}
				pushMessage(ctx, hub, msg)
			}
		},
	})
}

// pushMessage 把一条通知事件推送给在线用户。用户不在本节点时静默跳过。
func pushMessage(ctx context.Context, hub *Hub, msg kafka.Message) {
	var event domain.NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal notification event, skipping")
		return
	}

	userID := string(msg.Key)
	if hub.deliver(userID, msg.Value) {
		logger.Ctx(ctx).Info().
			Str("userId", userID).
			Str("type", string(event.Type)).
			Msg("notification pushed over websocket")
	}
}
