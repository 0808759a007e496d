// internal/service/order/interfaces/order_feed.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
	feedBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 由网关负责跨域
		return true
	},
}

// OrderFeed 把 Saga 的终态推送给订阅了该用户的 websocket 连接。
// 它实现 port.SagaObserver，慢连接的消息直接丢弃，不会阻塞 Saga。
type OrderFeed struct {
	mu      sync.RWMutex
	clients map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	conn   *websocket.Conn
	userID int64
	send   chan []byte
	once   sync.Once
}

func NewOrderFeed() *OrderFeed {
	return &OrderFeed{clients: make(map[*feedClient]struct{})}
}

// OnTransition 只转发 Completed 和 Failed
func (f *OrderFeed) OnTransition(ctx context.Context, event domain.SagaEvent) {
	if !event.State.Terminal() {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to encode saga event for feed")
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.clients {
		if c.userID != event.UserID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			logger.Ctx(ctx).Warn().Int64("user", c.userID).Msg("order feed client too slow, dropping event")
		}
	}
}

// ServeWS 处理 GET /ws/orders?userId=
func (f *OrderFeed) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil {
		writeText(w, http.StatusBadRequest, "userId is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &feedClient{conn: conn, userID: userID, send: make(chan []byte, feedBufferSize)}
	if !f.register(c) {
		_ = conn.Close()
		return
	}
	logger.Ctx(r.Context()).Info().Int64("user", userID).Msg("order feed client connected")

	go f.writePump(c)
	f.readPump(c)
}

func (f *OrderFeed) register(c *feedClient) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.clients[c] = struct{}{}
	return true
}

func (f *OrderFeed) unregister(c *feedClient) {
	f.mu.Lock()
	_, ok := f.clients[c]
	delete(f.clients, c)
	f.mu.Unlock()
	if ok {
		c.close()
	}
}

func (c *feedClient) close() {
	c.once.Do(func() { close(c.send) })
}

// readPump 只处理 pong 和关闭帧
func (f *OrderFeed) readPump(c *feedClient) {
	defer f.unregister(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.L().Debug().Err(err).Int64("user", c.userID).Msg("order feed read error")
			}
			return
		}
	}
}

func (f *OrderFeed) writePump(c *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close 断开所有连接，之后的订阅会被拒绝
func (f *OrderFeed) Close() {
	f.mu.Lock()
	f.closed = true
	clients := f.clients
	f.clients = make(map[*feedClient]struct{})
	f.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (f *OrderFeed) size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}
