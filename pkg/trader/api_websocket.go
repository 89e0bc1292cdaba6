package trader

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/net/websocket"
)

const (
	broadcastInterval = time.Second
	heartbeatInterval = 30 * time.Second
)

// WebSocketMessage 推送给客户端的消息
type WebSocketMessage struct {
	Type      string      `json:"type"`      // "dashboard_update", "ping"
	Timestamp string      `json:"timestamp"` // RFC3339
	Data      interface{} `json:"data,omitempty"`
}

// DashboardUpdate 看板数据
type DashboardUpdate struct {
	Status Status                     `json:"status"`
	Pairs  []PairStatus               `json:"pairs"`
	Legs   map[string]decimal.Decimal `json:"legs"`
}

// WebSocketHub 管理看板连接并定时推送
type WebSocketHub struct {
	trader   *Trader
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	running bool
	stopCh  chan struct{}
}

// NewWebSocketHub 创建 hub，interval<=0 时每秒推送
func NewWebSocketHub(trader *Trader, interval time.Duration, logger zerolog.Logger) *WebSocketHub {
	if interval <= 0 {
		interval = broadcastInterval
	}
	return &WebSocketHub{
		trader:   trader,
		interval: interval,
		logger:   logger.With().Str("component", "websocket").Logger(),
		clients:  make(map[*websocket.Conn]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Handler 返回 websocket 路由处理器
func (h *WebSocketHub) Handler() websocket.Handler {
	return websocket.Handler(h.HandleWebSocket)
}

// Start 启动定时推送
func (h *WebSocketHub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.periodicBroadcast()
	h.logger.Info().Msg("hub started")
}

// Stop 停止推送并关闭全部连接
func (h *WebSocketHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
	for c := range h.clients {
		_ = c.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.logger.Info().Msg("hub stopped")
}

// Clients 当前连接数
func (h *WebSocketHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Collect 汇总看板数据
func (h *WebSocketHub) Collect() *DashboardUpdate {
	return &DashboardUpdate{
		Status: h.trader.Status(),
		Pairs:  h.trader.PairStatuses(),
		Legs:   h.trader.Executor.Positions(),
	}
}

// Broadcast 向全部客户端发送，发送失败的连接被移除
func (h *WebSocketHub) Broadcast(msg *WebSocketMessage) {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := websocket.JSON.Send(c, msg); err != nil {
			h.logger.Debug().Err(err).Msg("send failed, dropping client")
			h.remove(c)
		}
	}
}

// HandleWebSocket 单个连接的生命周期：登记、推送首帧、读取直到断开
func (h *WebSocketHub) HandleWebSocket(ws *websocket.Conn) {
	h.mu.Lock()
	h.clients[ws] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Int("clients", total).Msg("client connected")

	if err := websocket.JSON.Send(ws, h.dashboardMessage()); err != nil {
		h.remove(ws)
		return
	}

	done := make(chan struct{})
	defer close(done)
	go h.heartbeat(ws, done)

	for {
		var msg map[string]interface{}
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			break
		}
		// 客户端只会回 pong
	}
	h.remove(ws)
}

func (h *WebSocketHub) periodicBroadcast() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			if h.Clients() == 0 {
				continue
			}
			h.Broadcast(h.dashboardMessage())
		}
	}
}

func (h *WebSocketHub) heartbeat(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-done:
			return
		case <-ticker.C:
			ping := &WebSocketMessage{Type: "ping", Timestamp: time.Now().Format(time.RFC3339)}
			if err := websocket.JSON.Send(ws, ping); err != nil {
				h.remove(ws)
				return
			}
		}
	}
}

func (h *WebSocketHub) dashboardMessage() *WebSocketMessage {
	return &WebSocketMessage{
		Type:      "dashboard_update",
		Timestamp: time.Now().Format(time.RFC3339),
		Data:      h.Collect(),
	}
}

func (h *WebSocketHub) remove(ws *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[ws]
	delete(h.clients, ws)
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		_ = ws.Close()
		h.logger.Info().Int("clients", total).Msg("client disconnected")
	}
}
