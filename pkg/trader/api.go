package trader

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/yourusername/quantlink-pairs/pkg/strategy"
)

// APIServer HTTP 控制接口
type APIServer struct {
	trader  *Trader
	server  *http.Server
	handler http.Handler
	hub     *WebSocketHub
	logger  zerolog.Logger

	mu        sync.RWMutex
	running   bool
	commandMu sync.Mutex // 串行化手动平仓
}

// APIResponse 统一响应格式
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// FlattenRequest POST /api/v1/pairs/flatten 请求体
type FlattenRequest struct {
	Pair string `json:"pair"`
}

// NewAPIServer 创建 API 服务
func NewAPIServer(trader *Trader, addr string, logger zerolog.Logger) *APIServer {
	api := &APIServer{
		trader: trader,
		hub:    NewWebSocketHub(trader, 0, logger),
		logger: logger.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", api.route(http.MethodGet, api.handleHealth))
	mux.HandleFunc("/api/v1/trader/status", api.route(http.MethodGet, api.handleTraderStatus))
	mux.HandleFunc("/api/v1/pairs", api.route(http.MethodGet, api.handlePairs))
	mux.HandleFunc("/api/v1/pairs/flatten", api.route(http.MethodPost, api.handleFlatten))
	mux.Handle("/api/v1/ws", api.hub.Handler())
	api.handler = mux

	api.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return api
}

// Handler 返回路由，便于测试
func (a *APIServer) Handler() http.Handler {
	return a.handler
}

// Hub 返回看板推送 hub
func (a *APIServer) Hub() *WebSocketHub {
	return a.hub
}

// Start 后台启动 HTTP 服务
func (a *APIServer) Start() error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("API server already running")
	}
	a.running = true
	a.mu.Unlock()

	a.hub.Start()
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("API server stopped")
		}
	}()

	a.logger.Info().Str("addr", a.server.Addr).Msg("HTTP API server started")
	return nil
}

// Stop 关闭 HTTP 服务
func (a *APIServer) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	a.hub.Stop()
	if err := a.server.Close(); err != nil {
		return err
	}
	a.logger.Info().Msg("HTTP API server stopped")
	return nil
}

// IsRunning 是否在运行
func (a *APIServer) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// handleHealth GET /api/v1/health
func (a *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.sendSuccess(w, "Healthy", map[string]interface{}{
		"status": "ok",
		"trader": a.trader.IsRunning(),
	})
}

// handleTraderStatus GET /api/v1/trader/status
func (a *APIServer) handleTraderStatus(w http.ResponseWriter, r *http.Request) {
	a.sendSuccess(w, "Trader status retrieved", a.trader.Status())
}

// handlePairs GET /api/v1/pairs
func (a *APIServer) handlePairs(w http.ResponseWriter, r *http.Request) {
	a.sendSuccess(w, "Pairs retrieved", a.trader.PairStatuses())
}

// handleFlatten POST /api/v1/pairs/flatten
// 对配对投递 clear 信号，两条腿全部平仓
func (a *APIServer) handleFlatten(w http.ResponseWriter, r *http.Request) {
	var req FlattenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pair == "" {
		a.sendError(w, http.StatusBadRequest, "request body must be {\"pair\": \"A/B\"}")
		return
	}

	a.commandMu.Lock()
	defer a.commandMu.Unlock()

	a.logger.Info().Str("pair", req.Pair).Msg("received flatten request")

	actions, err := a.trader.Flatten(r.Context(), req.Pair)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, strategy.ErrUnregisteredPair) {
			status = http.StatusNotFound
		}
		a.sendError(w, status, err.Error())
		return
	}

	names := make([]string, len(actions))
	for i, act := range actions {
		names[i] = act.String()
	}
	a.sendSuccess(w, "Pair flattened", map[string]interface{}{
		"pair":    req.Pair,
		"actions": names,
	})
}

func (a *APIServer) sendSuccess(w http.ResponseWriter, message string, data interface{}) {
	a.sendJSON(w, http.StatusOK, APIResponse{Success: true, Message: message, Data: data})
}

func (a *APIServer) sendError(w http.ResponseWriter, statusCode int, errorMsg string) {
	a.sendJSON(w, statusCode, APIResponse{Success: false, Error: errorMsg})
}

func (a *APIServer) sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error().Err(err).Msg("failed to encode response")
	}
}

// route 加 CORS 头，预检请求直接返回，其余只放行 method
func (a *APIServer) route(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", method+", OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		case method:
			next(w, r)
		default:
			h.Set("Allow", method)
			a.sendError(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
		}
	}
}
