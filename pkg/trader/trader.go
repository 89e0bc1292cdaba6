// Package trader runs screened pairs live: bars from NATS, position requests to NATS.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/quantlink-pairs/pkg/config"
	"github.com/yourusername/quantlink-pairs/pkg/executor"
	"github.com/yourusername/quantlink-pairs/pkg/marketdata"
	"github.com/yourusername/quantlink-pairs/pkg/strategy"
	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

const (
	snapshotName = "book"
	feedBuffer   = 256
)

// Conn 订阅 bar/回报与发布持仓请求，*nats.Conn 满足该接口
type Conn interface {
	marketdata.Subscriber
	executor.Publisher
}

// PairStatus 配对最近一次处理结果
type PairStatus struct {
	Pair      string                 `json:"pair"`
	State     strategy.PositionState `json:"state"`
	Signal    strategy.Signal        `json:"signal"`
	ZScore    *float64               `json:"zscore"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
}

// Status 实盘运行状态
type Status struct {
	Running      bool                   `json:"running"`
	StartedAt    time.Time              `json:"started_at,omitempty"`
	LastBar      time.Time              `json:"last_bar,omitempty"`
	Bars         int                    `json:"bars"`
	OutOfSession int                    `json:"out_of_session"`
	Reports      int                    `json:"reports"`
	Pairs        int                    `json:"pairs"`
	Session      map[string]interface{} `json:"session"`
}

// Trader 组合引擎、NATS 执行器、bar 订阅与控制接口
type Trader struct {
	Config   *config.Config
	Engine   *strategy.Engine
	Executor *executor.NATS
	Session  *SessionManager
	API      *APIServer

	pairs   []spread.Pair
	byID    map[string]spread.Pair
	feed    *marketdata.NATSFeed
	reports *executor.ReportFeed
	logger  zerolog.Logger

	// dispatch 串行化 bar、回报与手动平仓，对账依赖执行器与账本视图一致
	dispatch sync.Mutex

	mu           sync.RWMutex
	running      bool
	startedAt    time.Time
	lastBar      time.Time
	bars         int
	outOfSession int
	reportCount  int
	last         map[string]strategy.BarResult
}

// NewTrader 创建并注册配对，实盘不截断样本
func NewTrader(cfg *config.Config, pairs []spread.Pair, conn Conn, logger zerolog.Logger) (*Trader, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if len(pairs) == 0 {
		return nil, errors.New("no pairs to trade")
	}

	classifier, err := cfg.Classifier()
	if err != nil {
		return nil, err
	}
	session, err := NewSessionManager(cfg.Session)
	if err != nil {
		return nil, err
	}

	exec := executor.NewNATS(conn, cfg.Engine.OrderSubject, logger)
	engine, err := strategy.NewEngine(cfg.EngineConfig(), classifier, exec, logger)
	if err != nil {
		return nil, err
	}
	if err := engine.RegisterPairs(pairs, 0); err != nil {
		engine.Close()
		return nil, err
	}

	t := &Trader{
		Config:   cfg,
		Engine:   engine,
		Executor: exec,
		Session:  session,
		pairs:    pairs,
		byID:     make(map[string]spread.Pair, len(pairs)),
		feed:     marketdata.NewNATSFeed(conn, cfg.Engine.BarSubject, feedBuffer, logger),
		logger:   logger.With().Str("component", "trader").Logger(),
		last:     make(map[string]strategy.BarResult, len(pairs)),
	}
	for _, p := range pairs {
		t.byID[p.ID()] = p
	}
	if cfg.Engine.ReportSubject != "" {
		t.reports = executor.NewReportFeed(conn, cfg.Engine.ReportSubject, feedBuffer, logger)
	}
	if cfg.Engine.APIAddr != "" {
		t.API = NewAPIServer(t, cfg.Engine.APIAddr, logger)
	}
	return t, nil
}

// Run 恢复快照后处理 bar，直到 ctx 取消；退出时保存快照
func (t *Trader) Run(ctx context.Context) error {
	if t.IsRunning() {
		return errors.New("trader already running")
	}
	// 恢复失败时不进入运行状态，避免退出时覆盖原快照
	if err := t.restoreSnapshot(); err != nil {
		return err
	}

	t.mu.Lock()
	t.running = true
	t.startedAt = time.Now()
	t.mu.Unlock()

	defer t.stop()

	if t.API != nil {
		if err := t.API.Start(); err != nil {
			return err
		}
	}

	t.logger.Info().
		Int("pairs", len(t.pairs)).
		Str("bars", t.Config.Engine.BarSubject).
		Str("orders", t.Config.Engine.OrderSubject).
		Str("reports", t.Config.Engine.ReportSubject).
		Msg("trader running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.feed.Run(gctx, t.HandleBar) })
	if t.reports != nil {
		g.Go(func() error { return t.reports.Run(gctx, t.HandleReport) })
	}
	return g.Wait()
}

// IsRunning 是否在运行
func (t *Trader) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// HandleBar 处理一根 bar，时段外的 bar 不进入引擎
func (t *Trader) HandleBar(ctx context.Context, bar strategy.Bar) error {
	if !t.Session.IsInSession(bar.Timestamp) {
		t.mu.Lock()
		t.outOfSession++
		t.mu.Unlock()
		t.logger.Debug().Time("timestamp", bar.Timestamp).Msg("bar outside session, skipped")
		return nil
	}

	t.dispatch.Lock()
	results, err := t.Engine.OnBar(ctx, bar)
	t.dispatch.Unlock()

	t.mu.Lock()
	t.bars++
	t.lastBar = bar.Timestamp
	for _, r := range results {
		t.last[r.Pair.ID()] = r
	}
	t.mu.Unlock()

	for _, r := range results {
		if len(r.Actions) == 0 {
			continue
		}
		t.logger.Info().
			Str("pair", r.Pair.ID()).
			Str("signal", r.Signal.String()).
			Float64("zscore", r.Sample.Value).
			Str("state", r.State.String()).
			Int("actions", len(r.Actions)).
			Msg("position changed")
	}
	return err
}

// Flatten 手动平仓，等价于投递 clear 信号
func (t *Trader) Flatten(ctx context.Context, pairID string) ([]strategy.Action, error) {
	pair, ok := t.byID[pairID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", strategy.ErrUnregisteredPair, pairID)
	}
	t.dispatch.Lock()
	actions, err := t.Engine.Signal(ctx, pair, strategy.SignalClear)
	t.dispatch.Unlock()
	t.logger.Warn().Str("pair", pairID).Int("actions", len(actions)).Err(err).Msg("manual flatten")
	return actions, err
}

// HandleReport 处理网关回报
// 平仓回报先清零执行器本地视图，再交给引擎对账，持有该品种的配对会平掉另一腿
func (t *Trader) HandleReport(ctx context.Context, report executor.ExecutionReport) error {
	t.dispatch.Lock()
	defer t.dispatch.Unlock()

	t.mu.Lock()
	t.reportCount++
	t.mu.Unlock()

	switch report.Type {
	case executor.ReportFill:
		t.Engine.OnOrderFilled(ctx, report.Fill())
		return nil
	case executor.ReportClosed:
		t.Executor.Flatten(report.Instrument)
		t.logger.Warn().Str("instrument", report.Instrument).Str("pnl", report.PnL.String()).Msg("position closed by gateway")
		return t.Engine.OnTradeClosed(ctx, report.TradeClosed())
	default:
		return fmt.Errorf("unknown execution report type %q", report.Type)
	}
}

// Status 返回运行状态
func (t *Trader) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Status{
		Running:      t.running,
		StartedAt:    t.startedAt,
		LastBar:      t.lastBar,
		Bars:         t.bars,
		OutOfSession: t.outOfSession,
		Reports:      t.reportCount,
		Pairs:        len(t.pairs),
		Session:      t.Session.SessionInfo(time.Now()),
	}
}

// PairStatuses 按注册顺序返回各配对状态
func (t *Trader) PairStatuses() []PairStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]PairStatus, 0, len(t.pairs))
	for _, p := range t.pairs {
		ps := PairStatus{Pair: p.ID()}
		if state, err := t.Engine.Book().State(p); err == nil {
			ps.State = state
		}
		if r, ok := t.last[p.ID()]; ok {
			ps.Signal = r.Signal
			ps.Timestamp = r.Sample.Timestamp
			if r.Sample.Defined {
				z := r.Sample.Value
				ps.ZScore = &z
			}
		}
		out = append(out, ps)
	}
	return out
}

func (t *Trader) stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()

	t.logger.Info().Msg("stopping trader...")

	t.saveSnapshot()

	if t.API != nil {
		if err := t.API.Stop(); err != nil {
			t.logger.Error().Err(err).Msg("failed to stop API server")
		}
	}
	t.Engine.Close()
	t.logger.Info().Msg("trader stopped")
}

func (t *Trader) restoreSnapshot() error {
	dir := t.Config.Engine.SnapshotDir
	if dir == "" {
		return nil
	}
	snap, err := strategy.LoadBookSnapshot(dir, snapshotName)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	if err := t.Engine.Book().Restore(*snap); err != nil {
		return err
	}
	t.Executor.Restore(snap.Legs)
	t.logger.Info().Time("saved_at", snap.Timestamp).Int("pairs", len(snap.Positions)).Msg("book restored")
	return nil
}

func (t *Trader) saveSnapshot() {
	dir := t.Config.Engine.SnapshotDir
	if dir == "" {
		return
	}
	snap := t.Engine.Book().Snapshot()
	snap.Legs = t.Executor.Positions()
	if err := strategy.SaveBookSnapshot(dir, snapshotName, snap); err != nil {
		t.logger.Error().Err(err).Msg("failed to save book snapshot")
		return
	}
	t.logger.Info().Str("dir", dir).Msg("book snapshot saved")
}
