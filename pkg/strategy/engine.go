package strategy

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/quantlink-pairs/pkg/metrics"
	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

// ErrEngineClosed is returned when the engine is used after Close
var ErrEngineClosed = errors.New("engine closed")

// EngineConfig 引擎配置
type EngineConfig struct {
	// Params 中的 TotalLength 在注册时按配对设置
	Params spread.Params
	// Stake 每条腿的开仓数量
	Stake decimal.Decimal
	// Workers 单根 bar 并发处理的配对数上限，<=0 时为 CPU 数
	Workers int
}

// Engine 配对注册与逐 bar 分发
// 同一根 bar 上各配对并发处理，bar 之间串行，因此每个配对内部保持时间顺序
type Engine struct {
	cfg        EngineConfig
	classifier *Classifier
	executor   Executor
	book       *Book
	logger     zerolog.Logger

	mu         sync.RWMutex
	strategies []*ZScorePairStrategy
	byID       map[string]*ZScorePairStrategy
	closed     bool
}

// NewEngine 创建引擎，classifier 为 nil 时使用默认阈值
func NewEngine(cfg EngineConfig, classifier *Classifier, executor Executor, logger zerolog.Logger) (*Engine, error) {
	if executor == nil {
		return nil, errors.New("engine requires an executor")
	}
	params := cfg.Params
	params.TotalLength = 0
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Stake.IsPositive() {
		return nil, fmt.Errorf("stake must be positive, got %s", cfg.Stake)
	}
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	logger = logger.With().Str("component", "engine").Logger()
	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		executor:   executor,
		book:       NewBook(executor, cfg.Stake, logger),
		logger:     logger,
		byID:       make(map[string]*ZScorePairStrategy),
	}, nil
}

// Register 注册配对，totalLength 为该次运行的完整序列长度（0 表示不截断）
func (e *Engine) Register(pair spread.Pair, totalLength int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	params := e.cfg.Params
	params.TotalLength = totalLength
	zscore, err := spread.NewRatioZScoreEngine(pair, params)
	if err != nil {
		return err
	}

	machine, err := e.book.Register(pair)
	if err != nil {
		return err
	}

	s := NewZScorePairStrategy(zscore, e.classifier, machine, e.executor, e.book.Exposure, e.logger)
	e.strategies = append(e.strategies, s)
	e.byID[pair.ID()] = s

	e.logger.Info().Str("pair", pair.ID()).Int("total_length", totalLength).Msg("pair registered")
	return nil
}

// RegisterPairs 按顺序注册一组配对
func (e *Engine) RegisterPairs(pairs []spread.Pair, totalLength int) error {
	for _, p := range pairs {
		if err := e.Register(p, totalLength); err != nil {
			return err
		}
	}
	return nil
}

// Deregister 注销配对，丢弃其 z-score 窗口与持仓状态
func (e *Engine) Deregister(pair spread.Pair) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := pair.ID()
	if _, ok := e.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnregisteredPair, id)
	}
	delete(e.byID, id)
	for i, s := range e.strategies {
		if s.pair.ID() == id {
			e.strategies = append(e.strategies[:i], e.strategies[i+1:]...)
			break
		}
	}
	e.book.Deregister(pair)
	return nil
}

// OnBar 将一根 bar 分发给所有配对，结果按注册顺序返回
// z-score 与信号并发计算，执行请求按注册顺序串行发出，成交顺序与调度无关。
// 某个配对出错不影响其他配对，全部错误合并返回
func (e *Engine) OnBar(ctx context.Context, bar Bar) ([]BarResult, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrEngineClosed
	}
	strategies := make([]*ZScorePairStrategy, len(e.strategies))
	copy(strategies, e.strategies)
	e.mu.RUnlock()

	results := make([]BarResult, len(strategies))
	errs := make([]error, len(strategies))

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, s := range strategies {
		i, s := i, s
		g.Go(func() error {
			results[i], errs[i] = s.Evaluate(bar)
			return nil
		})
	}
	_ = g.Wait()

	for i, s := range strategies {
		if errs[i] != nil {
			continue
		}
		errs[i] = s.Execute(ctx, bar, &results[i])
	}

	metrics.BarsProcessed.Inc()
	return results, errors.Join(errs...)
}

// OnOrderFilled 将成交回报转发给涉及该品种的配对
func (e *Engine) OnOrderFilled(ctx context.Context, fill Fill) {
	for _, s := range e.snapshot() {
		s.OnOrderFilled(ctx, fill)
	}
}

// OnTradeClosed 将平仓回报转发给涉及该品种的配对
func (e *Engine) OnTradeClosed(ctx context.Context, trade TradeClosed) error {
	var errs []error
	for _, s := range e.snapshot() {
		if err := s.OnTradeClosed(ctx, trade); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Signal 直接向配对投递信号，未注册时返回 ErrUnregisteredPair
func (e *Engine) Signal(ctx context.Context, pair spread.Pair, signal Signal) ([]Action, error) {
	return e.book.Apply(ctx, pair, signal)
}

// Book 返回持仓状态簿
func (e *Engine) Book() *Book {
	return e.book
}

// Strategy 返回配对的策略实例
func (e *Engine) Strategy(pair spread.Pair) (*ZScorePairStrategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.byID[pair.ID()]
	return s, ok
}

// Pairs 按注册顺序返回配对
func (e *Engine) Pairs() []spread.Pair {
	return e.book.Pairs()
}

// Close 注销全部配对
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	for _, s := range e.strategies {
		e.book.Deregister(s.pair)
	}
	e.strategies = nil
	e.byID = make(map[string]*ZScorePairStrategy)
	e.closed = true
	e.logger.Info().Msg("engine closed")
}

func (e *Engine) snapshot() []*ZScorePairStrategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*ZScorePairStrategy, len(e.strategies))
	copy(out, e.strategies)
	return out
}
