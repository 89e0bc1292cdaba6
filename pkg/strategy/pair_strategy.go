package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yourusername/quantlink-pairs/pkg/metrics"
	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

// Bar 一个时间点上全部品种的收盘价
type Bar struct {
	Timestamp time.Time          `json:"timestamp"`
	Prices    map[string]float64 `json:"prices"`
}

// Price 返回品种价格，缺失时为 NaN
func (b Bar) Price(instrument string) float64 {
	if p, ok := b.Prices[instrument]; ok {
		return p
	}
	return math.NaN()
}

// BarResult 单个配对在一根 bar 上的处理结果
type BarResult struct {
	Pair    spread.Pair         `json:"pair"`
	Sample  spread.ZScoreSample `json:"sample"`
	Signal  Signal              `json:"signal"`
	State   PositionState       `json:"state"`
	Actions []Action            `json:"actions,omitempty"`
}

// Fill 执行器回报的成交
type Fill struct {
	Instrument string          `json:"instrument"`
	Direction  Direction       `json:"direction"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	Timestamp  time.Time       `json:"timestamp"`
}

// TradeClosed 执行器回报的平仓
type TradeClosed struct {
	Instrument string          `json:"instrument"`
	PnL        decimal.Decimal `json:"pnl"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PairStrategy 由外部调度器按事件同步调用
type PairStrategy interface {
	// OnBar 处理一根 bar，返回该配对的信号与动作
	OnBar(ctx context.Context, bar Bar) (BarResult, error)

	// OnOrderFilled 成交回报
	OnOrderFilled(ctx context.Context, fill Fill)

	// OnTradeClosed 平仓回报，必要时与执行器对账
	OnTradeClosed(ctx context.Context, trade TradeClosed) error
}

// ZScorePairStrategy 比值 z-score 均值回归策略
type ZScorePairStrategy struct {
	pair       spread.Pair
	zscore     *spread.RatioZScoreEngine
	classifier *Classifier
	machine    *PositionMachine
	executor   Executor
	exposure   func(instrument string) decimal.Decimal
	logger     zerolog.Logger

	fills int
}

var _ PairStrategy = (*ZScorePairStrategy)(nil)

// NewZScorePairStrategy 组装单个配对的策略
// exposure 返回全部配对在某品种上记录的持仓之和，为 nil 时只计本配对
func NewZScorePairStrategy(
	zscore *spread.RatioZScoreEngine,
	classifier *Classifier,
	machine *PositionMachine,
	executor Executor,
	exposure func(instrument string) decimal.Decimal,
	logger zerolog.Logger,
) *ZScorePairStrategy {
	pair := zscore.Pair()
	if exposure == nil {
		exposure = machine.Size
	}
	return &ZScorePairStrategy{
		pair:       pair,
		zscore:     zscore,
		classifier: classifier,
		machine:    machine,
		executor:   executor,
		exposure:   exposure,
		logger:     logger.With().Str("pair", pair.ID()).Logger(),
	}
}

// Pair 返回配对
func (s *ZScorePairStrategy) Pair() spread.Pair {
	return s.pair
}

// State 返回当前持仓状态
func (s *ZScorePairStrategy) State() PositionState {
	return s.machine.State()
}

// OnBar 计算 z-score，分类，驱动状态机
// 未定义的样本只产生 Hold，不作为错误返回
func (s *ZScorePairStrategy) OnBar(ctx context.Context, bar Bar) (BarResult, error) {
	result, err := s.Evaluate(bar)
	if err != nil {
		return result, err
	}
	return result, s.Execute(ctx, bar, &result)
}

// Evaluate 更新 z-score 并分类，不触发执行请求
func (s *ZScorePairStrategy) Evaluate(bar Bar) (BarResult, error) {
	sample, err := s.zscore.Update(bar.Timestamp, bar.Price(s.pair.A), bar.Price(s.pair.B))
	if err != nil {
		return BarResult{Pair: s.pair, State: s.machine.State()}, err
	}

	signal := s.classifier.Classify(sample)
	if sample.Defined {
		metrics.ZScore.WithLabelValues(s.pair.ID()).Set(sample.Value)
	} else if sample.Reason != spread.ReasonWarmup {
		s.logger.Debug().Int("index", sample.Index).Str("reason", string(sample.Reason)).Msg("z-score undefined")
	}
	metrics.SignalsTotal.WithLabelValues(s.pair.ID(), signal.String()).Inc()

	return BarResult{
		Pair:   s.pair,
		Sample: sample,
		Signal: signal,
		State:  s.machine.State(),
	}, nil
}

// Execute 将 Evaluate 得到的信号交给状态机，填充动作与新状态
func (s *ZScorePairStrategy) Execute(ctx context.Context, bar Bar, result *BarResult) error {
	actions, err := s.machine.Apply(ctx, result.Signal)
	result.Actions = actions
	result.State = s.machine.State()
	if err != nil {
		return fmt.Errorf("bar %s: %w", bar.Timestamp.Format(time.RFC3339), err)
	}
	return nil
}

// OnOrderFilled 记录成交
func (s *ZScorePairStrategy) OnOrderFilled(_ context.Context, fill Fill) {
	if !s.isLeg(fill.Instrument) {
		return
	}
	s.fills++
	s.logger.Debug().
		Str("instrument", fill.Instrument).
		Str("direction", fill.Direction.String()).
		Str("size", fill.Size.String()).
		Str("price", fill.Price.String()).
		Msg("order filled")
}

// OnTradeClosed 某品种在执行器侧归零后对账
// 执行器持仓等于全部配对记录之和时，归零来自本引擎自身的请求（含其他配对的对冲），不做处理；
// 否则视为外部平仓，本配对在该品种上的腿作废，另一条腿反向平掉并记为 Flat
func (s *ZScorePairStrategy) OnTradeClosed(ctx context.Context, trade TradeClosed) error {
	if !s.isLeg(trade.Instrument) {
		return nil
	}
	s.logger.Info().Str("instrument", trade.Instrument).Str("pnl", trade.PnL.String()).Msg("trade closed")

	if s.machine.Size(trade.Instrument).IsZero() {
		return nil
	}

	actual, err := s.executor.PositionSize(ctx, trade.Instrument)
	if err != nil {
		return &ExecutionError{Pair: s.pair.ID(), Stage: StageReconcile, Instrument: trade.Instrument, Err: err}
	}
	if expected := s.exposure(trade.Instrument); actual.Equal(expected) {
		return nil
	}

	_, err = s.machine.DropLeg(ctx, trade.Instrument)
	return err
}

// Fills 返回已记录的成交数
func (s *ZScorePairStrategy) Fills() int {
	return s.fills
}

func (s *ZScorePairStrategy) isLeg(instrument string) bool {
	return instrument == s.pair.A || instrument == s.pair.B
}
