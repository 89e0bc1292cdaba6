package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/quantlink-pairs/pkg/executor"
	"github.com/yourusername/quantlink-pairs/pkg/marketdata"
	"github.com/yourusername/quantlink-pairs/pkg/screener"
	"github.com/yourusername/quantlink-pairs/pkg/strategy"
	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

// ErrNoPairs is returned when a run has nothing to trade
var ErrNoPairs = errors.New("no pairs to replay")

// maxSettleRounds 单根 bar 内成交 -> 对账 -> 成交 的最大轮数
const maxSettleRounds = 8

// Config 回放配置
type Config struct {
	Engine     strategy.EngineConfig
	Classifier *strategy.Classifier
	Broker     executor.BrokerOptions
	// ProgressEvery 每处理多少根 bar 输出一次进度，0 关闭
	ProgressEvery int
}

// Runner 逐 bar 驱动引擎，模拟执行器按当前 bar 价格成交
type Runner struct {
	cfg    Config
	logger zerolog.Logger
}

// NewRunner 创建回放器
func NewRunner(cfg Config, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: logger.With().Str("component", "backtest").Logger(),
	}
}

type replay struct {
	engine  *strategy.Engine
	paper   *executor.Paper
	stats   *Statistics
	cursor  int
	reports map[string]*PairReport
	errs    []string
}

// Run 回放全部 bar，配对按给定顺序注册，完整序列长度取 u.Length()
func (r *Runner) Run(ctx context.Context, u screener.Universe, pairs []spread.Pair) (*Result, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, ErrNoPairs
	}
	for _, p := range pairs {
		for _, inst := range []string{p.A, p.B} {
			if _, ok := u.Lookup(inst); !ok {
				return nil, fmt.Errorf("pair %s: instrument %s not in data", p.ID(), inst)
			}
		}
	}

	r.logger.Info().Int("pairs", len(pairs)).Int("bars", u.Length()).Msg("starting replay")

	var current strategy.Bar
	paper := executor.NewPaper(r.cfg.Broker, r.logger)
	paper.SetPriceSource(func(instrument string) (float64, bool) {
		px, ok := current.Prices[instrument]
		return px, ok && !math.IsNaN(px) && !math.IsInf(px, 0)
	})
	paper.SetClock(func() time.Time { return current.Timestamp })

	engine, err := strategy.NewEngine(r.cfg.Engine, r.cfg.Classifier, paper, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Close()

	if err := engine.RegisterPairs(pairs, u.Length()); err != nil {
		return nil, fmt.Errorf("failed to register pairs: %w", err)
	}

	rp := &replay{
		engine:  engine,
		paper:   paper,
		stats:   NewStatistics(r.cfg.Broker),
		reports: make(map[string]*PairReport, len(pairs)),
	}
	for _, p := range pairs {
		rp.reports[p.ID()] = &PairReport{
			Pair:        p,
			SignalCount: make(map[strategy.Signal]int),
		}
	}

	bars := marketdata.Bars(u)
	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current = bar
		for inst, px := range bar.Prices {
			rp.stats.UpdatePrice(inst, px)
		}

		results, err := engine.OnBar(ctx, bar)
		if err != nil {
			r.logger.Error().Err(err).Time("timestamp", bar.Timestamp).Msg("bar processing failed")
			rp.errs = append(rp.errs, err.Error())
		}
		rp.record(results)

		if err := r.settle(ctx, rp); err != nil {
			rp.errs = append(rp.errs, err.Error())
		}
		rp.stats.MarkToMarket(bar.Timestamp)

		if r.cfg.ProgressEvery > 0 && (i+1)%r.cfg.ProgressEvery == 0 {
			r.logger.Info().
				Int("done", i+1).
				Int("total", len(bars)).
				Str("equity", rp.stats.Equity().StringFixed(2)).
				Msg("replay progress")
		}
	}

	result := &Result{Bars: len(bars), Errors: rp.errs}
	if len(bars) > 0 {
		result.StartTime = bars[0].Timestamp
		result.EndTime = bars[len(bars)-1].Timestamp
	}
	for _, p := range pairs {
		rep := rp.reports[p.ID()]
		if st, err := engine.Book().State(p); err == nil {
			rep.FinalState = st
		}
		result.Pairs = append(result.Pairs, *rep)
	}
	rp.stats.Fill(result)

	r.logger.Info().
		Int("trades", len(result.Trades)).
		Str("final_equity", result.FinalEquity.StringFixed(2)).
		Float64("max_drawdown", result.MaxDrawdown).
		Int("errors", len(result.Errors)).
		Msg("replay completed")
	return result, nil
}

// record 将 bar 结果写入对应配对的信号流
func (rp *replay) record(results []strategy.BarResult) {
	for _, res := range results {
		rep, ok := rp.reports[res.Pair.ID()]
		if !ok {
			continue
		}
		point := SignalPoint{
			Index:     res.Sample.Index,
			Timestamp: res.Sample.Timestamp,
			Reason:    res.Sample.Reason,
			Signal:    res.Signal,
			Code:      res.Signal.Code(),
			State:     res.State,
		}
		if res.Sample.Defined {
			z := res.Sample.Value
			point.ZScore = &z
		}
		for _, a := range res.Actions {
			point.Actions = append(point.Actions, a.String())
		}
		if len(res.Actions) > 0 {
			rep.Transitions++
		}
		rep.SignalCount[res.Signal]++
		rep.Signals = append(rep.Signals, point)
	}
}

// settle 将新成交回报给引擎；持仓归零的成交作为平仓回报，可能触发对账平仓
func (r *Runner) settle(ctx context.Context, rp *replay) error {
	var errs []error
	for round := 0; round < maxSettleRounds; round++ {
		fills := rp.paper.FillsSince(rp.cursor)
		if len(fills) == 0 {
			return errors.Join(errs...)
		}
		rp.cursor += len(fills)

		var closed []strategy.TradeClosed
		for _, f := range fills {
			trade := rp.stats.OnFill(f)
			rp.engine.OnOrderFilled(ctx, f)
			if trade.Closed {
				closed = append(closed, strategy.TradeClosed{
					Instrument: f.Instrument,
					PnL:        trade.PnL,
					Timestamp:  f.Timestamp,
				})
			}
		}
		for _, tc := range closed {
			if err := rp.engine.OnTradeClosed(ctx, tc); err != nil {
				r.logger.Error().Err(err).Str("instrument", tc.Instrument).Msg("reconcile failed")
				errs = append(errs, err)
			}
		}
	}
	r.logger.Warn().Int("rounds", maxSettleRounds).Msg("settlement did not converge")
	return errors.Join(errs...)
}
