package screener

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/quantlink-pairs/pkg/metrics"
	"github.com/yourusername/quantlink-pairs/pkg/stats"
	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

// TestFunc 对 (A, B) 做协整检验，A 对 B 回归
type TestFunc func(a, b []float64) (stats.CointResult, error)

// Options 筛选参数
type Options struct {
	PValueThreshold float64 // 接受条件 p < threshold，默认 0.05
	MinObservations int     // 默认 20
	Workers         int     // 默认 CPU 数
	SplitRatio      float64 // 只使用序列前 SplitRatio 部分，默认 1.0
	ProgressEvery   int     // 每完成多少个配对输出一次进度，0 关闭
}

// DefaultOptions 默认筛选参数
func DefaultOptions() Options {
	return Options{
		PValueThreshold: 0.05,
		MinObservations: 20,
		Workers:         runtime.NumCPU(),
		SplitRatio:      1.0,
	}
}

// Validate 检查参数
func (o Options) Validate() error {
	if math.IsNaN(o.PValueThreshold) || o.PValueThreshold <= 0 || o.PValueThreshold >= 1 {
		return fmt.Errorf("%w: p-value threshold %v not in (0, 1)", ErrInvalidOptions, o.PValueThreshold)
	}
	if o.MinObservations < 3 {
		return fmt.Errorf("%w: min observations %d below 3", ErrInvalidOptions, o.MinObservations)
	}
	if math.IsNaN(o.SplitRatio) || o.SplitRatio <= 0 || o.SplitRatio > 1 {
		return fmt.Errorf("%w: split ratio %v not in (0, 1]", ErrInvalidOptions, o.SplitRatio)
	}
	return nil
}

// Screener 两两协整筛选
type Screener struct {
	opts   Options
	test   TestFunc
	logger zerolog.Logger
}

// New 创建筛选器
func New(opts Options, logger zerolog.Logger) (*Screener, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Screener{
		opts:   opts,
		test:   stats.EngleGranger,
		logger: logger.With().Str("component", "screener").Logger(),
	}, nil
}

// WithTest 替换协整检验实现
func (s *Screener) WithTest(fn TestFunc) *Screener {
	s.test = fn
	return s
}

// Options 返回筛选参数
func (s *Screener) Options() Options {
	return s.opts
}

type outcome struct {
	candidate PairCandidate
	accepted  bool
	skipped   *SkippedPair
}

// Screen 对全部无重复组合做协整检验
// 组合按品种首次出现顺序枚举 (i<j)，A=第 i 个，B=第 j 个；
// 检验并发执行，结果按枚举顺序合并
func (s *Screener) Screen(ctx context.Context, u Universe) (*Result, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	n := len(u)
	total := n * (n - 1) / 2
	length := u.Length()
	if s.opts.SplitRatio < 1 {
		length = int(float64(length) * s.opts.SplitRatio)
	}

	s.logger.Info().
		Int("instruments", n).
		Int("combinations", total).
		Int("observations", length).
		Float64("threshold", s.opts.PValueThreshold).
		Msg("screening started")

	outcomes := make([]outcome, total)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	k := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			ordinal := k
			a, b := u[i], u[j]
			k++

			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcomes[ordinal] = s.evaluate(a.Prices[:length], b.Prices[:length], spread.Pair{A: a.Instrument, B: b.Instrument})

				if every := s.opts.ProgressEvery; every > 0 {
					if d := done.Add(1); d%int64(every) == 0 {
						s.logger.Info().Int64("done", d).Int("total", total).Msg("screening progress")
					}
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("screening aborted: %w", err)
	}

	result := &Result{
		Evaluated: total,
		Threshold: s.opts.PValueThreshold,
	}
	for _, o := range outcomes {
		switch {
		case o.skipped != nil:
			result.Skipped = append(result.Skipped, *o.skipped)
			metrics.PairsScreened.WithLabelValues("skipped").Inc()
		case o.accepted:
			result.Pairs = append(result.Pairs, o.candidate)
			metrics.PairsScreened.WithLabelValues("accepted").Inc()
		default:
			result.Rejected++
			metrics.PairsScreened.WithLabelValues("rejected").Inc()
		}
	}

	elapsed := time.Since(start)
	metrics.ScreenDuration.Observe(elapsed.Seconds())
	s.logger.Info().
		Int("accepted", len(result.Pairs)).
		Int("rejected", result.Rejected).
		Int("skipped", len(result.Skipped)).
		Dur("elapsed", elapsed).
		Msg("screening finished")

	return result, nil
}

func (s *Screener) evaluate(a, b []float64, pair spread.Pair) outcome {
	skip := func(err error) outcome {
		reason := "degenerate_regression"
		switch {
		case errors.Is(err, ErrInsufficientHistory):
			reason = "insufficient_history"
		case errors.Is(err, ErrConstantSeries):
			reason = "constant_series"
		}
		s.logger.Debug().Str("pair", pair.ID()).Err(err).Msg("pair skipped")
		return outcome{skipped: &SkippedPair{Pair: pair, Reason: reason, Err: err}}
	}

	if len(a) < s.opts.MinObservations {
		return skip(fmt.Errorf("%w: %d observations, need %d", ErrInsufficientHistory, len(a), s.opts.MinObservations))
	}

	res, err := s.test(a, b)
	if err != nil {
		return skip(classify(err))
	}
	if math.IsNaN(res.PValue) {
		return skip(fmt.Errorf("%w: p-value is NaN", ErrDegenerateRegression))
	}

	candidate := PairCandidate{
		Pair:         pair,
		PValue:       res.PValue,
		TestStat:     res.Stat,
		HedgeRatio:   res.HedgeRatio,
		Lag:          res.Lag,
		Observations: res.NObs,
		Correlation:  stats.Correlation(a, b),
		Collinear:    res.Collinear,
	}
	if math.IsInf(candidate.TestStat, 0) {
		// 完全共线时统计量为 -Inf，导出时不可序列化
		candidate.TestStat = 0
	}
	accepted := res.PValue < s.opts.PValueThreshold

	s.logger.Debug().
		Str("pair", pair.ID()).
		Float64("p_value", res.PValue).
		Bool("accepted", accepted).
		Msg("pair tested")

	return outcome{candidate: candidate, accepted: accepted}
}

// classify 将统计层错误映射为筛选错误类别
func classify(err error) error {
	switch {
	case errors.Is(err, stats.ErrSampleTooShort):
		return fmt.Errorf("%w: %v", ErrInsufficientHistory, err)
	case errors.Is(err, stats.ErrConstantSeries):
		return fmt.Errorf("%w: %v", ErrConstantSeries, err)
	default:
		return fmt.Errorf("%w: %v", ErrDegenerateRegression, err)
	}
}
