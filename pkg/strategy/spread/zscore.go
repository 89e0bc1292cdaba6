package spread

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/yourusername/quantlink-pairs/pkg/stats"
)

// RatioZScoreEngine 维护单个有序配对的滚动比值统计
//
//	z = (mean(ratio, short) - mean(ratio, long)) / std(ratio, long)
//
// 标准差为样本标准差 (n-1)。每根 bar 的更新为 O(1) 摊销。
type RatioZScoreEngine struct {
	pair       Pair
	params     Params
	splitIndex int

	short *stats.Window
	long  *stats.Window

	index   int
	lastTS  time.Time
	hasLast bool
	last    ZScoreSample

	mu sync.RWMutex
}

// NewRatioZScoreEngine 创建 z-score 引擎
func NewRatioZScoreEngine(pair Pair, params Params) (*RatioZScoreEngine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("pair %s: %w", pair.ID(), err)
	}

	return &RatioZScoreEngine{
		pair:       pair,
		params:     params,
		splitIndex: params.SplitIndex(),
		short:      stats.NewWindow(params.WindowShort),
		long:       stats.NewWindow(params.WindowLong),
	}, nil
}

// Update 输入一根 bar 的两腿价格，返回该 bar 的 z-score 样本
// 时间戳必须严格递增；超出样本内区间的 bar 不更新滚动统计
func (e *RatioZScoreEngine) Update(ts time.Time, priceA, priceB float64) (ZScoreSample, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hasLast && !ts.After(e.lastTS) {
		return ZScoreSample{}, fmt.Errorf("pair %s: %w: %s not after %s",
			e.pair.ID(), ErrOutOfOrder, ts.Format(time.RFC3339Nano), e.lastTS.Format(time.RFC3339Nano))
	}
	e.lastTS = ts
	e.hasLast = true

	idx := e.index
	e.index++

	ratio, ok := Ratio(priceA, priceB)
	sample := ZScoreSample{
		Index:     idx,
		Timestamp: ts,
		Ratio:     ratio,
	}

	if e.splitIndex >= 0 && idx >= e.splitIndex {
		sample.Reason = ReasonOutOfSample
		e.last = sample
		return sample, nil
	}

	if ok {
		e.short.Push(ratio)
		e.long.Push(ratio)
	} else {
		e.short.PushInvalid()
		e.long.PushInvalid()
	}

	e.evaluate(&sample)
	e.last = sample
	return sample, nil
}

// evaluate 根据当前窗口状态填充样本
func (e *RatioZScoreEngine) evaluate(sample *ZScoreSample) {
	if !e.long.Full() {
		sample.Reason = ReasonWarmup
		return
	}
	if e.long.Invalid() > 0 || e.short.Invalid() > 0 {
		sample.Reason = ReasonInvalidRatio
		return
	}

	longStats := e.long.Stats()
	sample.ShortMean = e.short.Mean()
	sample.LongMean = longStats.Mean
	sample.LongStd = longStats.Std

	if longStats.Std <= stats.MinStd {
		sample.Reason = ReasonZeroVariance
		return
	}

	sample.Value = (sample.ShortMean - sample.LongMean) / sample.LongStd
	sample.Defined = true
}

// Pair 返回配对
func (e *RatioZScoreEngine) Pair() Pair {
	return e.pair
}

// Params 返回参数
func (e *RatioZScoreEngine) Params() Params {
	return e.params
}

// Last 返回最近一次 Update 的结果
func (e *RatioZScoreEngine) Last() ZScoreSample {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Observations 返回已处理的 bar 数量
func (e *RatioZScoreEngine) Observations() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index
}

// Reset 清空窗口与时间状态
func (e *RatioZScoreEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.short.Reset()
	e.long.Reset()
	e.index = 0
	e.hasLast = false
	e.lastTS = time.Time{}
	e.last = ZScoreSample{}
}

// Compute 对完整比值序列做批量计算，每根 bar 直接对窗口切片重算
// 结果与逐 bar 的 Update 一致，用于报表与交叉校验
func Compute(ratios []float64, params Params) ([]ZScoreSample, error) {
	if params.TotalLength == 0 {
		params.TotalLength = len(ratios)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	split := params.SplitIndex()
	out := make([]ZScoreSample, len(ratios))
	for i, r := range ratios {
		s := ZScoreSample{Index: i, Ratio: r}
		if !finite(r) {
			s.Ratio = math.NaN()
		}

		switch {
		case i >= split:
			s.Reason = ReasonOutOfSample
		case i+1 < params.WindowLong:
			s.Reason = ReasonWarmup
		default:
			longWin := ratios[i+1-params.WindowLong : i+1]
			shortWin := ratios[i+1-params.WindowShort : i+1]
			if !stats.Finite(longWin) {
				s.Reason = ReasonInvalidRatio
				break
			}
			s.ShortMean = stats.Mean(shortWin)
			s.LongMean = stats.Mean(longWin)
			s.LongStd = stats.SampleStdDev(longWin)
			if s.LongStd <= stats.MinStd {
				s.Reason = ReasonZeroVariance
				break
			}
			s.Value = (s.ShortMean - s.LongMean) / s.LongStd
			s.Defined = true
		}
		out[i] = s
	}
	return out, nil
}

// Ratios 由两腿价格序列计算比值序列，未定义处为 NaN
func Ratios(pricesA, pricesB []float64) ([]float64, error) {
	if len(pricesA) != len(pricesB) {
		return nil, fmt.Errorf("%w: legs have %d and %d prices", ErrInvalidParams, len(pricesA), len(pricesB))
	}
	out := make([]float64, len(pricesA))
	for i := range pricesA {
		out[i], _ = Ratio(pricesA[i], pricesB[i])
	}
	return out, nil
}
