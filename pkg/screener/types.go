// Package screener finds cointegrated instrument pairs in an aligned universe of price series
package screener

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

var (
	// ErrInsufficientHistory marks a pair skipped for having too few observations
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrConstantSeries marks a pair skipped because one leg has zero variance
	ErrConstantSeries = errors.New("constant series")

	// ErrDegenerateRegression marks a pair skipped because the regression is singular or non-finite
	ErrDegenerateRegression = errors.New("degenerate regression")

	// ErrInvalidOptions is returned for out-of-range screening options
	ErrInvalidOptions = errors.New("invalid screening options")
)

// AlignmentError 输入序列没有共同的时间索引，整个批次失败
type AlignmentError struct {
	Instrument string
	Reference  string
	Index      int
	Reason     string
}

func (e *AlignmentError) Error() string {
	if e.Reference == "" {
		return fmt.Sprintf("alignment: %s: %s", e.Instrument, e.Reason)
	}
	return fmt.Sprintf("alignment: %s vs %s at index %d: %s", e.Instrument, e.Reference, e.Index, e.Reason)
}

// InstrumentSeries 单个品种的收盘价序列
type InstrumentSeries struct {
	Instrument string
	Timestamps []time.Time
	Prices     []float64
}

// Len 观测数
func (s InstrumentSeries) Len() int {
	return len(s.Prices)
}

// Universe 按首次出现顺序排列的品种集合
type Universe []InstrumentSeries

// Instruments 返回品种名
func (u Universe) Instruments() []string {
	out := make([]string, len(u))
	for i, s := range u {
		out[i] = s.Instrument
	}
	return out
}

// Length 公共时间索引长度
func (u Universe) Length() int {
	if len(u) == 0 {
		return 0
	}
	return u[0].Len()
}

// Lookup 按名称查找序列
func (u Universe) Lookup(instrument string) (InstrumentSeries, bool) {
	for _, s := range u {
		if s.Instrument == instrument {
			return s, true
		}
	}
	return InstrumentSeries{}, false
}

// Validate 检查全部序列共享同一时间索引
func (u Universe) Validate() error {
	seen := make(map[string]bool, len(u))
	for _, s := range u {
		if s.Instrument == "" {
			return &AlignmentError{Instrument: "<empty>", Reason: "missing instrument name"}
		}
		if seen[s.Instrument] {
			return &AlignmentError{Instrument: s.Instrument, Reason: "duplicate instrument"}
		}
		seen[s.Instrument] = true

		if s.Timestamps != nil && len(s.Timestamps) != len(s.Prices) {
			return &AlignmentError{
				Instrument: s.Instrument,
				Reason:     fmt.Sprintf("%d timestamps for %d prices", len(s.Timestamps), len(s.Prices)),
			}
		}
		for i := 1; i < len(s.Timestamps); i++ {
			if !s.Timestamps[i].After(s.Timestamps[i-1]) {
				return &AlignmentError{Instrument: s.Instrument, Index: i, Reason: "timestamps not strictly ascending"}
			}
		}
	}

	if len(u) < 2 {
		return nil
	}
	ref := u[0]
	for _, s := range u[1:] {
		if s.Len() != ref.Len() {
			return &AlignmentError{
				Instrument: s.Instrument,
				Reference:  ref.Instrument,
				Index:      min(s.Len(), ref.Len()),
				Reason:     fmt.Sprintf("length %d differs from %d", s.Len(), ref.Len()),
			}
		}
		if ref.Timestamps == nil || s.Timestamps == nil {
			continue
		}
		for i := range s.Timestamps {
			if !s.Timestamps[i].Equal(ref.Timestamps[i]) {
				return &AlignmentError{
					Instrument: s.Instrument,
					Reference:  ref.Instrument,
					Index:      i,
					Reason:     "timestamp mismatch",
				}
			}
		}
	}
	return nil
}

// Sample 以固定种子随机抽取 n 个品种，保持原有顺序
func (u Universe) Sample(n int, seed int64) Universe {
	if n <= 0 || n >= len(u) {
		return u
	}
	rng := rand.New(rand.NewSource(seed))
	idx := rng.Perm(len(u))[:n]
	sort.Ints(idx)

	out := make(Universe, 0, n)
	for _, i := range idx {
		out = append(out, u[i])
	}
	return out
}

// PairCandidate 通过协整检验的有序配对
type PairCandidate struct {
	spread.Pair `yaml:",inline"`
	PValue       float64 `json:"p_value" yaml:"p_value"`
	TestStat     float64 `json:"test_stat" yaml:"test_stat"`
	HedgeRatio   float64 `json:"hedge_ratio" yaml:"hedge_ratio"`
	Lag          int     `json:"lag" yaml:"lag"`
	Observations int     `json:"observations" yaml:"observations"`
	Correlation  float64 `json:"correlation" yaml:"correlation"`
	Collinear    bool    `json:"collinear,omitempty" yaml:"collinear,omitempty"`
}

// SkippedPair 因数据问题跳过的配对
type SkippedPair struct {
	Pair   spread.Pair `json:"pair" yaml:"pair"`
	Reason string      `json:"reason" yaml:"reason"`
	Err    error       `json:"-" yaml:"-"`
}

// Result 一次筛选的结果，Pairs 按枚举顺序排列
type Result struct {
	Pairs     []PairCandidate `json:"pairs" yaml:"pairs"`
	Skipped   []SkippedPair   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Rejected  int             `json:"rejected" yaml:"rejected"`
	Evaluated int             `json:"evaluated" yaml:"evaluated"`
	Threshold float64         `json:"threshold" yaml:"threshold"`
}

// OrderedPairs 返回候选配对的方向性标识
func (r *Result) OrderedPairs() []spread.Pair {
	out := make([]spread.Pair, len(r.Pairs))
	for i, c := range r.Pairs {
		out[i] = c.Pair
	}
	return out
}
