// Package spread computes the rolling price-ratio z-score of an ordered instrument pair
package spread

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrOutOfOrder is returned when an observation does not strictly follow the previous one in time
	ErrOutOfOrder = errors.New("observation out of order")

	// ErrInvalidParams is returned when window or split parameters are invalid
	ErrInvalidParams = errors.New("invalid z-score parameters")
)

// Pair 有序品种对，A 为分子，B 为分母
// (A,B) 与 (B,A) 是不同的配对
type Pair struct {
	A string `json:"a" yaml:"a"`
	B string `json:"b" yaml:"b"`
}

// ID 返回方向性标识 "A/B"
func (p Pair) ID() string {
	return p.A + "/" + p.B
}

func (p Pair) String() string {
	return p.ID()
}

// Reason 说明 z-score 未定义的原因
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonWarmup       Reason = "warmup"        // 长窗口尚未填满
	ReasonInvalidRatio Reason = "invalid_ratio" // 窗口内存在未定义比值
	ReasonZeroVariance Reason = "zero_variance" // 长窗口标准差为零
	ReasonOutOfSample  Reason = "out_of_sample" // 超出样本内区间
)

// ZScoreSample 单根 bar 的比值与 z-score
type ZScoreSample struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Ratio     float64   `json:"ratio"` // 未定义时为 NaN
	ShortMean float64   `json:"short_mean"`
	LongMean  float64   `json:"long_mean"`
	LongStd   float64   `json:"long_std"`
	Value     float64   `json:"value"`
	Defined   bool      `json:"defined"`
	Reason    Reason    `json:"reason,omitempty"`
}

// Params z-score 计算参数
type Params struct {
	WindowShort int     `yaml:"window_size_short" json:"window_size_short"`
	WindowLong  int     `yaml:"window_size_long" json:"window_size_long"`
	SplitRatio  float64 `yaml:"split_ratio" json:"split_ratio"`
	// TotalLength 注册时提供的完整序列长度，0 表示不做样本内截断
	TotalLength int `yaml:"-" json:"total_length"`
}

// DefaultParams 默认参数：短窗口 5，长窗口 60，不截断
func DefaultParams() Params {
	return Params{
		WindowShort: 5,
		WindowLong:  60,
		SplitRatio:  1.0,
	}
}

// Validate 检查参数
func (p Params) Validate() error {
	if p.WindowShort <= 0 || p.WindowLong <= 0 {
		return fmt.Errorf("%w: window sizes must be positive (short=%d, long=%d)",
			ErrInvalidParams, p.WindowShort, p.WindowLong)
	}
	if p.WindowLong < 2 {
		return fmt.Errorf("%w: long window must hold at least 2 samples", ErrInvalidParams)
	}
	if p.WindowShort > p.WindowLong {
		return fmt.Errorf("%w: short window %d exceeds long window %d",
			ErrInvalidParams, p.WindowShort, p.WindowLong)
	}
	if math.IsNaN(p.SplitRatio) || p.SplitRatio <= 0 || p.SplitRatio > 1 {
		return fmt.Errorf("%w: split ratio %v not in (0, 1]", ErrInvalidParams, p.SplitRatio)
	}
	if p.TotalLength < 0 {
		return fmt.Errorf("%w: negative total length", ErrInvalidParams)
	}
	return nil
}

// SplitIndex 返回样本内区间的结束下标（不含），-1 表示不截断
func (p Params) SplitIndex() int {
	if p.TotalLength <= 0 {
		return -1
	}
	return int(float64(p.TotalLength) * p.SplitRatio)
}

// Ratio 计算 priceA/priceB，分母为零或任一价格非有限时未定义
func Ratio(priceA, priceB float64) (float64, bool) {
	if priceB == 0 || !finite(priceA) || !finite(priceB) {
		return math.NaN(), false
	}
	r := priceA / priceB
	if !finite(r) {
		return math.NaN(), false
	}
	return r, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
