package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

// ErrInvalidThresholds is returned when classifier thresholds violate 0 <= lower < upper
var ErrInvalidThresholds = errors.New("invalid signal thresholds")

// Signal 离散交易信号
type Signal int

const (
	SignalHold  Signal = iota // 无操作
	SignalSell                // 比值相对高估：做空价差
	SignalBuy                 // 比值相对低估：做多价差
	SignalClear               // 回归均值：平仓
)

// AllSignals 全部信号
var AllSignals = []Signal{SignalSell, SignalBuy, SignalClear, SignalHold}

func (s Signal) String() string {
	switch s {
	case SignalSell:
		return "sell"
	case SignalBuy:
		return "buy"
	case SignalClear:
		return "clear"
	case SignalHold:
		return "hold"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Code 信号数值编码：sell=-1, buy=1, clear=0, hold=-2
func (s Signal) Code() int {
	switch s {
	case SignalSell:
		return -1
	case SignalBuy:
		return 1
	case SignalClear:
		return 0
	default:
		return -2
	}
}

// MarshalText 以名称序列化
func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 从名称解析
func (s *Signal) UnmarshalText(text []byte) error {
	switch string(text) {
	case "sell":
		*s = SignalSell
	case "buy":
		*s = SignalBuy
	case "clear":
		*s = SignalClear
	case "hold":
		*s = SignalHold
	default:
		return fmt.Errorf("unknown signal %q", string(text))
	}
	return nil
}

// Classifier 将 z-score 映射为信号，阈值比较均为严格不等式
//
//	undefined      -> Hold
//	z > upper      -> Sell
//	z < -upper     -> Buy
//	|z| < lower    -> Clear
//	otherwise      -> Hold
type Classifier struct {
	upper float64
	lower float64
}

// NewClassifier 创建分类器，要求 0 <= lower < upper 且均为有限值
func NewClassifier(upper, lower float64) (*Classifier, error) {
	if math.IsNaN(upper) || math.IsInf(upper, 0) || math.IsNaN(lower) || math.IsInf(lower, 0) {
		return nil, fmt.Errorf("%w: thresholds must be finite", ErrInvalidThresholds)
	}
	if lower < 0 || upper < 0 {
		return nil, fmt.Errorf("%w: thresholds must be non-negative (upper=%v, lower=%v)",
			ErrInvalidThresholds, upper, lower)
	}
	if lower >= upper {
		return nil, fmt.Errorf("%w: lower %v must be below upper %v", ErrInvalidThresholds, lower, upper)
	}
	return &Classifier{upper: upper, lower: lower}, nil
}

// DefaultClassifier upper=1.0, lower=0.5
func DefaultClassifier() *Classifier {
	return &Classifier{upper: 1.0, lower: 0.5}
}

// Upper 返回上阈值
func (c *Classifier) Upper() float64 { return c.upper }

// Lower 返回下阈值
func (c *Classifier) Lower() float64 { return c.lower }

// Classify 对 z-score 样本分类
func (c *Classifier) Classify(sample spread.ZScoreSample) Signal {
	return c.ClassifyValue(sample.Value, sample.Defined)
}

// ClassifyValue 对原始 z 值分类
func (c *Classifier) ClassifyValue(z float64, defined bool) Signal {
	if !defined || math.IsNaN(z) {
		return SignalHold
	}
	switch {
	case z > c.upper:
		return SignalSell
	case z < -c.upper:
		return SignalBuy
	case math.Abs(z) < c.lower:
		return SignalClear
	default:
		return SignalHold
	}
}
